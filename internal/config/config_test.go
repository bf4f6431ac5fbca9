package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "teamcal.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
target_calendar_id: team@group.calendar.google.com
group: eng@example.com
keywords: [" Vacation ", "PTO", ""]
months_in_advance: 6
dst:
  start_month: 4
  end_month: 9
  dst_offset: "+02:00"
  standard_offset: "+01:00"
call_timeout: 10s
state:
  driver: file
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.TargetCalendarID != "team@group.calendar.google.com" {
		t.Errorf("TargetCalendarID = %q", cfg.TargetCalendarID)
	}
	if len(cfg.Keywords) != 2 || cfg.Keywords[0] != "Vacation" || cfg.Keywords[1] != "PTO" {
		t.Errorf("Keywords = %q, want [Vacation PTO]", cfg.Keywords)
	}
	if cfg.MonthsInAdvance != 6 {
		t.Errorf("MonthsInAdvance = %d, want 6", cfg.MonthsInAdvance)
	}
	start, end := cfg.DSTMonths()
	if start != time.April || end != time.September {
		t.Errorf("DSTMonths = %v-%v, want April-September", start, end)
	}
	if cfg.CallTimeout != 10*time.Second {
		t.Errorf("CallTimeout = %v, want 10s", cfg.CallTimeout)
	}
	if cfg.State.Path != "sync-state.json" {
		t.Errorf("file driver should default to sync-state.json, got %q", cfg.State.Path)
	}
	if cfg.Schedule != "@hourly" {
		t.Errorf("Schedule = %q, want @hourly", cfg.Schedule)
	}
}

func TestLoadMissingFileUsesDefaultsAndEnv(t *testing.T) {
	t.Setenv("TEAMCAL_TARGET_CALENDAR_ID", "team@example.com")
	t.Setenv("TEAMCAL_MEMBERS", "a@x.com, b@x.com")
	t.Setenv("TEAMCAL_MONTHS_IN_ADVANCE", "2")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Members) != 2 || cfg.Members[1] != "b@x.com" {
		t.Errorf("Members = %q", cfg.Members)
	}
	if cfg.MonthsInAdvance != 2 {
		t.Errorf("MonthsInAdvance = %d, want 2", cfg.MonthsInAdvance)
	}
	if len(cfg.Keywords) != 4 {
		t.Errorf("expected default keywords, got %q", cfg.Keywords)
	}
	if cfg.State.Driver != StateSQLite || cfg.State.Path != "teamcal.db" {
		t.Errorf("unexpected state defaults: %+v", cfg.State)
	}
}

func TestLoadBadEnvNumber(t *testing.T) {
	t.Setenv("TEAMCAL_TARGET_CALENDAR_ID", "team@example.com")
	t.Setenv("TEAMCAL_MEMBERS", "a@x.com")
	t.Setenv("TEAMCAL_MONTHS_IN_ADVANCE", "three")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for non-numeric months")
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		c := DefaultConfig()
		c.TargetCalendarID = "team@example.com"
		c.Group = "eng@example.com"
		return c
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"static roster", func(c *Config) { c.Group = ""; c.Members = []string{"a@x.com"} }, false},
		{"no target", func(c *Config) { c.TargetCalendarID = "" }, true},
		{"no roster", func(c *Config) { c.Group = "" }, true},
		{"no keywords", func(c *Config) { c.Keywords = nil }, true},
		{"negative window", func(c *Config) { c.MonthsInAdvance = -1 }, true},
		{"bad month", func(c *Config) { c.DST.EndMonth = 13 }, true},
		{"bad offset", func(c *Config) { c.DST.DSTOffset = "PDT" }, true},
		{"unknown target", func(c *Config) { c.Target = "outlook" }, true},
		{"caldav without url", func(c *Config) { c.Target = TargetCalDAV }, true},
		{"caldav", func(c *Config) {
			c.Target = TargetCalDAV
			c.TargetCalendarID = ""
			c.CalDAV = CalDAVConfig{URL: "https://dav.example.com/", CalendarName: "Team"}
		}, false},
		{"caldav with organizer address", func(c *Config) {
			c.Target = TargetCalDAV
			c.CalDAV = CalDAVConfig{URL: "https://dav.example.com/", CalendarName: "Team"}
		}, false},
		{"caldav with organizer name", func(c *Config) {
			c.Target = TargetCalDAV
			c.TargetCalendarID = "Team Calendar"
			c.CalDAV = CalDAVConfig{URL: "https://dav.example.com/", CalendarName: "Team"}
		}, true},
		{"unknown state driver", func(c *Config) { c.State.Driver = "redis" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
