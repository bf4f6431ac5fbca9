// Package config loads the teamcal configuration from an optional YAML file
// and environment variables. Environment values override the file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/mail"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	TargetGoogle = "google"
	TargetCalDAV = "caldav"

	StateSQLite = "sqlite"
	StateFile   = "file"
)

var offsetPattern = regexp.MustCompile(`^[+-]\d{2}:\d{2}$`)

// DSTConfig describes the month-range daylight-saving approximation and the
// two fixed offsets imported events are rewritten to.
type DSTConfig struct {
	// StartMonth and EndMonth bound the DST range, inclusive (1-12).
	// A StartMonth greater than EndMonth wraps around the new year.
	StartMonth int `yaml:"start_month"`
	EndMonth   int `yaml:"end_month"`

	DSTOffset      string `yaml:"dst_offset"`
	StandardOffset string `yaml:"standard_offset"`
}

// CalDAVConfig holds the settings of a CalDAV target calendar.
type CalDAVConfig struct {
	URL          string `yaml:"url"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	CalendarName string `yaml:"calendar_name"`
}

// StateConfig selects where lastRun and the import index live.
type StateConfig struct {
	Driver string `yaml:"driver"` // sqlite or file
	Path   string `yaml:"path"`
}

// GoogleConfig selects how the Google clients authenticate.
type GoogleConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	// Account names the token-<account>.json file written by the auth command.
	Account string `yaml:"account"`
	// ServiceAccountFile, when set, takes precedence over the token file.
	ServiceAccountFile string `yaml:"service_account_file"`
	// Impersonate is the Workspace user a service account acts as.
	Impersonate string `yaml:"impersonate"`
}

// Config is the top-level application configuration.
type Config struct {
	// TargetCalendarID is the shared team calendar events are imported into.
	TargetCalendarID string `yaml:"target_calendar_id"`

	// Target is the kind of target calendar: google or caldav.
	Target string       `yaml:"target"`
	CalDAV CalDAVConfig `yaml:"caldav"`

	// Group is the directory group whose members are tracked.
	Group string `yaml:"group"`
	// Members is a static roster used instead of the directory when set.
	Members []string `yaml:"members"`

	// Keywords are matched case-insensitively, in order.
	Keywords []string `yaml:"keywords"`

	// MonthsInAdvance is the size of the search window.
	MonthsInAdvance int `yaml:"months_in_advance"`

	DST DSTConfig `yaml:"dst"`

	// Schedule is the cron spec of the periodic trigger.
	Schedule string `yaml:"schedule"`

	// CallTimeout bounds every discovery page request and import call.
	CallTimeout time.Duration `yaml:"call_timeout"`

	State  StateConfig  `yaml:"state"`
	Google GoogleConfig `yaml:"google"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Target:          TargetGoogle,
		Keywords:        []string{"vacation", "ooo", "out of office", "offline"},
		MonthsInAdvance: 3,
		DST: DSTConfig{
			StartMonth:     3,
			EndMonth:       10,
			DSTOffset:      "-07:00",
			StandardOffset: "-08:00",
		},
		Schedule:    "@hourly",
		CallTimeout: 30 * time.Second,
		State: StateConfig{
			Driver: StateSQLite,
			Path:   "teamcal.db",
		},
		Google: GoogleConfig{Account: "default"},
	}
}

// Normalize fills in missing values with defaults so that partially-filled
// configs still behave correctly.
func (c *Config) Normalize() {
	d := DefaultConfig()
	if c.Target == "" {
		c.Target = d.Target
	}
	c.Target = strings.ToLower(c.Target)
	if len(c.Keywords) == 0 {
		c.Keywords = d.Keywords
	}
	c.Keywords = cleanList(c.Keywords)
	c.Members = cleanList(c.Members)
	if c.MonthsInAdvance == 0 {
		c.MonthsInAdvance = d.MonthsInAdvance
	}
	if c.DST.StartMonth == 0 && c.DST.EndMonth == 0 {
		c.DST.StartMonth, c.DST.EndMonth = d.DST.StartMonth, d.DST.EndMonth
	}
	if c.DST.DSTOffset == "" {
		c.DST.DSTOffset = d.DST.DSTOffset
	}
	if c.DST.StandardOffset == "" {
		c.DST.StandardOffset = d.DST.StandardOffset
	}
	if c.Schedule == "" {
		c.Schedule = d.Schedule
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = d.CallTimeout
	}
	if c.State.Driver == "" {
		c.State.Driver = d.State.Driver
	}
	if c.State.Path == "" {
		c.State.Path = d.State.Path
		if c.State.Driver == StateFile {
			c.State.Path = "sync-state.json"
		}
	}
	if c.Google.Account == "" {
		c.Google.Account = d.Google.Account
	}
}

// Validate reports the first setting that would make a cycle meaningless.
func (c *Config) Validate() error {
	if c.TargetCalendarID == "" && c.Target == TargetGoogle {
		return errors.New("target_calendar_id is required")
	}
	switch c.Target {
	case TargetGoogle:
	case TargetCalDAV:
		if c.CalDAV.URL == "" || c.CalDAV.CalendarName == "" {
			return errors.New("caldav target requires url and calendar_name")
		}
		// Written as the ORGANIZER of imported events.
		if c.TargetCalendarID != "" {
			if _, err := mail.ParseAddress(c.TargetCalendarID); err != nil {
				return fmt.Errorf("target_calendar_id %q must be an email address for a caldav target", c.TargetCalendarID)
			}
		}
	default:
		return fmt.Errorf("unknown target %q", c.Target)
	}
	if c.Group == "" && len(c.Members) == 0 {
		return errors.New("either group or members must be set")
	}
	if len(c.Keywords) == 0 {
		return errors.New("at least one keyword is required")
	}
	if c.MonthsInAdvance <= 0 {
		return fmt.Errorf("months_in_advance must be positive, got %d", c.MonthsInAdvance)
	}
	if !validMonth(c.DST.StartMonth) || !validMonth(c.DST.EndMonth) {
		return fmt.Errorf("dst months must be within 1-12, got %d-%d", c.DST.StartMonth, c.DST.EndMonth)
	}
	for _, off := range []string{c.DST.DSTOffset, c.DST.StandardOffset} {
		if !offsetPattern.MatchString(off) {
			return fmt.Errorf("invalid utc offset %q, want ±HH:MM", off)
		}
	}
	switch c.State.Driver {
	case StateSQLite, StateFile:
	default:
		return fmt.Errorf("unknown state driver %q", c.State.Driver)
	}
	return nil
}

// Load reads the YAML file at path (a missing file is not an error), applies
// environment overrides, normalizes and validates the result.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	if err := cfg.applyEnv(os.Getenv); err != nil {
		return nil, err
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	setString := func(dst *string, key string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	setString(&c.TargetCalendarID, "TEAMCAL_TARGET_CALENDAR_ID")
	setString(&c.Target, "TEAMCAL_TARGET")
	setString(&c.Group, "TEAMCAL_GROUP")
	setString(&c.Schedule, "TEAMCAL_SCHEDULE")
	setString(&c.State.Driver, "TEAMCAL_STATE_DRIVER")
	setString(&c.State.Path, "TEAMCAL_STATE_PATH")
	setString(&c.CalDAV.URL, "CALDAV_URL")
	setString(&c.CalDAV.Username, "CALDAV_USERNAME")
	setString(&c.CalDAV.Password, "CALDAV_PASSWORD")
	setString(&c.CalDAV.CalendarName, "CALDAV_CALENDAR_NAME")
	setString(&c.Google.ClientID, "GOOGLE_CLIENT_ID")
	setString(&c.Google.ClientSecret, "GOOGLE_CLIENT_SECRET")
	setString(&c.Google.Account, "GOOGLE_ACCOUNT")
	setString(&c.Google.ServiceAccountFile, "GOOGLE_SERVICE_ACCOUNT_FILE")
	setString(&c.Google.Impersonate, "GOOGLE_IMPERSONATE")

	if v := getenv("TEAMCAL_MEMBERS"); v != "" {
		c.Members = strings.Split(v, ",")
	}
	if v := getenv("TEAMCAL_KEYWORDS"); v != "" {
		c.Keywords = strings.Split(v, ",")
	}
	if v := getenv("TEAMCAL_MONTHS_IN_ADVANCE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("TEAMCAL_MONTHS_IN_ADVANCE must be a number: %w", err)
		}
		c.MonthsInAdvance = n
	}
	if v := getenv("TEAMCAL_CALL_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("TEAMCAL_CALL_TIMEOUT must be a duration: %w", err)
		}
		c.CallTimeout = d
	}
	return nil
}

// DSTMonths returns the configured DST range as time.Month values.
func (c *Config) DSTMonths() (time.Month, time.Month) {
	return time.Month(c.DST.StartMonth), time.Month(c.DST.EndMonth)
}

func validMonth(m int) bool { return m >= 1 && m <= 12 }

// cleanList trims entries and drops empty ones, keeping order.
func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
