package syncer

import (
	"testing"
	"time"
)

func TestDSTRuleInEffect(t *testing.T) {
	north := DSTRule{StartMonth: time.March, EndMonth: time.October}
	south := DSTRule{StartMonth: time.October, EndMonth: time.March}

	for m := time.January; m <= time.December; m++ {
		ref := time.Date(2026, m, 15, 12, 0, 0, 0, time.UTC)
		wantNorth := m >= time.March && m <= time.October
		if got := north.InEffect(ref); got != wantNorth {
			t.Errorf("north %v: InEffect = %v, want %v", m, got, wantNorth)
		}
		wantSouth := m >= time.October || m <= time.March
		if got := south.InEffect(ref); got != wantSouth {
			t.Errorf("south %v: InEffect = %v, want %v", m, got, wantSouth)
		}
	}
}

func TestNormalize(t *testing.T) {
	n := DefaultNormalizer
	summer := time.Date(2026, time.July, 1, 0, 0, 0, 0, time.UTC)
	winter := time.Date(2026, time.December, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		in   string
		ref  time.Time
		want string
	}{
		{"zulu in summer", "2026-08-03T09:00:00Z", summer, "2026-08-03T09:00:00-07:00"},
		{"offset in winter", "2026-08-03T09:00:00+02:00", winter, "2026-08-03T09:00:00-08:00"},
		{"fractional seconds dropped", "2026-08-03T09:00:00.500-04:00", summer, "2026-08-03T09:00:00-07:00"},
		{"bare local time", "2026-08-03T09:00:00", summer, "2026-08-03T09:00:00-07:00"},
		{"all-day date untouched", "2026-08-03", summer, "2026-08-03"},
		{"empty untouched", "", winter, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := n.Normalize(tt.in, tt.ref); got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalizeIsDeterministicAndTwoValued(t *testing.T) {
	n := Normalizer{
		Rule:           DSTRule{StartMonth: time.April, EndMonth: time.September},
		DSTOffset:      "+02:00",
		StandardOffset: "+01:00",
	}
	offsets := map[string]bool{}
	for m := time.January; m <= time.December; m++ {
		ref := time.Date(2025, m, 28, 23, 0, 0, 0, time.UTC)
		first := n.Normalize("2026-01-01T10:00:00Z", ref)
		second := n.Normalize("2026-01-01T10:00:00Z", ref)
		if first != second {
			t.Fatalf("month %v: %q != %q", m, first, second)
		}
		offsets[first[19:]] = true
	}
	if len(offsets) != 2 || !offsets["+02:00"] || !offsets["+01:00"] {
		t.Errorf("expected exactly the two configured offsets, got %v", offsets)
	}
}
