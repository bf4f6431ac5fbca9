package syncer

import "time"

// localDateTimeLen is the length of "2006-01-02T15:04:05", the part of an
// RFC3339 timestamp that precedes fractional seconds and the zone suffix.
const localDateTimeLen = 19

// DSTRule approximates daylight-saving time by calendar month. Months from
// StartMonth through EndMonth (inclusive) are treated as DST. A StartMonth
// after EndMonth wraps around the new year.
type DSTRule struct {
	StartMonth time.Month
	EndMonth   time.Month
}

// InEffect reports whether ref's month falls inside the DST range.
func (r DSTRule) InEffect(ref time.Time) bool {
	m := ref.Month()
	if r.StartMonth <= r.EndMonth {
		return m >= r.StartMonth && m <= r.EndMonth
	}
	return m >= r.StartMonth || m <= r.EndMonth
}

// Normalizer rewrites timestamps into one of two fixed UTC offsets.
type Normalizer struct {
	Rule           DSTRule
	DSTOffset      string
	StandardOffset string
}

// DefaultNormalizer treats March through October as DST, with US Pacific offsets.
var DefaultNormalizer = Normalizer{
	Rule:           DSTRule{StartMonth: time.March, EndMonth: time.October},
	DSTOffset:      "-07:00",
	StandardOffset: "-08:00",
}

// Offset returns the offset selected for ref.
func (n Normalizer) Offset(ref time.Time) string {
	if n.Rule.InEffect(ref) {
		return n.DSTOffset
	}
	return n.StandardOffset
}

// Normalize keeps the local date and time of text and replaces whatever
// offset or zone it carried with the offset selected for ref. Values too
// short to hold a date and time, such as all-day dates, are returned as is.
func (n Normalizer) Normalize(text string, ref time.Time) string {
	if len(text) < localDateTimeLen {
		return text
	}
	return text[:localDateTimeLen] + n.Offset(ref)
}
