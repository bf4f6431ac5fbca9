package models

import (
	"strings"
	"time"
)

// ResponseStatus is an attendee's answer to an invitation.
type ResponseStatus string

const (
	NeedsAction ResponseStatus = "needsAction"
	Declined    ResponseStatus = "declined"
	Tentative   ResponseStatus = "tentative"
	Accepted    ResponseStatus = "accepted"
)

// EventTime is the start or end of an event as the provider reported it.
// Timed events carry DateTime (RFC3339 text), all-day events carry Date.
type EventTime struct {
	DateTime string
	Date     string
	TimeZone string
}

// Organizer identifies who created an event.
type Organizer struct {
	Email string
	Self  bool // true when the calendar owner is the organizer
}

// Attendee is one entry of an event's guest list.
type Attendee struct {
	Email          string
	Self           bool // true for the entry describing the calendar owner
	ResponseStatus ResponseStatus
}

// Event represents a calendar event.
// This is an internal representation, independent of any specific calendar provider.
type Event struct {
	ID           string     // Identifier in the source calendar
	ICalUID      string     // The iCalendar UID, used as the import key
	Summary      string     // Title of the event
	Description  string     // Detailed description of the event
	Location     string     // Location of the event
	Status       string     // confirmed, tentative or cancelled
	Transparency string     // opaque or transparent
	Visibility   string     // default, public, private or confidential
	Updated      string     // Last modification time as reported by the source
	Start        EventTime  // Start of the event
	End          EventTime  // End of the event
	Organizer    *Organizer // nil when the source recorded no organizer
	Attendees    []Attendee // nil when the source recorded no guest list

	// Recurrence holds the RRULE, EXRULE, RDATE and EXDATE lines of a
	// recurring series, as RFC 5545 content lines.
	Recurrence []string
	// RecurringEventID and OriginalStartTime are set on a modified or
	// cancelled instance of a series.
	RecurringEventID  string
	OriginalStartTime *EventTime
}

// IsInstance reports whether the event overrides one occurrence of a series.
func (e *Event) IsInstance() bool {
	return e.RecurringEventID != "" || e.OriginalStartTime != nil
}

// Clone returns a deep copy of the event so the caller can mutate it without
// touching the source copy.
func (e *Event) Clone() *Event {
	c := *e
	if e.Organizer != nil {
		o := *e.Organizer
		c.Organizer = &o
	}
	if e.Attendees != nil {
		c.Attendees = make([]Attendee, len(e.Attendees))
		copy(c.Attendees, e.Attendees)
	}
	if e.Recurrence != nil {
		c.Recurrence = append([]string(nil), e.Recurrence...)
	}
	if e.OriginalStartTime != nil {
		t := *e.OriginalStartTime
		c.OriginalStartTime = &t
	}
	return &c
}

// SelfAttendee returns the attendee entry flagged as the calendar owner.
func (e *Event) SelfAttendee() (Attendee, bool) {
	for _, a := range e.Attendees {
		if a.Self {
			return a, true
		}
	}
	return Attendee{}, false
}

// Query describes one page request against a person's calendar.
type Query struct {
	Text        string
	TimeMin     time.Time
	TimeMax     time.Time
	ShowDeleted bool
	UpdatedMin  *time.Time // nil disables the modification filter
	PageToken   string
}

// Page is one page of search results.
type Page struct {
	Items         []*Event
	NextPageToken string
}

// Username returns the local part of an email address.
func Username(identity string) string {
	if i := strings.Index(identity, "@"); i >= 0 {
		return identity[:i]
	}
	return identity
}
