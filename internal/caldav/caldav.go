// Package caldav writes imported events into a calendar on any CalDAV
// server (iCloud, Fastmail, Nextcloud, ...).
package caldav

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/mail"
	"path"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav/caldav"
	"github.com/google/uuid"
	"github.com/teambition/rrule-go"

	"teamcal/internal/models"
)

const (
	productID         = "-//teamcal//EN"
	propTransp        = "TRANSP"
	propRecurrenceID  = "RECURRENCE-ID"
	propExceptionRule = "EXRULE"
	paramValue        = "VALUE"
	localDateTime     = "20060102T150405"
)

// authTransport adds Basic Auth and a User-Agent to each request.
type authTransport struct {
	Username  string
	Password  string
	Transport http.RoundTripper
}

// RoundTrip adds required headers and authentication to each request.
func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.SetBasicAuth(t.Username, t.Password)
	req.Header.Set("User-Agent", "teamcal/1.0")
	return t.Transport.RoundTrip(req)
}

// Client imports events into one calendar of a CalDAV server.
type Client struct {
	caldavClient *caldav.Client
	logger       *slog.Logger
	calendarPath string
}

// NewClient connects to endpoint and locates the calendar named calendarName.
func NewClient(ctx context.Context, logger *slog.Logger, endpoint, username, password, calendarName string) (*Client, error) {
	httpClient := &http.Client{
		Transport: &authTransport{
			Username:  username,
			Password:  password,
			Transport: http.DefaultTransport,
		},
		Timeout: 60 * time.Second,
	}

	caldavClient, err := caldav.NewClient(httpClient, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create caldav client: %w", err)
	}
	c := &Client{caldavClient: caldavClient, logger: logger}

	logger.Info("Finding CalDAV calendar", "calendarName", calendarName)
	calendarPath, err := c.findCalendar(ctx, calendarName)
	if err != nil {
		return nil, fmt.Errorf("could not find calendar '%s': %w", calendarName, err)
	}
	c.calendarPath = calendarPath
	logger.Info("Successfully found CalDAV calendar", "path", calendarPath)
	return c, nil
}

// Import writes the event into the object derived from its UID. A series
// replaces the object's main component, an instance replaces or adds the
// override for its occurrence, and the other components are kept.
// organizer is written as the event's ORGANIZER when it is an address.
func (c *Client) Import(ctx context.Context, organizer string, event *models.Event) error {
	uid := eventUID(event)
	vevent, err := toICal(event, uid, organizer, time.Now())
	if err != nil {
		return fmt.Errorf("failed to convert event to iCal: %w", err)
	}

	objectPath := objectPath(c.calendarPath, uid)
	var existing *ical.Calendar
	if obj, err := c.caldavClient.GetCalendarObject(ctx, objectPath); err == nil {
		existing = obj.Data
	} else {
		c.logger.Debug("No existing CalDAV object, creating it", "path", objectPath, "error", err)
	}

	cal := mergeEvent(existing, vevent)
	if _, err := c.caldavClient.PutCalendarObject(ctx, objectPath, cal); err != nil {
		return fmt.Errorf("failed to put event on CalDAV server: %w", err)
	}
	c.logger.Debug("Successfully synced event to CalDAV", "summary", event.Summary, "path", objectPath)
	return nil
}

// findCalendar discovers the user's calendars and returns the path of the one
// with the matching name.
func (c *Client) findCalendar(ctx context.Context, name string) (string, error) {
	principalPath, err := c.caldavClient.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to find principal path: %w", err)
	}

	homeSetPath, err := c.caldavClient.FindCalendarHomeSet(ctx, principalPath)
	if err != nil {
		return "", fmt.Errorf("failed to find calendar home set: %w", err)
	}

	calendars, err := c.caldavClient.FindCalendars(ctx, homeSetPath)
	if err != nil {
		return "", fmt.Errorf("failed to find calendars: %w", err)
	}

	for _, cal := range calendars {
		if cal.Name == name {
			return cal.Path, nil
		}
	}
	return "", fmt.Errorf("no calendar found with name '%s'", name)
}

// eventUID returns the UID the object is stored under: the source iCalUID,
// else the source ID, else a random one.
func eventUID(event *models.Event) string {
	switch {
	case event.ICalUID != "":
		return event.ICalUID
	case event.ID != "":
		return event.ID
	default:
		return GenerateUID()
	}
}

// objectPath maps a UID to a stable, URL-safe object name in the calendar.
func objectPath(calendarPath, uid string) string {
	name := uuid.NewSHA1(uuid.NameSpaceURL, []byte(uid)).String() + ".ics"
	return path.Join(calendarPath, name)
}

func newCalendar() *ical.Calendar {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, productID)
	return cal
}

// mergeEvent returns a calendar holding vevent and every component of
// existing except the VEVENT for the same occurrence.
func mergeEvent(existing *ical.Calendar, vevent *ical.Component) *ical.Calendar {
	cal := newCalendar()
	key := occurrenceKey(vevent)
	if existing != nil {
		for _, child := range existing.Children {
			if child.Name == ical.CompEvent && occurrenceKey(child) == key {
				continue
			}
			cal.Children = append(cal.Children, child)
		}
	}
	cal.Children = append(cal.Children, vevent)
	return cal
}

// occurrenceKey is the RECURRENCE-ID of an override, empty for a series or
// a single event.
func occurrenceKey(ve *ical.Component) string {
	if p := ve.Props.Get(propRecurrenceID); p != nil {
		return p.Value
	}
	return ""
}

// toICal converts an internal Event to a VEVENT component. Timed events are
// written in UTC.
func toICal(event *models.Event, uid, organizer string, stamp time.Time) (*ical.Component, error) {
	ve := ical.NewComponent(ical.CompEvent)
	ve.Props.SetText(ical.PropUID, uid)
	ve.Props.SetText(ical.PropSummary, event.Summary)
	ve.Props.SetDateTime(ical.PropDateTimeStamp, stamp.UTC())

	// Cancelled instances only carry the occurrence they cancel.
	start := event.Start
	if start == (models.EventTime{}) && event.OriginalStartTime != nil {
		start = *event.OriginalStartTime
	}
	if err := setTime(ve, ical.PropDateTimeStart, start); err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}
	if event.End != (models.EventTime{}) || !event.IsInstance() {
		if err := setTime(ve, ical.PropDateTimeEnd, event.End); err != nil {
			return nil, fmt.Errorf("end: %w", err)
		}
	}
	if event.OriginalStartTime != nil {
		if err := setTime(ve, propRecurrenceID, *event.OriginalStartTime); err != nil {
			return nil, fmt.Errorf("original start: %w", err)
		}
	}
	for _, line := range event.Recurrence {
		p, err := recurrenceProp(line, start)
		if err != nil {
			return nil, fmt.Errorf("recurrence %q: %w", line, err)
		}
		ve.Props.Add(p)
	}

	if event.Description != "" {
		ve.Props.SetText(ical.PropDescription, event.Description)
	}
	if event.Location != "" {
		ve.Props.SetText(ical.PropLocation, event.Location)
	}
	if event.Status != "" {
		ve.Props.SetText(ical.PropStatus, strings.ToUpper(event.Status))
	}
	if event.Transparency != "" {
		ve.Props.SetText(propTransp, strings.ToUpper(event.Transparency))
	}
	if addr, err := mail.ParseAddress(organizer); err == nil {
		p := ical.NewProp(ical.PropOrganizer)
		p.Value = "mailto:" + addr.Address
		ve.Props.Add(p)
	}
	return ve, nil
}

// recurrenceProp parses one RRULE, EXRULE, RDATE or EXDATE content line.
// Rules are checked with rrule. Local date-times in RDATE and EXDATE keep
// their wall-clock time under the offset of start, as DTSTART does.
func recurrenceProp(line string, start models.EventTime) (*ical.Prop, error) {
	head, value, ok := strings.Cut(line, ":")
	if !ok {
		return nil, errors.New("missing value")
	}
	parts := strings.Split(head, ";")
	name := strings.ToUpper(parts[0])

	p := ical.NewProp(name)
	for _, param := range parts[1:] {
		k, v, ok := strings.Cut(param, "=")
		if !ok {
			return nil, fmt.Errorf("malformed parameter %q", param)
		}
		p.Params.Set(strings.ToUpper(k), v)
	}

	switch name {
	case ical.PropRecurrenceRule, propExceptionRule:
		if _, err := rrule.StrToRRule(value); err != nil {
			return nil, err
		}
		p.Value = value
	case ical.PropRecurrenceDates, ical.PropExceptionDates:
		aligned, err := alignDates(value, p.Params.Get(paramValue), start)
		if err != nil {
			return nil, err
		}
		if aligned != value {
			delete(p.Params, ical.ParamTimezoneID)
		}
		p.Value = aligned
	default:
		return nil, fmt.Errorf("unsupported property %s", name)
	}
	return p, nil
}

// alignDates rewrites a comma-separated list of local date-times to UTC using
// the offset of the series start. UTC values and dates are left as is.
func alignDates(value, valueType string, start models.EventTime) (string, error) {
	if strings.EqualFold(valueType, "DATE") || start.DateTime == "" {
		return value, nil
	}
	ref, err := time.Parse(time.RFC3339, start.DateTime)
	if err != nil {
		return "", err
	}
	dates := strings.Split(value, ",")
	for i, d := range dates {
		if strings.HasSuffix(d, "Z") {
			continue
		}
		t, err := time.ParseInLocation(localDateTime, d, ref.Location())
		if err != nil {
			return "", err
		}
		dates[i] = t.UTC().Format(localDateTime + "Z")
	}
	return strings.Join(dates, ","), nil
}

func setTime(ve *ical.Component, name string, t models.EventTime) error {
	switch {
	case t.DateTime != "":
		parsed, err := time.Parse(time.RFC3339, t.DateTime)
		if err != nil {
			return err
		}
		ve.Props.SetDateTime(name, parsed.UTC())
	case t.Date != "":
		parsed, err := time.Parse(time.DateOnly, t.Date)
		if err != nil {
			return err
		}
		ve.Props.SetDate(name, parsed)
	default:
		return fmt.Errorf("%s has no value", name)
	}
	return nil
}

// GenerateUID creates a new unique identifier for an event.
func GenerateUID() string {
	return uuid.New().String()
}
