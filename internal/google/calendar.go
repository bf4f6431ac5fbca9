package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"teamcal/internal/models"
)

// CalendarClient provides a client for interacting with the Google Calendar API.
// It searches members' calendars and imports into the team calendar.
type CalendarClient struct {
	service *calendar.Service
	logger  *slog.Logger
}

// NewClient creates a new Google Calendar client. Callers normally pass
// option.WithHTTPClient with a client from HTTPClient.
func NewClient(ctx context.Context, logger *slog.Logger, opts ...option.ClientOption) (*CalendarClient, error) {
	service, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar service: %w", err)
	}
	return &CalendarClient{service: service, logger: logger}, nil
}

// Search fetches one page of events from owner's primary calendar. Recurring
// series are returned once, with their recurrence, plus any modified or
// cancelled instances as separate items.
func (c *CalendarClient) Search(ctx context.Context, owner string, q models.Query) (*models.Page, error) {
	call := c.service.Events.List(owner).
		Q(q.Text).
		TimeMin(q.TimeMin.Format(time.RFC3339)).
		TimeMax(q.TimeMax.Format(time.RFC3339)).
		ShowDeleted(q.ShowDeleted).
		Context(ctx)
	if q.UpdatedMin != nil {
		call = call.UpdatedMin(q.UpdatedMin.Format(time.RFC3339))
	}
	if q.PageToken != "" {
		call = call.PageToken(q.PageToken)
	}

	c.logger.Debug("Fetching events", "owner", owner, "query", q.Text, "pageToken", q.PageToken)
	events, err := call.Do()
	if err != nil {
		return nil, describe(owner, err)
	}

	page := &models.Page{NextPageToken: events.NextPageToken}
	for _, item := range events.Items {
		page.Items = append(page.Items, toInternalEvent(item))
	}
	return page, nil
}

// Import copies event into calendarID. The Calendar API keys imports by
// iCalUID, so importing the same UID again updates the existing copy.
func (c *CalendarClient) Import(ctx context.Context, calendarID string, event *models.Event) error {
	ge := toGoogleEvent(event)
	if ge.ICalUID == "" {
		ge.ICalUID = event.ID + "@google.com"
	}
	if _, err := c.service.Events.Import(calendarID, ge).Context(ctx).Do(); err != nil {
		return describe(calendarID, err)
	}
	c.logger.Debug("Imported event into Google Calendar", "calendarID", calendarID, "summary", event.Summary)
	return nil
}

// describe adds a hint for the API errors an operator can act on.
func describe(calendarID string, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case http.StatusNotFound, http.StatusForbidden:
			return fmt.Errorf("calendar %s is not accessible: %w", calendarID, err)
		}
	}
	return fmt.Errorf("calendar %s: %w", calendarID, err)
}

// toInternalEvent converts a Google Calendar event to the internal Event model.
func toInternalEvent(item *calendar.Event) *models.Event {
	e := &models.Event{
		ID:           item.Id,
		ICalUID:      item.ICalUID,
		Summary:      item.Summary,
		Description:  item.Description,
		Location:     item.Location,
		Status:       item.Status,
		Transparency: item.Transparency,
		Visibility:   item.Visibility,
		Updated:      item.Updated,
		Start:        toEventTime(item.Start),
		End:          toEventTime(item.End),

		Recurrence:       item.Recurrence,
		RecurringEventID: item.RecurringEventId,
	}
	if item.OriginalStartTime != nil {
		t := toEventTime(item.OriginalStartTime)
		e.OriginalStartTime = &t
	}
	if item.Organizer != nil {
		e.Organizer = &models.Organizer{Email: item.Organizer.Email, Self: item.Organizer.Self}
	}
	if item.Attendees != nil {
		e.Attendees = make([]models.Attendee, 0, len(item.Attendees))
		for _, a := range item.Attendees {
			e.Attendees = append(e.Attendees, models.Attendee{
				Email:          a.Email,
				Self:           a.Self,
				ResponseStatus: models.ResponseStatus(a.ResponseStatus),
			})
		}
	}
	return e
}

func toEventTime(t *calendar.EventDateTime) models.EventTime {
	if t == nil {
		return models.EventTime{}
	}
	return models.EventTime{DateTime: t.DateTime, Date: t.Date, TimeZone: t.TimeZone}
}

// toGoogleEvent converts an internal Event to the Calendar API representation.
// A series keeps its recurrence lines. An instance keeps its original start
// so the import attaches it to the series with the same iCalUID; the source
// RecurringEventID names an event of another calendar and is not sent.
func toGoogleEvent(e *models.Event) *calendar.Event {
	ge := &calendar.Event{
		ICalUID:      e.ICalUID,
		Summary:      e.Summary,
		Description:  e.Description,
		Location:     e.Location,
		Status:       e.Status,
		Transparency: e.Transparency,
		Visibility:   e.Visibility,
		Start:        &calendar.EventDateTime{DateTime: e.Start.DateTime, Date: e.Start.Date, TimeZone: e.Start.TimeZone},
		End:          &calendar.EventDateTime{DateTime: e.End.DateTime, Date: e.End.Date, TimeZone: e.End.TimeZone},
		Recurrence:   e.Recurrence,
	}
	if o := e.OriginalStartTime; o != nil {
		ge.OriginalStartTime = &calendar.EventDateTime{DateTime: o.DateTime, Date: o.Date, TimeZone: o.TimeZone}
	}
	if e.Organizer != nil {
		ge.Organizer = &calendar.EventOrganizer{Email: e.Organizer.Email}
	}
	for _, a := range e.Attendees {
		ge.Attendees = append(ge.Attendees, &calendar.EventAttendee{
			Email:          a.Email,
			Self:           a.Self,
			ResponseStatus: string(a.ResponseStatus),
		})
	}
	return ge
}

// DiscoverCalendars lists the calendars visible to the authenticated account.
func (c *CalendarClient) DiscoverCalendars(ctx context.Context) ([]string, error) {
	list, err := c.service.CalendarList.List().Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to list calendars: %w", err)
	}

	var calendarIDs []string
	for _, item := range list.Items {
		calendarIDs = append(calendarIDs, item.Id)
	}
	return calendarIDs, nil
}
