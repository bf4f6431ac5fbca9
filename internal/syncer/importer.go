package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"teamcal/internal/models"
)

var uidNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("teamcal"))

// TeamUID derives the UID of identity's copy of the source event uid. Two
// members accepting the same invitation get two copies; the same member's
// event always maps to the same copy. Empty uid stays empty.
func TeamUID(identity, uid string) string {
	if uid == "" {
		return ""
	}
	return uuid.NewSHA1(uidNamespace, []byte(identity+"/"+uid)).String() + "@teamcal"
}

// Target writes events into the shared calendar. Implementations upsert by
// the event's iCalendar UID.
type Target interface {
	Import(ctx context.Context, calendarID string, event *models.Event) error
}

// ImportResult is the outcome of importing one event.
type ImportResult struct {
	Event *models.Event // the transformed copy sent to the target
	Err   error
}

// Imported reports whether the event reached the target calendar.
func (r ImportResult) Imported() bool { return r.Err == nil }

// Importer copies accepted events into the target calendar.
type Importer struct {
	target     Target
	calendarID string
	normalizer Normalizer
	logger     *slog.Logger
	timeout    time.Duration
	dryRun     bool
	now        func() time.Time
}

// NewImporter creates an Importer writing to calendarID through target.
func NewImporter(logger *slog.Logger, target Target, calendarID string, normalizer Normalizer, timeout time.Duration, dryRun bool) *Importer {
	return &Importer{
		target:     target,
		calendarID: calendarID,
		normalizer: normalizer,
		logger:     logger,
		timeout:    timeout,
		dryRun:     dryRun,
		now:        time.Now,
	}
}

// Import transforms a copy of event for identity and writes it to the
// target calendar. Failures are logged and returned in the result.
func (im *Importer) Import(ctx context.Context, identity string, event *models.Event) ImportResult {
	out := im.transform(identity, event)
	res := ImportResult{Event: out}

	if im.dryRun {
		im.logger.Info("[DRY RUN] Would import event", "summary", out.Summary, "start", out.Start.DateTime, "end", out.End.DateTime)
		return res
	}

	im.logger.Info("Importing event", "summary", out.Summary, "uid", out.ICalUID)
	if im.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, im.timeout)
		defer cancel()
	}
	if err := im.target.Import(ctx, im.calendarID, out); err != nil {
		res.Err = fmt.Errorf("import %q: %w", out.Summary, err)
		im.logger.Error("Error attempting to import event, skipping", "summary", out.Summary, "error", err)
	}
	return res
}

// transform builds the target calendar's copy: the summary is prefixed with
// the owner's username, the UID is qualified by the owner, the target
// calendar becomes the organizer, guests are dropped and every timestamp is
// rewritten to the fixed offset for now.
func (im *Importer) transform(identity string, event *models.Event) *models.Event {
	out := event.Clone()
	out.Summary = "[" + models.Username(identity) + "] " + event.Summary
	out.Organizer = &models.Organizer{Email: im.calendarID}
	out.Attendees = nil

	uid := event.ICalUID
	if uid == "" {
		uid = event.ID
	}
	out.ICalUID = TeamUID(identity, uid)

	now := im.now()
	out.Start.DateTime = im.normalizer.Normalize(event.Start.DateTime, now)
	out.End.DateTime = im.normalizer.Normalize(event.End.DateTime, now)
	if out.OriginalStartTime != nil {
		out.OriginalStartTime.DateTime = im.normalizer.Normalize(out.OriginalStartTime.DateTime, now)
	}
	return out
}
