package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"teamcal/internal/models"
)

var (
	// ErrCycleInProgress is returned when Sync is called while a cycle runs.
	ErrCycleInProgress = errors.New("sync cycle already in progress")

	// ErrTriggerInstalled is returned by Setup when a trigger already exists.
	ErrTriggerInstalled = errors.New("trigger is already installed")

	// ErrRosterUnavailable wraps membership failures, which abort the cycle.
	ErrRosterUnavailable = errors.New("roster unavailable")
)

// MembershipProvider resolves the identities tracked for a group.
type MembershipProvider interface {
	Members(ctx context.Context, group string) ([]string, error)
}

// StaticRoster is a MembershipProvider with a fixed member list.
type StaticRoster []string

// Members returns the roster regardless of group.
func (r StaticRoster) Members(context.Context, string) ([]string, error) {
	return append([]string(nil), r...), nil
}

// StateStore persists lastRun and the index of imported events.
type StateStore interface {
	LastRun(ctx context.Context) (time.Time, bool, error)
	SetLastRun(ctx context.Context, t time.Time) error
	ImportedVersion(ctx context.Context, owner, eventID string) (string, bool, error)
	RecordImport(ctx context.Context, owner, eventID, version string) error
}

// Trigger installs the periodic invocation of a cycle.
type Trigger interface {
	Installed() bool
	Install(spec string, job func()) error
}

// Options configures a Syncer.
type Options struct {
	Group            string
	Keywords         []string
	MonthsInAdvance  int
	TargetCalendarID string
	Normalizer       Normalizer
	CallTimeout      time.Duration
	DryRun           bool
}

// Failure records one absorbed per-pair or per-event error.
type Failure struct {
	Identity string
	Keyword  string
	EventID  string // empty for discovery failures
	Err      error
}

// Report summarizes one cycle.
type Report struct {
	CycleID    string
	Start      time.Time
	WindowEnd  time.Time
	Since      *time.Time
	Members    int
	Pairs      int
	Discovered int
	Accepted   int
	Imported   int
	Unchanged  int // accepted but already imported at the same version
	Skipped    int // accepted but the import failed
	Failures   []Failure
	Committed  bool
	Duration   time.Duration
}

// Syncer orchestrates the aggregation of personal out-of-office events into
// the team calendar.
type Syncer struct {
	logger     *slog.Logger
	members    MembershipProvider
	discoverer *Discoverer
	importer   *Importer
	state      StateStore
	opts       Options
	now        func() time.Time
	running    atomic.Bool
}

// NewSyncer creates a new Syncer.
func NewSyncer(logger *slog.Logger, members MembershipProvider, source Source, target Target, state StateStore, opts Options) (*Syncer, error) {
	if len(opts.Keywords) == 0 {
		return nil, errors.New("no keywords configured")
	}
	if opts.MonthsInAdvance <= 0 {
		return nil, fmt.Errorf("months in advance must be positive, got %d", opts.MonthsInAdvance)
	}
	if opts.TargetCalendarID == "" {
		return nil, errors.New("no target calendar configured")
	}
	if opts.Normalizer == (Normalizer{}) {
		opts.Normalizer = DefaultNormalizer
	}

	s := &Syncer{
		logger:     logger,
		members:    members,
		discoverer: NewDiscoverer(logger, source, opts.CallTimeout),
		importer:   NewImporter(logger, target, opts.TargetCalendarID, opts.Normalizer, opts.CallTimeout, opts.DryRun),
		state:      state,
		opts:       opts,
		now:        time.Now,
	}
	s.importer.now = func() time.Time { return s.now() }
	return s, nil
}

// Sync performs a full synchronization cycle. Per-pair and per-event
// failures are absorbed into the report; an error is returned only when
// the cycle aborted before committing lastRun.
func (s *Syncer) Sync(ctx context.Context) (*Report, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrCycleInProgress
	}
	defer s.running.Store(false)

	start := s.now()
	report := &Report{
		CycleID:   uuid.NewString(),
		Start:     start,
		WindowEnd: start.AddDate(0, s.opts.MonthsInAdvance, 0),
	}
	logger := s.logger.With("cycle", report.CycleID)
	defer func() { report.Duration = s.now().Sub(start) }()

	lastRun, ok, err := s.state.LastRun(ctx)
	if err != nil {
		return report, fmt.Errorf("failed to read last run: %w", err)
	}
	if ok {
		report.Since = &lastRun
	}
	logger.Info("Starting sync cycle.", "windowEnd", report.WindowEnd, "since", lastRun, "incremental", ok)

	members, err := s.members.Members(ctx, s.opts.Group)
	if err != nil {
		logger.Error("Could not resolve roster, aborting cycle", "group", s.opts.Group, "error", err)
		return report, fmt.Errorf("%w: %w", ErrRosterUnavailable, err)
	}
	roster := normalizeRoster(members)
	report.Members = len(roster)

	for _, identity := range roster {
		for _, keyword := range s.opts.Keywords {
			s.syncPair(ctx, logger, report, identity, keyword)
		}
	}

	if s.opts.DryRun {
		logger.Info("[DRY RUN] Not advancing last run.", "imported", report.Imported)
		return report, nil
	}
	if err := s.state.SetLastRun(ctx, start); err != nil {
		return report, fmt.Errorf("failed to save last run: %w", err)
	}
	report.Committed = true

	logger.Info(fmt.Sprintf("%d events imported", report.Imported),
		"members", report.Members,
		"accepted", report.Accepted,
		"unchanged", report.Unchanged,
		"skipped", report.Skipped,
		"failures", len(report.Failures),
	)
	return report, nil
}

// syncPair runs discover, filter and import for one (identity, keyword) pair.
func (s *Syncer) syncPair(ctx context.Context, logger *slog.Logger, report *Report, identity, keyword string) {
	report.Pairs++
	res := s.discoverer.Discover(ctx, identity, keyword, report.Start, report.WindowEnd, report.Since)
	if res.Err != nil {
		report.Failures = append(report.Failures, Failure{Identity: identity, Keyword: keyword, Err: res.Err})
		return
	}
	report.Discovered += len(res.Events)

	for _, event := range res.Events {
		ok, reason := Decide(identity, keyword, event)
		if !ok {
			logger.Debug("Event filtered out", "identity", identity, "summary", event.Summary, "reason", reason)
			continue
		}
		report.Accepted++

		if s.alreadyImported(ctx, logger, identity, event) {
			report.Unchanged++
			continue
		}

		r := s.importer.Import(ctx, identity, event)
		if !r.Imported() {
			report.Skipped++
			report.Failures = append(report.Failures, Failure{Identity: identity, Keyword: keyword, EventID: event.ID, Err: r.Err})
			continue
		}
		report.Imported++
		s.recordImport(ctx, logger, identity, event)
	}
}

// alreadyImported reports whether event was imported at its current version.
// Events without an ID or version are always imported.
func (s *Syncer) alreadyImported(ctx context.Context, logger *slog.Logger, identity string, event *models.Event) bool {
	if event.ID == "" || event.Updated == "" {
		return false
	}
	version, ok, err := s.state.ImportedVersion(ctx, identity, event.ID)
	if err != nil {
		logger.Warn("Could not read import index, importing anyway", "identity", identity, "eventID", event.ID, "error", err)
		return false
	}
	if ok && version == event.Updated {
		logger.Debug("Event already imported, skipping.", "identity", identity, "summary", event.Summary, "id", event.ID)
		return true
	}
	return false
}

func (s *Syncer) recordImport(ctx context.Context, logger *slog.Logger, identity string, event *models.Event) {
	if s.opts.DryRun || event.ID == "" || event.Updated == "" {
		return
	}
	if err := s.state.RecordImport(ctx, identity, event.ID, event.Updated); err != nil {
		logger.Warn("Could not record import", "identity", identity, "eventID", event.ID, "error", err)
	}
}

// Setup installs the periodic trigger and runs a first cycle. It fails with
// ErrTriggerInstalled instead of installing a second trigger.
func (s *Syncer) Setup(ctx context.Context, trigger Trigger, spec string) (*Report, error) {
	if trigger.Installed() {
		return nil, ErrTriggerInstalled
	}
	if err := trigger.Install(spec, func() { s.RunScheduled(ctx) }); err != nil {
		return nil, fmt.Errorf("failed to install trigger: %w", err)
	}
	s.logger.Info("Installed sync trigger.", "schedule", spec)
	return s.Sync(ctx)
}

// RunScheduled runs one cycle and logs its outcome, for use as a trigger job.
func (s *Syncer) RunScheduled(ctx context.Context) {
	if _, err := s.Sync(ctx); err != nil {
		s.logger.Error("Sync cycle failed", "error", err)
	}
}

// normalizeRoster lowercases identities and drops blanks and duplicates,
// keeping the provider's order.
func normalizeRoster(members []string) []string {
	seen := make(map[string]bool, len(members))
	out := make([]string, 0, len(members))
	for _, m := range members {
		m = strings.ToLower(strings.TrimSpace(m))
		if m == "" || seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	return out
}
