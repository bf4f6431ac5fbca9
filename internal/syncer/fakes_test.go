package syncer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"teamcal/internal/models"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// pagedSource serves a fixed list of pages per owner and records queries.
type pagedSource struct {
	mu      sync.Mutex
	pages   map[string][]models.Page
	fail    map[string]error
	queries []models.Query
	owners  []string
}

func (s *pagedSource) Search(ctx context.Context, owner string, q models.Query) (*models.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries = append(s.queries, q)
	s.owners = append(s.owners, owner)
	if err := s.fail[owner]; err != nil {
		return nil, err
	}
	pages := s.pages[owner]
	if len(pages) == 0 {
		return &models.Page{}, nil
	}
	idx := 0
	if q.PageToken != "" {
		for i := range pages {
			if pages[i].NextPageToken == q.PageToken {
				idx = i + 1
				break
			}
		}
	}
	p := pages[idx]
	return &p, nil
}

// singleEventSource returns the same events for every owner and keyword.
type singleEventSource struct {
	events  []*models.Event
	queries []models.Query
}

func (s *singleEventSource) Search(_ context.Context, _ string, q models.Query) (*models.Page, error) {
	s.queries = append(s.queries, q)
	return &models.Page{Items: s.events}, nil
}

type recordingTarget struct {
	mu       sync.Mutex
	imported []*models.Event
	calIDs   []string
	failOn   map[string]error
}

func (t *recordingTarget) Import(_ context.Context, calendarID string, e *models.Event) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.failOn[e.Summary]; err != nil {
		return err
	}
	t.imported = append(t.imported, e)
	t.calIDs = append(t.calIDs, calendarID)
	return nil
}

type memState struct {
	lastRun  *time.Time
	readErr  error
	writeErr error
	writes   int
	imports  map[string]string
}

func newMemState() *memState { return &memState{imports: make(map[string]string)} }

func (m *memState) LastRun(context.Context) (time.Time, bool, error) {
	if m.readErr != nil {
		return time.Time{}, false, m.readErr
	}
	if m.lastRun == nil {
		return time.Time{}, false, nil
	}
	return *m.lastRun, true, nil
}

func (m *memState) SetLastRun(_ context.Context, t time.Time) error {
	if m.writeErr != nil {
		return m.writeErr
	}
	m.writes++
	m.lastRun = &t
	return nil
}

func (m *memState) ImportedVersion(_ context.Context, owner, id string) (string, bool, error) {
	v, ok := m.imports[owner+"/"+id]
	return v, ok, nil
}

func (m *memState) RecordImport(_ context.Context, owner, id, version string) error {
	m.imports[owner+"/"+id] = version
	return nil
}

// funcSource adapts a function to Source.
type funcSource func(ctx context.Context, owner string, q models.Query) (*models.Page, error)

func (f funcSource) Search(ctx context.Context, owner string, q models.Query) (*models.Page, error) {
	return f(ctx, owner, q)
}

type failingRoster struct{}

func (failingRoster) Members(context.Context, string) ([]string, error) {
	return nil, errors.New("directory unavailable")
}

type fakeTrigger struct {
	installed bool
	spec      string
	job       func()
}

func (f *fakeTrigger) Installed() bool { return f.installed }

func (f *fakeTrigger) Install(spec string, job func()) error {
	f.installed = true
	f.spec = spec
	f.job = job
	return nil
}
