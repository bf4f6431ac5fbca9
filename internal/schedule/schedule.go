// Package schedule runs the sync cycle on a cron schedule.
package schedule

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrAlreadyInstalled is returned by Install when a job is already scheduled.
var ErrAlreadyInstalled = errors.New("a scheduled job is already installed")

// Scheduler holds at most one periodic job.
type Scheduler struct {
	mu     sync.Mutex
	cron   *cron.Cron
	logger *slog.Logger
	entry  cron.EntryID
}

// New creates a scheduler evaluating specs in loc. Overlapping runs of the
// job are skipped.
func New(logger *slog.Logger, loc *time.Location) *Scheduler {
	if loc == nil {
		loc = time.Local
	}
	cl := cronLogger{logger: logger}
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		logger: logger,
	}
}

// Installed reports whether a job is scheduled.
func (s *Scheduler) Installed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entry != 0
}

// Install schedules job on spec and starts the scheduler.
func (s *Scheduler) Install(spec string, job func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entry != 0 {
		return ErrAlreadyInstalled
	}
	id, err := s.cron.AddFunc(spec, job)
	if err != nil {
		return fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	s.entry = id
	s.cron.Start()
	s.logger.Info("Scheduled job installed", "schedule", spec, "next", s.cron.Entry(id).Next)
	return nil
}

// Remove unschedules the job, if any.
func (s *Scheduler) Remove() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entry == 0 {
		return
	}
	s.cron.Remove(s.entry)
	s.entry = 0
}

// Next returns the next activation time, or the zero time when nothing is
// scheduled.
func (s *Scheduler) Next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entry == 0 {
		return time.Time{}
	}
	return s.cron.Entry(s.entry).Next
}

// Stop halts the scheduler and waits for a running job to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("Scheduler stopped")
}

// cronLogger routes cron's logging through slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append([]interface{}{"error", err}, keysAndValues...)...)
}
