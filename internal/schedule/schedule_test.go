package schedule

import (
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

func newTestScheduler(t *testing.T) *Scheduler {
	t.Helper()
	s := New(slog.New(slog.NewTextHandler(io.Discard, nil)), time.UTC)
	t.Cleanup(s.Stop)
	return s
}

func TestInstallOnce(t *testing.T) {
	s := newTestScheduler(t)
	if s.Installed() {
		t.Fatal("new scheduler reports installed")
	}
	if err := s.Install("@hourly", func() {}); err != nil {
		t.Fatalf("Install: %v", err)
	}
	if !s.Installed() {
		t.Fatal("Installed = false after Install")
	}
	if next := s.Next(); next.IsZero() || next.Minute() != 0 {
		t.Errorf("Next = %v, want top of an hour", next)
	}
	if err := s.Install("@daily", func() {}); !errors.Is(err, ErrAlreadyInstalled) {
		t.Errorf("second Install err = %v, want ErrAlreadyInstalled", err)
	}
}

func TestInstallInvalidSpec(t *testing.T) {
	s := newTestScheduler(t)
	if err := s.Install("every tuesday", func() {}); err == nil {
		t.Fatal("expected error")
	}
	if s.Installed() {
		t.Error("failed Install left a job installed")
	}
}

func TestRemoveAllowsReinstall(t *testing.T) {
	s := newTestScheduler(t)
	if err := s.Install("@hourly", func() {}); err != nil {
		t.Fatal(err)
	}
	s.Remove()
	if s.Installed() || !s.Next().IsZero() {
		t.Fatal("job still installed after Remove")
	}
	if err := s.Install("@daily", func() {}); err != nil {
		t.Errorf("reinstall: %v", err)
	}
}

func TestJobRuns(t *testing.T) {
	s := newTestScheduler(t)
	ran := make(chan struct{}, 1)
	if err := s.Install("@every 1s", func() {
		select {
		case ran <- struct{}{}:
		default:
		}
	}); err != nil {
		t.Fatal(err)
	}
	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatal("job did not run")
	}
}

func TestPanickingJobIsRecovered(t *testing.T) {
	s := newTestScheduler(t)
	ran := make(chan struct{}, 2)
	if err := s.Install("@every 1s", func() {
		select {
		case ran <- struct{}{}:
		default:
		}
		panic("boom")
	}); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		select {
		case <-ran:
		case <-time.After(5 * time.Second):
			t.Fatalf("run %d did not happen", i+1)
		}
	}
}
