package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// fileState is the on-disk layout of a FileStore.
// Imports maps "owner/eventID" to the source version last imported.
type fileState struct {
	LastRun *time.Time        `json:"lastRun,omitempty"`
	Imports map[string]string `json:"imports"`
}

// FileStore keeps state in a single JSON file, rewritten on every change.
type FileStore struct {
	mu    sync.Mutex
	path  string
	state fileState
}

// NewFile loads the state file at path. A missing file starts fresh.
func NewFile(path string) (*FileStore, error) {
	s := &FileStore{path: path, state: fileState{Imports: make(map[string]string)}}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return s, nil
		}
		return nil, fmt.Errorf("failed to load sync state: %w", err)
	}
	if err := json.Unmarshal(data, &s.state); err != nil {
		return nil, fmt.Errorf("failed to parse sync state %s: %w", path, err)
	}
	if s.state.Imports == nil {
		s.state.Imports = make(map[string]string)
	}
	return s, nil
}

// LastRun returns the stored lastRun timestamp.
func (s *FileStore) LastRun(context.Context) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.LastRun == nil {
		return time.Time{}, false, nil
	}
	return *s.state.LastRun, true, nil
}

// SetLastRun replaces lastRun and saves the file.
func (s *FileStore) SetLastRun(_ context.Context, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.state.LastRun
	t = t.UTC()
	s.state.LastRun = &t
	if err := s.save(); err != nil {
		s.state.LastRun = prev
		return err
	}
	return nil
}

// ImportedVersion returns the version recorded for (owner, eventID).
func (s *FileStore) ImportedVersion(_ context.Context, owner, eventID string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.state.Imports[importKey(owner, eventID)]
	return v, ok, nil
}

// RecordImport stores the version imported for (owner, eventID) and saves the file.
func (s *FileStore) RecordImport(_ context.Context, owner, eventID, version string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Imports[importKey(owner, eventID)] = version
	return s.save()
}

// CountImports returns the number of entries in the import index.
func (s *FileStore) CountImports(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.state.Imports), nil
}

// Close is a no-op; every change is already on disk.
func (s *FileStore) Close() error { return nil }

// save writes the state atomically via a temp file and rename.
func (s *FileStore) save() error {
	data, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal sync state: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".teamcal-state-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write sync state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write sync state: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("failed to replace sync state: %w", err)
	}
	return nil
}

func importKey(owner, eventID string) string { return owner + "/" + eventID }
