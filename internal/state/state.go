// Package state persists what must survive between sync cycles: the start
// time of the last committed cycle and the index of imported events.
package state

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by lookups that have no stored value.
var ErrNotFound = errors.New("state: not found")

// Store is implemented by every state driver.
type Store interface {
	// LastRun returns the stored lastRun timestamp. ok is false on first run.
	LastRun(ctx context.Context) (t time.Time, ok bool, err error)

	// SetLastRun replaces the stored lastRun timestamp.
	SetLastRun(ctx context.Context, t time.Time) error

	// ImportedVersion returns the source version last imported for
	// (owner, eventID).
	ImportedVersion(ctx context.Context, owner, eventID string) (version string, ok bool, err error)

	// RecordImport stores the source version imported for (owner, eventID).
	RecordImport(ctx context.Context, owner, eventID, version string) error

	// CountImports returns the number of entries in the import index.
	CountImports(ctx context.Context) (int, error)

	Close() error
}

// Compile-time checks that both drivers implement Store.
var (
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*FileStore)(nil)
)

// Open returns the driver named by driver ("sqlite" or "file").
func Open(driver, path string) (Store, error) {
	switch driver {
	case "sqlite":
		return NewSQLite(path)
	case "file":
		return NewFile(path)
	default:
		return nil, fmt.Errorf("unknown state driver %q", driver)
	}
}

const lastRunKey = "lastRun"
