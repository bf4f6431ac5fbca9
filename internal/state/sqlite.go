package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps state in a SQLite database in WAL mode.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens (or creates) the database at path and initializes the schema.
func NewSQLite(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(10000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS properties (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS imports (
		owner       TEXT NOT NULL,
		event_id    TEXT NOT NULL,
		version     TEXT NOT NULL,
		imported_at TEXT NOT NULL,
		PRIMARY KEY (owner, event_id)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// LastRun returns the stored lastRun timestamp.
func (s *SQLiteStore) LastRun(ctx context.Context) (time.Time, bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM properties WHERE key = ?`, lastRunKey).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("read %s: %w", lastRunKey, err)
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse %s %q: %w", lastRunKey, raw, err)
	}
	return t, true, nil
}

// SetLastRun replaces the stored lastRun timestamp. Idempotent via ON CONFLICT.
func (s *SQLiteStore) SetLastRun(ctx context.Context, t time.Time) error {
	return retryOnContention(func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO properties (key, value) VALUES (?, ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
			lastRunKey, t.UTC().Format(time.RFC3339Nano),
		)
		return err
	})
}

// ImportedVersion returns the version recorded for (owner, eventID).
func (s *SQLiteStore) ImportedVersion(ctx context.Context, owner, eventID string) (string, bool, error) {
	var version string
	err := s.db.QueryRowContext(ctx,
		`SELECT version FROM imports WHERE owner = ? AND event_id = ?`, owner, eventID,
	).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read import %s/%s: %w", owner, eventID, err)
	}
	return version, true, nil
}

// RecordImport upserts the version imported for (owner, eventID).
func (s *SQLiteStore) RecordImport(ctx context.Context, owner, eventID, version string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	return retryOnContention(func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO imports (owner, event_id, version, imported_at) VALUES (?, ?, ?, ?)
			 ON CONFLICT(owner, event_id) DO UPDATE SET version = excluded.version, imported_at = excluded.imported_at`,
			owner, eventID, version, now,
		)
		return err
	})
}

// CountImports returns the number of rows in the import index.
func (s *SQLiteStore) CountImports(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM imports`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count imports: %w", err)
	}
	return n, nil
}
