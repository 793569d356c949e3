// Package store is the gateway's durable key-value state: queued mutations,
// offline reports, the locally mirrored events listing and settings. It is
// backed by a single sqlite database owned exclusively by the gateway's sync
// routines.
package store

import (
	"context"
	"database/sql"
	"sync"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS pending_actions (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	url        TEXT NOT NULL,
	method     TEXT NOT NULL,
	header     TEXT NOT NULL,
	body       BLOB,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS offline_reports (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	data       TEXT NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS cached_events (
	id      TEXT PRIMARY KEY,
	date    TEXT NOT NULL,
	payload TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cached_events_date ON cached_events(date);

CREATE TABLE IF NOT EXISTS settings (
	name  TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// Store wraps the sqlite database. The database file is opened lazily on
// first use, so constructing a Store never touches the disk.
type Store struct {
	path string

	mu sync.Mutex
	db *sql.DB
}

// New returns a Store reading from and writing to the database at path.
// Use ":memory:" for an ephemeral store.
func New(path string) *Store {
	return &Store{path: path}
}

// conn opens the database on first use and applies the schema.
func (s *Store) conn() (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		return s.db, nil
	}

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return nil, errors.Wrap(err, "sql.Open")
	}

	// The store is shared across handlers; a single connection serializes
	// writers the same way the single-threaded worker model does.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "apply schema")
	}

	s.db = db
	return db, nil
}

// Close closes the underlying database if it was opened.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// SetSetting stores value under name, replacing any previous value.
func (s *Store) SetSetting(ctx context.Context, name, value string) error {
	db, err := s.conn()
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx,
		`INSERT INTO settings (name, value) VALUES (?, ?)
		 ON CONFLICT(name) DO UPDATE SET value = excluded.value`, name, value)
	return errors.Wrap(err, "set setting")
}

// Setting returns the value stored under name. ok is false when the setting
// does not exist.
func (s *Store) Setting(ctx context.Context, name string) (value string, ok bool, err error) {
	db, err := s.conn()
	if err != nil {
		return "", false, err
	}

	err = db.QueryRowContext(ctx, `SELECT value FROM settings WHERE name = ?`, name).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrap(err, "get setting")
	}
	return value, true, nil
}
