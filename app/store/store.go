// Package store provides the durable key/value storage used to keep session
// state across process restarts. Values are strings only; binary artifacts
// go through the base64 codec before being stored.
package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // sqlite driver
)

// ErrValueTooLarge returned by Set when the value exceeds the configured cap.
// Callers treat it as non-fatal, persistence is best-effort.
var ErrValueTooLarge = errors.New("value exceeds size limit")

// DefaultMaxValueSize caps a single stored value, roughly matching the
// per-origin ceiling of browser local storage.
const DefaultMaxValueSize = 8 * 1024 * 1024

// SQLite implements a string-keyed persistent map on top of a local sqlite
// file. A single kv table holds every named value.
type SQLite struct {
	db           *sqlx.DB
	maxValueSize int
}

// NewSQLite opens (or creates) the store at dbPath. maxValueSize <= 0 applies
// DefaultMaxValueSize.
func NewSQLite(dbPath string, maxValueSize int) (*SQLite, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to set WAL mode: %w (also failed to close db: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}

	schema := `CREATE TABLE IF NOT EXISTS kv (
		name TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at INTEGER
	)`
	if _, err := db.Exec(schema); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to create schema: %w (also failed to close db: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	if maxValueSize <= 0 {
		maxValueSize = DefaultMaxValueSize
	}
	return &SQLite{db: db, maxValueSize: maxValueSize}, nil
}

// Get returns the value for name. The second return is false if the name is
// not present.
func (s *SQLite) Get(name string) (string, bool, error) {
	var value string
	err := s.db.Get(&value, "SELECT value FROM kv WHERE name = ?", name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read %q: %w", name, err)
	}
	return value, true, nil
}

// Set stores value under name, replacing any previous value.
func (s *SQLite) Set(name, value string) error {
	if len(value) > s.maxValueSize {
		return fmt.Errorf("can't store %q (%d bytes): %w", name, len(value), ErrValueTooLarge)
	}
	_, err := s.db.Exec("INSERT OR REPLACE INTO kv (name, value, updated_at) VALUES (?, ?, strftime('%s','now'))",
		name, value)
	if err != nil {
		return fmt.Errorf("failed to write %q: %w", name, err)
	}
	return nil
}

// Remove deletes the value for name, removing an absent name is not an error.
func (s *SQLite) Remove(name string) error {
	if _, err := s.db.Exec("DELETE FROM kv WHERE name = ?", name); err != nil {
		return fmt.Errorf("failed to remove %q: %w", name, err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLite) Close() error {
	return s.db.Close()
}
