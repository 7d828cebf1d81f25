// Package storage persists the daemon's attach-audit log in SQLite.
//
// The audit log is insert-only: one row per session lifecycle event
// (attach, create, kill, WebSocket open/close). It exists for operator
// forensics — "who attached to what, when" — and is strictly best-effort:
// audit failures are logged by callers and never surfaced to clients.
//
// The driver is modernc.org/sqlite, a cgo-free translation of SQLite, so
// the daemon cross-compiles without a C toolchain.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// schema creates the audit table. Kept additive; new columns arrive via
// ALTER TABLE guards rather than destructive migrations.
const schema = `
CREATE TABLE IF NOT EXISTS attach_events (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	event      TEXT NOT NULL,
	detail     TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_attach_events_session ON attach_events(session_id);
CREATE INDEX IF NOT EXISTS idx_attach_events_created ON attach_events(created_at);
`

// Store wraps the SQLite handle.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the audit database at path.
// The parent directory is created with 0700 permissions.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}

	// SQLite serializes writes; one connection avoids SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
