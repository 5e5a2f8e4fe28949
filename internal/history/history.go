// Package history keeps a local log of finished calls in SQLite. The rest
// of the desktop suite reads it for the activity screens; the call manager
// writes one row per terminal transition.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/rvanholten/opsdesk/internal/call"
)

// Entry is one finished call as stored.
type Entry struct {
	ID        int64     `json:"id"`
	ChatID    string    `json:"chat_id"`
	RemoteID  string    `json:"remote_id"`
	Direction string    `json:"direction"`
	Kind      string    `json:"kind"`
	StartedAt time.Time `json:"started_at"`
	Seconds   int64     `json:"seconds"`
	Status    string    `json:"status"`
	Reason    string    `json:"reason"`
}

// Store wraps the SQLite database holding the call log.
type Store struct {
	db *sql.DB
}

// Open opens or creates the call log under dir.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	db, err := sql.Open("sqlite", filepath.Join(dir, "calls.db"))
	if err != nil {
		return nil, fmt.Errorf("open call log: %w", err)
	}

	if _, err := db.Exec(`
		PRAGMA journal_mode = WAL;
		PRAGMA busy_timeout = 5000;
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure call log: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS calls (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			chat_id    TEXT NOT NULL,
			remote_id  TEXT NOT NULL,
			direction  TEXT NOT NULL,
			kind       TEXT NOT NULL,
			started_at DATETIME NOT NULL,
			seconds    INTEGER NOT NULL DEFAULT 0,
			status     TEXT NOT NULL,
			reason     TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_calls_remote ON calls(remote_id, started_at);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create calls table: %w", err)
	}

	return &Store{db: db}, nil
}

// Record persists one finished call. Satisfies call.Recorder.
func (s *Store) Record(rec call.Record) error {
	_, err := s.db.Exec(`
		INSERT INTO calls (chat_id, remote_id, direction, kind, started_at, seconds, status, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ChatID, rec.RemoteID, string(rec.Direction), string(rec.Kind),
		rec.StartedAt.UTC(), int64(rec.Duration/time.Second), string(rec.Status), rec.Reason,
	)
	if err != nil {
		return fmt.Errorf("insert call record: %w", err)
	}
	return nil
}

// Recent returns the latest finished calls, newest first.
func (s *Store) Recent(limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT id, chat_id, remote_id, direction, kind, started_at, seconds, status, reason
		FROM calls ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query call log: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.ChatID, &e.RemoteID, &e.Direction, &e.Kind,
			&e.StartedAt, &e.Seconds, &e.Status, &e.Reason); err != nil {
			return nil, fmt.Errorf("scan call record: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close closes the store.
func (s *Store) Close() error { return s.db.Close() }
