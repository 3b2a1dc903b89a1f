// Package sqlite provides a durable trace.Recorder backed by an embedded
// SQLite database, for inspecting network activity after the process has
// exited.
package sqlite

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/flowmesh/flowmesh/trace"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id TEXT PRIMARY KEY,
	agent TEXT NOT NULL,
	signal TEXT NOT NULL,
	error TEXT NOT NULL DEFAULT '',
	started_at INTEGER NOT NULL,
	finished_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_agent ON runs(agent, started_at);

CREATE TABLE IF NOT EXISTS messages (
	message_id TEXT NOT NULL,
	type TEXT NOT NULL,
	from_endpoint TEXT NOT NULL,
	to_endpoint TEXT NOT NULL,
	at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_from ON messages(from_endpoint, at);
`

// Recorder persists run and message records to SQLite. Safe for concurrent
// use; database/sql serializes access to the single connection modernc's
// driver exposes.
type Recorder struct {
	db *sql.DB
}

// New opens (creating if necessary) the database at path and applies the
// schema.
func New(path string) (*Recorder, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open trace db %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply trace schema: %w", err)
	}
	return &Recorder{db: db}, nil
}

// RecordRun persists one run record.
func (r *Recorder) RecordRun(rec trace.RunRecord) error {
	_, err := r.db.Exec(
		`INSERT INTO runs (run_id, agent, signal, error, started_at, finished_at) VALUES (?, ?, ?, ?, ?, ?)`,
		rec.RunID, rec.Agent, rec.Signal, rec.Error, rec.Started.UnixNano(), rec.Finished.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	return nil
}

// RecordMessage persists one delivery record.
func (r *Recorder) RecordMessage(rec trace.MessageRecord) error {
	_, err := r.db.Exec(
		`INSERT INTO messages (message_id, type, from_endpoint, to_endpoint, at) VALUES (?, ?, ?, ?, ?)`,
		rec.MessageID, rec.Type, rec.From, rec.To, rec.At.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("record message: %w", err)
	}
	return nil
}

// RunCount returns the number of persisted runs for an agent, or all runs
// when agent is empty.
func (r *Recorder) RunCount(agent string) (int, error) {
	var n int
	var err error
	if agent == "" {
		err = r.db.QueryRow(`SELECT COUNT(*) FROM runs`).Scan(&n)
	} else {
		err = r.db.QueryRow(`SELECT COUNT(*) FROM runs WHERE agent = ?`, agent).Scan(&n)
	}
	if err != nil {
		return 0, fmt.Errorf("count runs: %w", err)
	}
	return n, nil
}

// MessageCount returns the number of persisted deliveries.
func (r *Recorder) MessageCount() (int, error) {
	var n int
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return n, nil
}

// Close releases the database handle.
func (r *Recorder) Close() error { return r.db.Close() }
