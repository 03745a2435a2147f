// Package eventlog implements the durable, append-only, totally ordered
// store of change events that is the source of truth for replication.
package eventlog

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/driftsync/driftsync/internal/db"
	"github.com/driftsync/driftsync/internal/protocol"
)

const schema = `
CREATE TABLE IF NOT EXISTS file_events (
    sequence    INTEGER PRIMARY KEY AUTOINCREMENT,
    path        TEXT NOT NULL,
    kind        TEXT NOT NULL,
    fingerprint TEXT NOT NULL DEFAULT '',
    content     BLOB,
    origin      TEXT NOT NULL,
    timestamp   TEXT NOT NULL -- RFC3339Nano
);

CREATE INDEX IF NOT EXISTS idx_file_events_path ON file_events(path);
`

// Log is an append-only ordered store of ChangeEvents backed by SQLite.
// Concurrent appends are serialized by the store; readers observe a
// prefix-consistent view.
type Log struct {
	db *sqlx.DB
}

// Open creates or opens an event log at the given database path.
// Use ":memory:" for tests.
func Open(path string) (*Log, error) {
	sdb, err := db.NewSqliteDb(db.WithPath(path), db.WithMaxOpenConns(1))
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	return New(sdb)
}

// New wraps an existing database handle and ensures the schema exists.
func New(sdb *sqlx.DB) (*Log, error) {
	if _, err := sdb.Exec(schema); err != nil {
		sdb.Close()
		return nil, fmt.Errorf("init event log schema: %w", err)
	}
	return &Log{db: sdb}, nil
}

func (l *Log) Close() error {
	return l.db.Close()
}

// Append assigns the next sequence number to the event and stores it.
// Concurrent writes to the same path are never rejected; they simply
// become two ordered events. Storage errors are surfaced, not retried.
func (l *Log) Append(ctx context.Context, ev *protocol.ChangeEvent) (int64, error) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	res, err := l.db.ExecContext(ctx,
		`INSERT INTO file_events (path, kind, fingerprint, content, origin, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		ev.Path, string(ev.Kind), ev.Fingerprint, ev.Content, ev.Origin,
		ev.Timestamp.Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("append event for %s: %w", ev.Path, err)
	}

	seq, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("append event for %s: sequence: %w", ev.Path, err)
	}
	ev.Sequence = seq
	return seq, nil
}

// EventsSince returns all events with sequence > since in ascending
// order. A positive limit caps the batch size; callers page by passing
// the last sequence of the previous batch.
func (l *Log) EventsSince(ctx context.Context, since int64, limit int) ([]*protocol.ChangeEvent, error) {
	query := `SELECT sequence, path, kind, fingerprint, content, origin, timestamp
	          FROM file_events WHERE sequence > ? ORDER BY sequence ASC`
	args := []any{since}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := l.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("events since %d: %w", since, err)
	}
	defer rows.Close()

	var events []*protocol.ChangeEvent
	for rows.Next() {
		var (
			ev   protocol.ChangeEvent
			kind string
			ts   string
		)
		if err := rows.Scan(&ev.Sequence, &ev.Path, &kind, &ev.Fingerprint, &ev.Content, &ev.Origin, &ts); err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}
		ev.Kind = protocol.EventKind(kind)
		ev.Timestamp, err = time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("parse event timestamp %q: %w", ts, err)
		}
		events = append(events, &ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

// LastSequence returns the highest assigned sequence number, or 0 for an
// empty log.
func (l *Log) LastSequence(ctx context.Context) (int64, error) {
	var seq int64
	err := l.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(sequence), 0) FROM file_events").Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("last sequence: %w", err)
	}
	return seq, nil
}
