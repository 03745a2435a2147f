// Package index is the server-side path index for the polling protocol:
// path -> {fingerprint, mod time, version}, where version increments once
// per accepted upload and is the basis for conflict detection.
package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/driftsync/driftsync/internal/db"
	"github.com/driftsync/driftsync/internal/protocol"
)

const schema = `
CREATE TABLE IF NOT EXISTS server_index (
    path        TEXT PRIMARY KEY,
    fingerprint TEXT NOT NULL,
    mod_time    TEXT NOT NULL, -- RFC3339Nano
    version     INTEGER NOT NULL DEFAULT 1
);
`

// Store persists the server index in SQLite.
type Store struct {
	db *sqlx.DB
}

// Open creates or opens the index at the given database path.
func Open(path string) (*Store, error) {
	sdb, err := db.NewSqliteDb(db.WithPath(path), db.WithMaxOpenConns(1))
	if err != nil {
		return nil, fmt.Errorf("open server index: %w", err)
	}
	return New(sdb)
}

// New wraps an existing database handle and ensures the schema exists.
func New(sdb *sqlx.DB) (*Store, error) {
	if _, err := sdb.Exec(schema); err != nil {
		sdb.Close()
		return nil, fmt.Errorf("init server index schema: %w", err)
	}
	return &Store{db: sdb}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the entry for path, or nil when unknown.
func (s *Store) Get(ctx context.Context, path string) (*protocol.IndexEntry, error) {
	var (
		entry protocol.IndexEntry
		ts    string
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT fingerprint, mod_time, version FROM server_index WHERE path = ?", path).
		Scan(&entry.Fingerprint, &ts, &entry.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("index get %s: %w", path, err)
	}

	entry.ModTime, err = time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return nil, fmt.Errorf("index get %s: parse mod time: %w", path, err)
	}
	return &entry, nil
}

// Set inserts or replaces the entry for path.
func (s *Store) Set(ctx context.Context, path string, entry *protocol.IndexEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO server_index (path, fingerprint, mod_time, version)
		 VALUES (?, ?, ?, ?)`,
		path, entry.Fingerprint, entry.ModTime.Format(time.RFC3339Nano), entry.Version)
	if err != nil {
		return fmt.Errorf("index set %s: %w", path, err)
	}
	return nil
}

// Delete removes the entry for path.
func (s *Store) Delete(ctx context.Context, path string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM server_index WHERE path = ?", path); err != nil {
		return fmt.Errorf("index delete %s: %w", path, err)
	}
	return nil
}

// All returns the full index map.
func (s *Store) All(ctx context.Context) (map[string]*protocol.IndexEntry, error) {
	rows, err := s.db.QueryxContext(ctx, "SELECT path, fingerprint, mod_time, version FROM server_index")
	if err != nil {
		return nil, fmt.Errorf("index list: %w", err)
	}
	defer rows.Close()

	all := make(map[string]*protocol.IndexEntry)
	for rows.Next() {
		var (
			path  string
			entry protocol.IndexEntry
			ts    string
		)
		if err := rows.Scan(&path, &entry.Fingerprint, &ts, &entry.Version); err != nil {
			return nil, fmt.Errorf("index list: scan: %w", err)
		}
		entry.ModTime, err = time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("index list: parse mod time for %s: %w", path, err)
		}
		all[path] = &entry
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("index list: %w", err)
	}
	return all, nil
}
