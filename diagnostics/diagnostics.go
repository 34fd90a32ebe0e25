/*
NAME
  diagnostics.go

DESCRIPTION
  diagnostics.go persists periodic per-session diagnostics (buffered
  seconds, received byte counts) to a local SQLite database, supplementing
  the receivedAudioBytes counter and periodic buffer logging present in the
  original reference server but left as an in-memory-only log line there.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package diagnostics records per-session stream statistics to a SQLite
// database for later inspection, independent of the receiver's live
// in-memory state.
package diagnostics

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// Store persists session diagnostic samples.
type Store struct {
	db *sql.DB
}

// Open creates (if necessary) and opens a SQLite database at path and
// ensures its schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("diagnostics: opening database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	const schema = `
CREATE TABLE IF NOT EXISTS session_sample (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session TEXT NOT NULL,
	sample_rate INTEGER NOT NULL,
	nchannel INTEGER NOT NULL,
	received_audio_bytes INTEGER NOT NULL,
	buffered_seconds REAL NOT NULL,
	resampler_in_rate INTEGER NOT NULL,
	started INTEGER NOT NULL,
	recorded_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS session_sample_session_idx ON session_sample(session);
`
	_, err := s.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("diagnostics: migrating schema: %w", err)
	}
	return nil
}

// Sample is one periodic observation of a session's state.
type Sample struct {
	Session            string
	SampleRate         uint32
	NChannel           int
	ReceivedAudioBytes int64
	BufferedSeconds    float64
	ResamplerInRate    uint32
	Started            bool
}

// Record inserts a Sample into the store.
func (s *Store) Record(sm Sample) error {
	_, err := s.db.Exec(
		`INSERT INTO session_sample
			(session, sample_rate, nchannel, received_audio_bytes, buffered_seconds, resampler_in_rate, started)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sm.Session, sm.SampleRate, sm.NChannel, sm.ReceivedAudioBytes, sm.BufferedSeconds, sm.ResamplerInRate, sm.Started,
	)
	if err != nil {
		return fmt.Errorf("diagnostics: recording sample: %w", err)
	}
	return nil
}

// RecentBufferedSeconds returns the last n buffered_seconds readings for
// session, most recent first.
func (s *Store) RecentBufferedSeconds(session string, n int) ([]float64, error) {
	rows, err := s.db.Query(
		`SELECT buffered_seconds FROM session_sample WHERE session = ? ORDER BY id DESC LIMIT ?`,
		session, n,
	)
	if err != nil {
		return nil, fmt.Errorf("diagnostics: querying samples: %w", err)
	}
	defer rows.Close()

	var out []float64
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("diagnostics: scanning sample: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }
