// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package roomstore

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/bureau-foundation/livestate/lib/clock"
	"github.com/bureau-foundation/livestate/lib/session"
	"github.com/bureau-foundation/livestate/lib/sqlitepool"
)

var (
	// ErrNotFound is returned for operations on an unknown room.
	ErrNotFound = errors.New("roomstore: room not found")

	// ErrExists is returned when creating a room whose id is taken.
	ErrExists = errors.New("roomstore: room already exists")

	// ErrCorruptJournal is returned when a journaled batch no longer
	// matches its digest.
	ErrCorruptJournal = errors.New("roomstore: journal entry does not match its digest")
)

const schema = `
	CREATE TABLE IF NOT EXISTS rooms (
		room_id    TEXT PRIMARY KEY,
		next_actor INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS nodes (
		room_id TEXT NOT NULL REFERENCES rooms(room_id) ON DELETE CASCADE,
		node_id TEXT NOT NULL,
		payload TEXT NOT NULL,
		PRIMARY KEY (room_id, node_id)
	);

	CREATE TABLE IF NOT EXISTS batches (
		batch_id     TEXT PRIMARY KEY,
		room_id      TEXT NOT NULL REFERENCES rooms(room_id) ON DELETE CASCADE,
		session_id   TEXT NOT NULL,
		actor        INTEGER NOT NULL,
		op_count     INTEGER NOT NULL,
		ops          BLOB NOT NULL,
		digest       TEXT NOT NULL,
		delivered_at INTEGER NOT NULL,
		UNIQUE (room_id, session_id)
	);
	CREATE INDEX IF NOT EXISTS idx_batches_room ON batches(room_id, batch_id);
`

// Config holds the parameters for opening a Store.
type Config struct {
	// Path is the SQLite database file. The parent directory must
	// exist.
	Path string

	// PoolSize is the number of connections. Zero selects the pool
	// default.
	PoolSize int

	// Clock stamps journal entries and batch ids. Nil means
	// clock.Real().
	Clock clock.Clock

	// Logger receives operational messages. Nil discards them.
	Logger *slog.Logger
}

// Store is a SQLite-backed set of rooms. It is safe for concurrent use.
type Store struct {
	pool   *sqlitepool.Pool
	clock  clock.Clock
	logger *slog.Logger
}

var (
	_ session.Source    = (*Store)(nil)
	_ session.Deliverer = (*Store)(nil)
)

// Open opens or creates the store at config.Path.
func Open(config Config) (*Store, error) {
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	storeClock := config.Clock
	if storeClock == nil {
		storeClock = clock.Real()
	}

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     config.Path,
		PoolSize: config.PoolSize,
		Logger:   logger,
		Schema:   schema,
	})
	if err != nil {
		return nil, fmt.Errorf("roomstore: %w", err)
	}
	return &Store{pool: pool, clock: storeClock, logger: logger}, nil
}

// Close closes the underlying connection pool. Blocks until all
// borrowed connections are returned.
func (s *Store) Close() error {
	return s.pool.Close()
}
