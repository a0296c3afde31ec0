// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool provides the SQLite connection pool behind
// lib/roomstore.
//
// It wraps zombiezen.com/go/sqlite's sqlitex.Pool with fixed defaults
// and two helpers. [Pool.Read] borrows a connection for the duration of
// a callback. [Pool.Write] does the same inside a BEGIN IMMEDIATE
// transaction that commits on success and rolls back on error.
//
// # Pragmas
//
// Every connection is initialized with:
//
//   - journal_mode=WAL: snapshot reads never block batch delivery.
//   - synchronous=NORMAL: committed batches survive process crashes.
//   - busy_timeout=5000: writers wait up to 5 seconds for the lock.
//   - foreign_keys=ON: node and batch rows cascade with their room.
//   - cache_size=-8192: 8 MB page cache per connection.
//   - temp_store=MEMORY: temporary tables and indexes in memory.
//
// # Usage
//
//	pool, err := sqlitepool.Open(sqlitepool.Config{
//	    Path:   "/var/lib/livestate/rooms.db",
//	    Schema: schema,
//	    Logger: logger,
//	})
//	if err != nil {
//	    return err
//	}
//	defer pool.Close()
//
//	err = pool.Write(ctx, func(conn *sqlite.Conn) error {
//	    return sqlitex.Execute(conn, "INSERT ...", &sqlitex.ExecOptions{Args: args})
//	})
//
// The package stays thin: callers write SQL and use sqlitex.Execute.
// There is no query builder.
package sqlitepool
