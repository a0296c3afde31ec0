// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package roomstore

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/oklog/ulid/v2"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/livestate/lib/codec"
	"github.com/bureau-foundation/livestate/lib/session"
	"github.com/bureau-foundation/livestate/lib/storage"
)

// FetchSnapshot reserves a fresh actor for the caller and returns the
// room's snapshot stream with that actor in the header.
func (s *Store) FetchSnapshot(ctx context.Context, roomID string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var registry *storage.Registry
	var actor uint64
	err := s.pool.Write(ctx, func(conn *sqlite.Conn) error {
		loaded, nextActor, err := loadRoom(conn, roomID)
		if err != nil {
			return err
		}
		registry = loaded
		actor = max(nextActor, loaded.MaxActor()+1)
		return sqlitex.Execute(conn, "UPDATE rooms SET next_actor = ? WHERE room_id = ?",
			&sqlitex.ExecOptions{Args: []any{int64(actor + 1), roomID}})
	})
	if err != nil {
		return nil, err
	}

	var buffer bytes.Buffer
	if _, err := registry.WriteSnapshot(&buffer, actor); err != nil {
		return nil, fmt.Errorf("roomstore: encoding snapshot of %q: %w", roomID, err)
	}
	s.logger.Debug("snapshot served", "room_id", roomID, "actor", actor, "nodes", registry.Len())
	return io.NopCloser(&buffer), nil
}

// Deliver applies a session's batch, rewrites the changed node rows and
// journals the batch, all in one transaction. A batch from a session
// already in the journal is acknowledged and ignored.
func (s *Store) Deliver(ctx context.Context, batch session.Batch) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	encoded, err := codec.Marshal(batch.Ops)
	if err != nil {
		return fmt.Errorf("roomstore: encoding batch: %w", err)
	}
	duplicate := false
	var batchID ulid.ULID
	var changes storage.Changes
	err = s.pool.Write(ctx, func(conn *sqlite.Conn) error {
		journaled, err := sessionJournaled(conn, batch.RoomID, batch.SessionID.String())
		if err != nil {
			return err
		}
		if journaled {
			duplicate = true
			return nil
		}

		registry, _, err := loadRoom(conn, batch.RoomID)
		if err != nil {
			return err
		}
		changes, err = registry.Apply(batch.Ops)
		if err != nil {
			return fmt.Errorf("roomstore: applying batch to %q: %w", batch.RoomID, err)
		}
		for _, id := range changes.Deleted {
			if err := deleteNode(conn, batch.RoomID, id); err != nil {
				return err
			}
		}
		for _, id := range changes.Upserted {
			node, _ := registry.Node(id)
			if err := upsertNode(conn, batch.RoomID, id, node); err != nil {
				return err
			}
		}

		// Ids are minted under the write lock so journal order is
		// commit order.
		now := s.clock.Now()
		batchID = newBatchID(now)
		err = sqlitex.Execute(conn, `
			INSERT INTO batches (batch_id, room_id, session_id, actor, op_count, ops, digest, delivered_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			&sqlitex.ExecOptions{Args: []any{
				batchID.String(),
				batch.RoomID,
				batch.SessionID.String(),
				int64(batch.Actor),
				len(batch.Ops),
				encoded,
				digestOps(encoded),
				now.UnixNano(),
			}},
		)
		if err != nil {
			return fmt.Errorf("roomstore: journaling batch: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if duplicate {
		s.logger.Info("duplicate batch ignored",
			"room_id", batch.RoomID,
			"session_id", batch.SessionID.String(),
		)
		return nil
	}
	s.logger.Debug("batch delivered",
		"room_id", batch.RoomID,
		"session_id", batch.SessionID.String(),
		"batch_id", batchID.String(),
		"actor", batch.Actor,
		"ops", len(batch.Ops),
		"upserted", len(changes.Upserted),
		"deleted", len(changes.Deleted),
		"skipped", len(changes.Skipped),
	)
	return nil
}

func sessionJournaled(conn *sqlite.Conn, roomID, sessionID string) (bool, error) {
	var found bool
	err := sqlitex.Execute(conn, "SELECT 1 FROM batches WHERE room_id = ? AND session_id = ?", &sqlitex.ExecOptions{
		Args: []any{roomID, sessionID},
		ResultFunc: func(*sqlite.Stmt) error {
			found = true
			return nil
		},
	})
	if err != nil {
		return false, fmt.Errorf("roomstore: checking journal: %w", err)
	}
	return found, nil
}
