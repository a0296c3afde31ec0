// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package roomstore

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/zeebo/blake3"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/livestate/lib/codec"
	"github.com/bureau-foundation/livestate/lib/crdt"
)

// journalDigestContext separates batch digests from every other BLAKE3
// use of the same bytes.
const journalDigestContext = "livestate 2026-10 batch journal ops"

// BatchRecord is one journaled batch.
type BatchRecord struct {
	ID          ulid.ULID
	RoomID      string
	SessionID   uuid.UUID
	Actor       uint64
	Ops         []crdt.Op
	Digest      string
	DeliveredAt time.Time
}

func newBatchID(now time.Time) ulid.ULID {
	return ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy())
}

// digestOps returns the hex BLAKE3 digest of CBOR-encoded ops.
func digestOps(encoded []byte) string {
	hasher := blake3.NewDeriveKey(journalDigestContext)
	hasher.Write(encoded)
	return hex.EncodeToString(hasher.Sum(nil))
}

// Batches returns a room's journal in delivery order. Each entry's ops
// are checked against its digest.
func (s *Store) Batches(ctx context.Context, roomID string) ([]BatchRecord, error) {
	var records []BatchRecord
	err := s.pool.Read(ctx, func(conn *sqlite.Conn) error {
		exists, err := roomExists(conn, roomID)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("%w: %q", ErrNotFound, roomID)
		}
		return sqlitex.Execute(conn, `
			SELECT batch_id, session_id, actor, ops, digest, delivered_at
			FROM batches WHERE room_id = ? ORDER BY batch_id`,
			&sqlitex.ExecOptions{
				Args: []any{roomID},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					record, err := scanBatch(stmt)
					if err != nil {
						return err
					}
					record.RoomID = roomID
					records = append(records, record)
					return nil
				},
			})
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

func scanBatch(stmt *sqlite.Stmt) (BatchRecord, error) {
	batchID, err := ulid.Parse(stmt.ColumnText(0))
	if err != nil {
		return BatchRecord{}, fmt.Errorf("roomstore: batch id %q: %w", stmt.ColumnText(0), err)
	}
	sessionID, err := uuid.Parse(stmt.ColumnText(1))
	if err != nil {
		return BatchRecord{}, fmt.Errorf("roomstore: batch %s session id: %w", batchID, err)
	}
	encoded := make([]byte, stmt.ColumnLen(3))
	stmt.ColumnBytes(3, encoded)
	digest := stmt.ColumnText(4)
	if digestOps(encoded) != digest {
		return BatchRecord{}, fmt.Errorf("%w: batch %s", ErrCorruptJournal, batchID)
	}
	var ops []crdt.Op
	if err := codec.Unmarshal(encoded, &ops); err != nil {
		return BatchRecord{}, fmt.Errorf("roomstore: decoding batch %s: %w", batchID, err)
	}
	return BatchRecord{
		ID:          batchID,
		SessionID:   sessionID,
		Actor:       uint64(stmt.ColumnInt64(2)),
		Ops:         ops,
		Digest:      digest,
		DeliveredAt: time.Unix(0, stmt.ColumnInt64(5)).UTC(),
	}, nil
}
