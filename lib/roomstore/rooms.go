// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package roomstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/livestate/lib/crdt"
	"github.com/bureau-foundation/livestate/lib/storage"
)

// Room summarizes one stored room.
type Room struct {
	ID        string
	Nodes     int
	Batches   int
	CreatedAt time.Time
}

// CreateRoom adds a room holding an empty root object.
func (s *Store) CreateRoom(ctx context.Context, roomID string) error {
	return s.Import(ctx, roomID, storage.NewEmptyRegistry(0))
}

// Import adds a room holding registry's nodes. The first session to
// fetch it is assigned an actor above every actor in the registry.
func (s *Store) Import(ctx context.Context, roomID string, registry *storage.Registry) error {
	if roomID == "" {
		return fmt.Errorf("roomstore: room id must not be empty")
	}
	err := s.pool.Write(ctx, func(conn *sqlite.Conn) error {
		exists, err := roomExists(conn, roomID)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%w: %q", ErrExists, roomID)
		}
		if err := sqlitex.Execute(conn,
			"INSERT INTO rooms (room_id, next_actor, created_at) VALUES (?, ?, ?)",
			&sqlitex.ExecOptions{Args: []any{roomID, int64(registry.MaxActor() + 1), s.clock.Now().UnixNano()}},
		); err != nil {
			return fmt.Errorf("roomstore: inserting room %q: %w", roomID, err)
		}
		for _, record := range registry.Records() {
			if err := upsertNode(conn, roomID, record.ID, record.Node); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Info("room created", "room_id", roomID, "nodes", registry.Len())
	return nil
}

// DeleteRoom removes a room with its nodes and journal.
func (s *Store) DeleteRoom(ctx context.Context, roomID string) error {
	err := s.pool.Write(ctx, func(conn *sqlite.Conn) error {
		if err := sqlitex.Execute(conn, "DELETE FROM rooms WHERE room_id = ?",
			&sqlitex.ExecOptions{Args: []any{roomID}}); err != nil {
			return fmt.Errorf("roomstore: deleting room %q: %w", roomID, err)
		}
		if conn.Changes() == 0 {
			return fmt.Errorf("%w: %q", ErrNotFound, roomID)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Info("room deleted", "room_id", roomID)
	return nil
}

// Rooms lists every stored room in id order.
func (s *Store) Rooms(ctx context.Context) ([]Room, error) {
	var rooms []Room
	err := s.pool.Read(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `
			SELECT r.room_id, r.created_at,
				(SELECT COUNT(*) FROM nodes n WHERE n.room_id = r.room_id),
				(SELECT COUNT(*) FROM batches b WHERE b.room_id = r.room_id)
			FROM rooms r
			ORDER BY r.room_id`,
			&sqlitex.ExecOptions{
				ResultFunc: func(stmt *sqlite.Stmt) error {
					rooms = append(rooms, Room{
						ID:        stmt.ColumnText(0),
						CreatedAt: time.Unix(0, stmt.ColumnInt64(1)).UTC(),
						Nodes:     stmt.ColumnInt(2),
						Batches:   stmt.ColumnInt(3),
					})
					return nil
				},
			})
	})
	if err != nil {
		return nil, fmt.Errorf("roomstore: listing rooms: %w", err)
	}
	return rooms, nil
}

// Registry loads a room's current node set.
func (s *Store) Registry(ctx context.Context, roomID string) (*storage.Registry, error) {
	var registry *storage.Registry
	err := s.pool.Read(ctx, func(conn *sqlite.Conn) error {
		var err error
		registry, _, err = loadRoom(conn, roomID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return registry, nil
}

func roomExists(conn *sqlite.Conn, roomID string) (bool, error) {
	var exists bool
	err := sqlitex.Execute(conn, "SELECT 1 FROM rooms WHERE room_id = ?", &sqlitex.ExecOptions{
		Args: []any{roomID},
		ResultFunc: func(*sqlite.Stmt) error {
			exists = true
			return nil
		},
	})
	if err != nil {
		return false, fmt.Errorf("roomstore: looking up room %q: %w", roomID, err)
	}
	return exists, nil
}

// loadRoom reads a room's nodes into a registry and returns the actor
// reserved for the next fetch.
func loadRoom(conn *sqlite.Conn, roomID string) (*storage.Registry, uint64, error) {
	var nextActor uint64
	found := false
	err := sqlitex.Execute(conn, "SELECT next_actor FROM rooms WHERE room_id = ?", &sqlitex.ExecOptions{
		Args: []any{roomID},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			found = true
			nextActor = uint64(stmt.ColumnInt64(0))
			return nil
		},
	})
	if err != nil {
		return nil, 0, fmt.Errorf("roomstore: looking up room %q: %w", roomID, err)
	}
	if !found {
		return nil, 0, fmt.Errorf("%w: %q", ErrNotFound, roomID)
	}

	var records []crdt.NodeRecord
	err = sqlitex.Execute(conn, "SELECT node_id, payload FROM nodes WHERE room_id = ?", &sqlitex.ExecOptions{
		Args: []any{roomID},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			id, err := crdt.ParseNodeID(stmt.ColumnText(0))
			if err != nil {
				return fmt.Errorf("node row %q: %w", stmt.ColumnText(0), err)
			}
			var node crdt.SerializedNode
			if err := json.Unmarshal([]byte(stmt.ColumnText(1)), &node); err != nil {
				return fmt.Errorf("node %s payload: %w", id, err)
			}
			records = append(records, crdt.NodeRecord{ID: id, Node: node})
			return nil
		},
	})
	if err != nil {
		return nil, 0, fmt.Errorf("roomstore: reading nodes of %q: %w", roomID, err)
	}

	registry, err := storage.NewRegistry(0, records)
	if err != nil {
		return nil, 0, fmt.Errorf("roomstore: room %q: %w", roomID, err)
	}
	return registry, nextActor, nil
}

func upsertNode(conn *sqlite.Conn, roomID string, id crdt.NodeID, node crdt.SerializedNode) error {
	payload, err := json.Marshal(node)
	if err != nil {
		return fmt.Errorf("roomstore: encoding node %s: %w", id, err)
	}
	err = sqlitex.Execute(conn, `
		INSERT INTO nodes (room_id, node_id, payload) VALUES (?, ?, ?)
		ON CONFLICT (room_id, node_id) DO UPDATE SET payload = excluded.payload`,
		&sqlitex.ExecOptions{Args: []any{roomID, id.String(), string(payload)}},
	)
	if err != nil {
		return fmt.Errorf("roomstore: writing node %s: %w", id, err)
	}
	return nil
}

func deleteNode(conn *sqlite.Conn, roomID string, id crdt.NodeID) error {
	err := sqlitex.Execute(conn, "DELETE FROM nodes WHERE room_id = ? AND node_id = ?",
		&sqlitex.ExecOptions{Args: []any{roomID, id.String()}})
	if err != nil {
		return fmt.Errorf("roomstore: deleting node %s: %w", id, err)
	}
	return nil
}
