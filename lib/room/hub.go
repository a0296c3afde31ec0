// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package room hosts rooms in memory. A [Hub] serves snapshots to
// sessions and merges their delivered batches, which makes it the
// reference collaborator for lib/session and the backing store for
// tests.
package room

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/bureau-foundation/livestate/lib/session"
	"github.com/bureau-foundation/livestate/lib/storage"
)

var (
	// ErrNotFound is returned for operations on an unknown room.
	ErrNotFound = errors.New("room: not found")

	// ErrExists is returned by Create when the room id is taken.
	ErrExists = errors.New("room: already exists")
)

// Hub is a set of in-memory rooms keyed by id. It implements
// session.Source and session.Deliverer and is safe for concurrent use.
type Hub struct {
	logger *slog.Logger

	mu    sync.Mutex
	rooms map[string]*hosted
}

type hosted struct {
	registry *storage.Registry

	// nextActor is the actor handed to the next fetch. Every fetch gets
	// a fresh actor so concurrent sessions never mint the same id.
	nextActor uint64

	// delivered records the sessions whose batches were applied.
	delivered  map[uuid.UUID]struct{}
	deliveries int
}

var (
	_ session.Source    = (*Hub)(nil)
	_ session.Deliverer = (*Hub)(nil)
)

// NewHub returns an empty Hub. A nil logger discards.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Hub{logger: logger, rooms: make(map[string]*hosted)}
}

// Create adds a room holding registry's nodes, or an empty root when
// registry is nil. The hub keeps its own copy.
func (h *Hub) Create(roomID string, registry *storage.Registry) error {
	if roomID == "" {
		return errors.New("room: id must not be empty")
	}
	if registry == nil {
		registry = storage.NewEmptyRegistry(0)
	} else {
		registry = registry.Clone()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.rooms[roomID]; ok {
		return fmt.Errorf("%w: %q", ErrExists, roomID)
	}
	h.rooms[roomID] = &hosted{
		registry:  registry,
		nextActor: registry.MaxActor() + 1,
		delivered: make(map[uuid.UUID]struct{}),
	}
	h.logger.Info("room created", "room_id", roomID, "nodes", registry.Len())
	return nil
}

// Delete removes a room.
func (h *Hub) Delete(roomID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.rooms[roomID]; !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, roomID)
	}
	delete(h.rooms, roomID)
	h.logger.Info("room deleted", "room_id", roomID)
	return nil
}

// Rooms returns the hosted room ids in sorted order.
func (h *Hub) Rooms() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Sorted(maps.Keys(h.rooms))
}

// FetchSnapshot returns the room's snapshot stream with a header naming
// a newly assigned actor.
func (h *Hub) FetchSnapshot(ctx context.Context, roomID string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[roomID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, roomID)
	}
	actor := max(room.nextActor, room.registry.MaxActor()+1)
	room.nextActor = actor + 1

	var buffer bytes.Buffer
	if _, err := room.registry.WriteSnapshot(&buffer, actor); err != nil {
		return nil, fmt.Errorf("room: encoding snapshot of %q: %w", roomID, err)
	}
	return io.NopCloser(&buffer), nil
}

// Deliver merges a session's batch into the room. A batch from a
// session that was already delivered is acknowledged and ignored.
func (h *Hub) Deliver(ctx context.Context, batch session.Batch) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[batch.RoomID]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, batch.RoomID)
	}
	if _, seen := room.delivered[batch.SessionID]; seen {
		h.logger.Info("duplicate batch ignored",
			"room_id", batch.RoomID,
			"session_id", batch.SessionID.String(),
		)
		return nil
	}

	changes, err := room.registry.Apply(batch.Ops)
	if err != nil {
		return fmt.Errorf("room: applying batch to %q: %w", batch.RoomID, err)
	}
	room.delivered[batch.SessionID] = struct{}{}
	room.deliveries++
	h.logger.Debug("batch applied",
		"room_id", batch.RoomID,
		"session_id", batch.SessionID.String(),
		"actor", batch.Actor,
		"ops", len(batch.Ops),
		"upserted", len(changes.Upserted),
		"deleted", len(changes.Deleted),
		"skipped", len(changes.Skipped),
	)
	return nil
}

// Snapshot returns the room's canonical snapshot bytes. Two calls with
// no delivery in between return identical bytes; fetching does not
// change them.
func (h *Hub) Snapshot(roomID string) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[roomID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, roomID)
	}
	var buffer bytes.Buffer
	if _, err := room.registry.WriteTo(&buffer); err != nil {
		return nil, err
	}
	return buffer.Bytes(), nil
}

// Registry returns a copy of the room's registry.
func (h *Hub) Registry(roomID string) (*storage.Registry, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[roomID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, roomID)
	}
	return room.registry.Clone(), nil
}

// Immutable returns the immutable projection of the room's root.
func (h *Hub) Immutable(roomID string) (any, error) {
	registry, err := h.Registry(roomID)
	if err != nil {
		return nil, err
	}
	document, err := storage.Build(registry, storage.BuildOptions{})
	if err != nil {
		return nil, err
	}
	return document.ToImmutable(), nil
}

// Deliveries returns how many batches the room has applied.
func (h *Hub) Deliveries(roomID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if room, ok := h.rooms[roomID]; ok {
		return room.deliveries
	}
	return 0
}
