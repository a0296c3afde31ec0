// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package roomstore

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/livestate/lib/clock"
	"github.com/bureau-foundation/livestate/lib/crdt"
	"github.com/bureau-foundation/livestate/lib/session"
	"github.com/bureau-foundation/livestate/lib/storage"
	"github.com/bureau-foundation/livestate/lib/testutil"
)

var epoch = time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)

const scenarioSnapshot = `{"actor":0}
["root",{"type":0,"data":{}}]
["0:1",{"type":2,"parentId":"root","parentKey":"a"}]
["0:2",{"type":1,"parentId":"root","parentKey":"b"}]
["0:3",{"type":3,"parentId":"0:1","parentKey":"k","data":123}]
`

func openTestStore(t *testing.T, path string) *Store {
	t.Helper()
	if path == "" {
		path = filepath.Join(t.TempDir(), "rooms.db")
	}
	store, err := Open(Config{Path: path, PoolSize: 2, Clock: clock.Fake(epoch)})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func importScenario(t *testing.T, store *Store, roomID string) {
	t.Helper()
	registry, err := storage.Load(strings.NewReader(scenarioSnapshot))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := store.Import(context.Background(), roomID, registry); err != nil {
		t.Fatalf("Import: %v", err)
	}
}

func requireRoomJSON(t *testing.T, store *Store, roomID, want string) {
	t.Helper()
	registry, err := store.Registry(context.Background(), roomID)
	if err != nil {
		t.Fatalf("Registry: %v", err)
	}
	document, err := storage.Build(registry, storage.BuildOptions{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	testutil.RequireJSONEqual(t, document.ToImmutable(), want)
}

func fetchActor(t *testing.T, store *Store, roomID string) uint64 {
	t.Helper()
	stream, err := store.FetchSnapshot(context.Background(), roomID)
	if err != nil {
		t.Fatalf("FetchSnapshot: %v", err)
	}
	defer stream.Close()
	registry, err := storage.Load(stream)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return registry.Actor()
}

func TestCreateAndListRooms(t *testing.T) {
	store := openTestStore(t, "")
	ctx := context.Background()

	for _, id := range []string{"beta", "alpha"} {
		if err := store.CreateRoom(ctx, id); err != nil {
			t.Fatalf("CreateRoom(%q): %v", id, err)
		}
	}
	if err := store.CreateRoom(ctx, "alpha"); !errors.Is(err, ErrExists) {
		t.Errorf("duplicate CreateRoom error = %v, want ErrExists", err)
	}

	rooms, err := store.Rooms(ctx)
	if err != nil {
		t.Fatalf("Rooms: %v", err)
	}
	if len(rooms) != 2 || rooms[0].ID != "alpha" || rooms[1].ID != "beta" {
		t.Fatalf("Rooms() = %+v, want alpha and beta", rooms)
	}
	for _, room := range rooms {
		if room.Nodes != 1 || room.Batches != 0 || !room.CreatedAt.Equal(epoch) {
			t.Errorf("room %+v, want 1 node, no batches, created at %s", room, epoch)
		}
	}
	requireRoomJSON(t, store, "alpha", `{}`)
}

func TestSessionRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rooms.db")
	store := openTestStore(t, path)
	importScenario(t, store, "scenario")

	coordinator, err := session.New(session.Config{Source: store, Deliverer: store})
	if err != nil {
		t.Fatalf("session.New: %v", err)
	}
	err = coordinator.Mutate(context.Background(), "scenario", func(root *storage.Object) error {
		list, _ := root.GetList("b")
		if err := list.Insert(0, "x"); err != nil {
			return err
		}
		registers, _ := root.GetMap("a")
		return registers.Delete("k")
	})
	if err != nil {
		t.Fatalf("Mutate: %v", err)
	}
	requireRoomJSON(t, store, "scenario", `{"a":{},"b":["x"]}`)

	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	reopened := openTestStore(t, path)
	requireRoomJSON(t, reopened, "scenario", `{"a":{},"b":["x"]}`)

	rooms, err := reopened.Rooms(context.Background())
	if err != nil {
		t.Fatalf("Rooms: %v", err)
	}
	if len(rooms) != 1 || rooms[0].Nodes != 4 || rooms[0].Batches != 1 {
		t.Errorf("Rooms() = %+v, want one room with 4 nodes and 1 batch", rooms)
	}
}

func TestFetchAssignsFreshActors(t *testing.T) {
	store := openTestStore(t, "")
	importScenario(t, store, "scenario")

	var actors []uint64
	for range 3 {
		actors = append(actors, fetchActor(t, store, "scenario"))
	}
	if !reflect.DeepEqual(actors, []uint64{1, 2, 3}) {
		t.Errorf("actors = %v, want [1 2 3]", actors)
	}
	if _, err := store.FetchSnapshot(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("FetchSnapshot(missing) error = %v, want ErrNotFound", err)
	}
}

func createListBatch(roomID string, actor uint64, key string) session.Batch {
	return session.Batch{
		RoomID:    roomID,
		SessionID: uuid.New(),
		Actor:     actor,
		Ops: []crdt.Op{{
			Type:      crdt.OpCreateList,
			ID:        crdt.NewNodeID(actor, 1),
			ParentID:  crdt.RootID,
			ParentKey: key,
		}},
	}
}

func TestDeliverDeduplicatesSessions(t *testing.T) {
	store := openTestStore(t, "")
	ctx := context.Background()
	if err := store.CreateRoom(ctx, "lobby"); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}

	batch := createListBatch("lobby", fetchActor(t, store, "lobby"), "items")
	for range 2 {
		if err := store.Deliver(ctx, batch); err != nil {
			t.Fatalf("Deliver: %v", err)
		}
	}
	records, err := store.Batches(ctx, "lobby")
	if err != nil {
		t.Fatalf("Batches: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("journal has %d batches, want 1", len(records))
	}
	requireRoomJSON(t, store, "lobby", `{"items":[]}`)
}

func TestJournal(t *testing.T) {
	store := openTestStore(t, "")
	ctx := context.Background()
	if err := store.CreateRoom(ctx, "lobby"); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}

	first := createListBatch("lobby", fetchActor(t, store, "lobby"), "first")
	second := createListBatch("lobby", fetchActor(t, store, "lobby"), "second")
	for _, batch := range []session.Batch{first, second} {
		if err := store.Deliver(ctx, batch); err != nil {
			t.Fatalf("Deliver: %v", err)
		}
	}

	records, err := store.Batches(ctx, "lobby")
	if err != nil {
		t.Fatalf("Batches: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("journal has %d batches, want 2", len(records))
	}
	for index, batch := range []session.Batch{first, second} {
		record := records[index]
		if record.SessionID != batch.SessionID || record.Actor != batch.Actor || record.RoomID != "lobby" {
			t.Errorf("record %d = %+v, want session %s actor %d", index, record, batch.SessionID, batch.Actor)
		}
		if len(record.Ops) != 1 || record.Ops[0].ID != batch.Ops[0].ID || record.Ops[0].ParentKey != batch.Ops[0].ParentKey {
			t.Errorf("record %d ops = %+v, want %+v", index, record.Ops, batch.Ops)
		}
		if len(record.Digest) != 64 {
			t.Errorf("record %d digest %q is not a hex BLAKE3-256 digest", index, record.Digest)
		}
		if !record.DeliveredAt.Equal(epoch) {
			t.Errorf("record %d delivered at %s, want %s", index, record.DeliveredAt, epoch)
		}
	}
	if records[0].ID.Compare(records[1].ID) >= 0 {
		t.Errorf("batch ids out of order: %s, %s", records[0].ID, records[1].ID)
	}
}

func TestCorruptJournalDetected(t *testing.T) {
	store := openTestStore(t, "")
	ctx := context.Background()
	if err := store.CreateRoom(ctx, "lobby"); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if err := store.Deliver(ctx, createListBatch("lobby", fetchActor(t, store, "lobby"), "items")); err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	err := store.pool.Write(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "UPDATE batches SET ops = x'a0'", nil)
	})
	if err != nil {
		t.Fatalf("tampering: %v", err)
	}
	if _, err := store.Batches(ctx, "lobby"); !errors.Is(err, ErrCorruptJournal) {
		t.Errorf("Batches error = %v, want ErrCorruptJournal", err)
	}
}

func TestRejectedBatchLeavesRoomUnchanged(t *testing.T) {
	store := openTestStore(t, "")
	ctx := context.Background()
	importScenario(t, store, "scenario")

	err := store.Deliver(ctx, session.Batch{
		RoomID:    "scenario",
		SessionID: uuid.New(),
		Ops: []crdt.Op{
			{Type: crdt.OpUpdateObject, ID: crdt.RootID, Data: map[string]any{"title": "t"}},
			{Type: crdt.OpDeleteCrdt, ID: crdt.RootID},
		},
	})
	var applyErr *storage.ApplyError
	if !errors.As(err, &applyErr) || applyErr.Index != 1 {
		t.Fatalf("Deliver error = %v, want *storage.ApplyError at index 1", err)
	}
	requireRoomJSON(t, store, "scenario", `{"a":{"k":123},"b":[]}`)
	records, err := store.Batches(ctx, "scenario")
	if err != nil {
		t.Fatalf("Batches: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("rejected batch was journaled: %+v", records)
	}
}

func TestRoomsAreIsolated(t *testing.T) {
	store := openTestStore(t, "")
	ctx := context.Background()
	written, untouched := testutil.UniqueID("room"), testutil.UniqueID("room")
	importScenario(t, store, written)
	importScenario(t, store, untouched)

	if err := store.Deliver(ctx, createListBatch(written, fetchActor(t, store, written), "c")); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	requireRoomJSON(t, store, written, `{"a":{"k":123},"b":[],"c":[]}`)
	requireRoomJSON(t, store, untouched, `{"a":{"k":123},"b":[]}`)

	records, err := store.Batches(ctx, untouched)
	if err != nil {
		t.Fatalf("Batches: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("untouched room has %d journal entries", len(records))
	}
}

func TestDeleteRoomCascades(t *testing.T) {
	store := openTestStore(t, "")
	ctx := context.Background()
	importScenario(t, store, "scenario")
	if err := store.Deliver(ctx, createListBatch("scenario", fetchActor(t, store, "scenario"), "c")); err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	if err := store.DeleteRoom(ctx, "scenario"); err != nil {
		t.Fatalf("DeleteRoom: %v", err)
	}
	if err := store.DeleteRoom(ctx, "scenario"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second DeleteRoom error = %v, want ErrNotFound", err)
	}
	if _, err := store.Batches(ctx, "scenario"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Batches error = %v, want ErrNotFound", err)
	}

	if err := store.CreateRoom(ctx, "scenario"); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	registry, err := store.Registry(ctx, "scenario")
	if err != nil {
		t.Fatalf("Registry: %v", err)
	}
	if registry.Len() != 1 {
		t.Errorf("recreated room has %d nodes, want only the root", registry.Len())
	}
	records, err := store.Batches(ctx, "scenario")
	if err != nil {
		t.Fatalf("Batches: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("recreated room kept %d journal entries", len(records))
	}
}
