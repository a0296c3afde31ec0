// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package room

import (
	"bytes"
	"context"
	"errors"
	"io"
	"reflect"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/bureau-foundation/livestate/lib/crdt"
	"github.com/bureau-foundation/livestate/lib/session"
	"github.com/bureau-foundation/livestate/lib/storage"
	"github.com/bureau-foundation/livestate/lib/testutil"
)

func fetchRegistry(t *testing.T, hub *Hub, roomID string) *storage.Registry {
	t.Helper()
	stream, err := hub.FetchSnapshot(context.Background(), roomID)
	if err != nil {
		t.Fatalf("FetchSnapshot: %v", err)
	}
	defer stream.Close()
	registry, err := storage.Load(stream)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return registry
}

func TestCreateAndRooms(t *testing.T) {
	hub := NewHub(nil)
	for _, id := range []string{"beta", "alpha"} {
		if err := hub.Create(id, nil); err != nil {
			t.Fatalf("Create(%q): %v", id, err)
		}
	}
	if err := hub.Create("alpha", nil); !errors.Is(err, ErrExists) {
		t.Errorf("duplicate Create error = %v, want ErrExists", err)
	}
	if err := hub.Create("", nil); err == nil {
		t.Error("Create accepted an empty id")
	}
	if got := hub.Rooms(); !reflect.DeepEqual(got, []string{"alpha", "beta"}) {
		t.Errorf("Rooms() = %v", got)
	}

	value, err := hub.Immutable("alpha")
	if err != nil {
		t.Fatalf("Immutable: %v", err)
	}
	testutil.RequireJSONEqual(t, value, `{}`)
}

func TestDelete(t *testing.T) {
	hub := NewHub(nil)
	doomed, kept := testutil.UniqueID("lobby"), testutil.UniqueID("lobby")
	for _, id := range []string{doomed, kept} {
		if err := hub.Create(id, nil); err != nil {
			t.Fatalf("Create(%q): %v", id, err)
		}
	}
	if err := hub.Delete(doomed); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := hub.Delete(doomed); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete error = %v, want ErrNotFound", err)
	}
	if _, err := hub.FetchSnapshot(context.Background(), doomed); !errors.Is(err, ErrNotFound) {
		t.Errorf("FetchSnapshot error = %v, want ErrNotFound", err)
	}
	if got := hub.Rooms(); !reflect.DeepEqual(got, []string{kept}) {
		t.Errorf("Rooms() = %v, want [%s]", got, kept)
	}
}

func TestCreateCopiesRegistry(t *testing.T) {
	registry := storage.NewEmptyRegistry(0)
	hub := NewHub(nil)
	if err := hub.Create("lobby", registry); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := registry.Apply([]crdt.Op{{
		Type: crdt.OpUpdateObject,
		ID:   crdt.RootID,
		Data: map[string]any{"local": true},
	}}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	value, err := hub.Immutable("lobby")
	if err != nil {
		t.Fatalf("Immutable: %v", err)
	}
	testutil.RequireJSONEqual(t, value, `{}`)
}

func TestEachFetchGetsAFreshActor(t *testing.T) {
	registry, err := storage.Load(strings.NewReader(`{"actor":0}
["root",{"type":0}]
["3:1",{"type":3,"parentId":"root","parentKey":"k","data":1}]
`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	hub := NewHub(nil)
	if err := hub.Create("lobby", registry); err != nil {
		t.Fatalf("Create: %v", err)
	}

	var actors []uint64
	for range 3 {
		actors = append(actors, fetchRegistry(t, hub, "lobby").Actor())
	}
	if !reflect.DeepEqual(actors, []uint64{4, 5, 6}) {
		t.Errorf("actors = %v, want [4 5 6]", actors)
	}
}

func TestFetchDoesNotChangeSnapshot(t *testing.T) {
	hub := NewHub(nil)
	if err := hub.Create("lobby", nil); err != nil {
		t.Fatalf("Create: %v", err)
	}
	before, err := hub.Snapshot("lobby")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	fetchRegistry(t, hub, "lobby")
	after, err := hub.Snapshot("lobby")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if !bytes.Equal(before, after) {
		t.Errorf("snapshot changed after fetch:\n%s\n%s", before, after)
	}
}

func TestDeliverAppliesOncePerSession(t *testing.T) {
	hub := NewHub(nil)
	if err := hub.Create("lobby", nil); err != nil {
		t.Fatalf("Create: %v", err)
	}
	actor := fetchRegistry(t, hub, "lobby").Actor()
	batch := session.Batch{
		RoomID:    "lobby",
		SessionID: uuid.New(),
		Actor:     actor,
		Ops: []crdt.Op{{
			Type:      crdt.OpCreateList,
			ID:        crdt.NewNodeID(actor, 1),
			ParentID:  crdt.RootID,
			ParentKey: "items",
		}},
	}
	for range 2 {
		if err := hub.Deliver(context.Background(), batch); err != nil {
			t.Fatalf("Deliver: %v", err)
		}
	}
	if got := hub.Deliveries("lobby"); got != 1 {
		t.Errorf("Deliveries = %d, want 1", got)
	}
	value, err := hub.Immutable("lobby")
	if err != nil {
		t.Fatalf("Immutable: %v", err)
	}
	testutil.RequireJSONEqual(t, value, `{"items":[]}`)
}

func TestDeliverRejectsMalformedBatch(t *testing.T) {
	hub := NewHub(nil)
	if err := hub.Create("lobby", nil); err != nil {
		t.Fatalf("Create: %v", err)
	}
	before, _ := hub.Snapshot("lobby")

	err := hub.Deliver(context.Background(), session.Batch{
		RoomID:    "lobby",
		SessionID: uuid.New(),
		Ops:       []crdt.Op{{Type: crdt.OpDeleteCrdt, ID: crdt.RootID}},
	})
	var applyErr *storage.ApplyError
	if !errors.As(err, &applyErr) {
		t.Fatalf("Deliver error = %v, want *storage.ApplyError", err)
	}
	if hub.Deliveries("lobby") != 0 {
		t.Error("rejected batch counted as delivered")
	}
	after, _ := hub.Snapshot("lobby")
	if !bytes.Equal(before, after) {
		t.Error("rejected batch changed the room")
	}
}

func TestCancelledContext(t *testing.T) {
	hub := NewHub(nil)
	if err := hub.Create("lobby", nil); err != nil {
		t.Fatalf("Create: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := hub.FetchSnapshot(ctx, "lobby"); !errors.Is(err, context.Canceled) {
		t.Errorf("FetchSnapshot error = %v", err)
	}
	if err := hub.Deliver(ctx, session.Batch{RoomID: "lobby"}); !errors.Is(err, context.Canceled) {
		t.Errorf("Deliver error = %v", err)
	}
}

func TestSnapshotStreamIsReadable(t *testing.T) {
	hub := NewHub(nil)
	if err := hub.Create("lobby", nil); err != nil {
		t.Fatalf("Create: %v", err)
	}
	stream, err := hub.FetchSnapshot(context.Background(), "lobby")
	if err != nil {
		t.Fatalf("FetchSnapshot: %v", err)
	}
	data, err := io.ReadAll(stream)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !strings.HasPrefix(string(data), `{"actor":1}`) {
		t.Errorf("snapshot = %q, want a header for actor 1", data)
	}
}
