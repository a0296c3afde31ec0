// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package crdt

import (
	"encoding/json"
	"slices"
	"testing"
)

func TestParseNodeID(t *testing.T) {
	tests := []struct {
		input   string
		want    NodeID
		wantErr bool
	}{
		{input: "root", want: RootID},
		{input: "0:1", want: NewNodeID(0, 1)},
		{input: "123:45", want: NewNodeID(123, 45)},
		{input: "", wantErr: true},
		{input: "1", wantErr: true},
		{input: "a:1", wantErr: true},
		{input: "1:b", wantErr: true},
		{input: "-1:2", wantErr: true},
		{input: "01:2", wantErr: true},
		{input: "1:2:3", wantErr: true},
		{input: "ROOT", wantErr: true},
	}
	for _, test := range tests {
		t.Run(test.input, func(t *testing.T) {
			got, err := ParseNodeID(test.input)
			if test.wantErr {
				if err == nil {
					t.Fatalf("ParseNodeID(%q) = %v, want error", test.input, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseNodeID(%q): %v", test.input, err)
			}
			if got != test.want {
				t.Errorf("ParseNodeID(%q) = %v, want %v", test.input, got, test.want)
			}
			if got.String() != test.input {
				t.Errorf("String() = %q, want %q", got.String(), test.input)
			}
		})
	}
}

func TestNodeIDCompare(t *testing.T) {
	// Ordering is (counter, actor) with root first.
	ids := []NodeID{
		NewNodeID(2, 3),
		NewNodeID(9, 1),
		RootID,
		NewNodeID(1, 3),
		NewNodeID(0, 2),
	}
	slices.SortFunc(ids, NodeID.Compare)

	want := []string{"root", "9:1", "0:2", "1:3", "2:3"}
	for i, id := range ids {
		if id.String() != want[i] {
			t.Errorf("sorted[%d] = %s, want %s", i, id, want[i])
		}
	}
}

func TestNodeIDJSON(t *testing.T) {
	type holder struct {
		ID     NodeID `json:"id"`
		Parent NodeID `json:"parent,omitzero"`
	}

	data, err := json.Marshal(holder{ID: NewNodeID(4, 7)})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(data) != `{"id":"4:7"}` {
		t.Errorf("Marshal = %s, want {\"id\":\"4:7\"}", data)
	}

	var decoded holder
	if err := json.Unmarshal([]byte(`{"id":"root","parent":"1:2"}`), &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !decoded.ID.IsRoot() || decoded.Parent != NewNodeID(1, 2) {
		t.Errorf("Unmarshal = %+v", decoded)
	}

	if err := json.Unmarshal([]byte(`{"id":"nope"}`), &decoded); err == nil {
		t.Error("Unmarshal of invalid id succeeded")
	}
}

func TestAllocatorSequence(t *testing.T) {
	const actor, seed, count = 7, 41, 100
	allocator := NewAllocator(actor, seed)

	seen := make(map[NodeID]bool, count)
	for i := 1; i <= count; i++ {
		id := allocator.Next()
		if seen[id] {
			t.Fatalf("Next returned %s twice", id)
		}
		seen[id] = true
		if id != NewNodeID(actor, seed+uint64(i)) {
			t.Fatalf("Next #%d = %s, want %d:%d", i, id, actor, seed+uint64(i))
		}
	}
	if allocator.Counter() != seed+count {
		t.Errorf("Counter() = %d, want %d", allocator.Counter(), seed+count)
	}
}

func TestAllocatorStartsAtOne(t *testing.T) {
	allocator := NewAllocator(1, 0)
	if id := allocator.Next(); id.String() != "1:1" {
		t.Errorf("first id = %s, want 1:1", id)
	}
}
