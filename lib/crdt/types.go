// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package crdt

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Type is the kind of a CRDT node. The numeric values are wire codes.
type Type uint8

const (
	// Object is a key-value container holding plain JSON fields and
	// nested live children. The root is always an Object.
	Object Type = 0
	// List is an ordered sequence of children placed by position key.
	List Type = 1
	// Map is a key-value container whose every value is a child node.
	Map Type = 2
	// Register is a leaf holding one JSON value, used for plain values
	// stored inside Lists and Maps.
	Register Type = 3
)

func (t Type) String() string {
	switch t {
	case Object:
		return "Object"
	case List:
		return "List"
	case Map:
		return "Map"
	case Register:
		return "Register"
	default:
		return "Type(" + strconv.Itoa(int(t)) + ")"
	}
}

// Valid reports whether t is one of the four node types.
func (t Type) Valid() bool { return t <= Register }

// IsContainer reports whether nodes of this type may have children.
func (t Type) IsContainer() bool { return t == Object || t == List || t == Map }

// MarshalJSON encodes the numeric wire code.
func (t Type) MarshalJSON() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("crdt: cannot encode invalid node type %d", uint8(t))
	}
	return []byte(strconv.Itoa(int(t))), nil
}

// UnmarshalJSON accepts the numeric wire code or a type name ("Object",
// "Root", "List", "Map", "Register"; case-insensitive).
func (t *Type) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var name string
		if err := json.Unmarshal(data, &name); err != nil {
			return err
		}
		switch strings.ToLower(name) {
		case "object", "root":
			*t = Object
		case "list":
			*t = List
		case "map":
			*t = Map
		case "register":
			*t = Register
		default:
			return fmt.Errorf("crdt: unknown node type %q", name)
		}
		return nil
	}
	var code uint8
	if err := json.Unmarshal(data, &code); err != nil {
		return fmt.Errorf("crdt: invalid node type %s: %w", data, err)
	}
	if !Type(code).Valid() {
		return fmt.Errorf("crdt: unknown node type code %d", code)
	}
	*t = Type(code)
	return nil
}

// SerializedNode is the payload half of a snapshot record. ParentID is
// zero only for the root. ParentKey is the Object/Map key or the List
// position key under which the node is attached.
//
// Data holds the plain fields of an Object (map[string]any) or the
// value of a Register. List and Map nodes carry no data.
type SerializedNode struct {
	Type      Type   `json:"type"`
	ParentID  NodeID `json:"parentId,omitzero"`
	ParentKey string `json:"parentKey,omitempty"`
	Data      any    `json:"data,omitempty"`
}

// UnmarshalJSON decodes a payload. The type field is required; a
// missing or null type is an error rather than an Object.
func (n *SerializedNode) UnmarshalJSON(data []byte) error {
	type plain SerializedNode
	var payload struct {
		plain
		Type *Type `json:"type"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return err
	}
	if payload.Type == nil {
		return errors.New("crdt: node payload has no type")
	}
	*n = SerializedNode(payload.plain)
	n.Type = *payload.Type
	return nil
}

// Fields returns the plain fields of an Object node. The map is the
// node's own storage; callers that mutate it must copy first.
func (n SerializedNode) Fields() map[string]any {
	fields, _ := n.Data.(map[string]any)
	return fields
}

// NodeRecord is one snapshot record: a node id and its payload. It
// encodes as the JSON array [id, payload].
type NodeRecord struct {
	ID   NodeID
	Node SerializedNode
}

// MarshalJSON encodes the record as [id, payload].
func (r NodeRecord) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{r.ID, r.Node})
}

// UnmarshalJSON decodes [id, payload].
func (r *NodeRecord) UnmarshalJSON(data []byte) error {
	var tuple []json.RawMessage
	if err := json.Unmarshal(data, &tuple); err != nil {
		return fmt.Errorf("crdt: node record must be a [id, payload] array: %w", err)
	}
	if len(tuple) != 2 {
		return fmt.Errorf("crdt: node record has %d elements, want 2", len(tuple))
	}
	var id NodeID
	if err := json.Unmarshal(tuple[0], &id); err != nil {
		return fmt.Errorf("crdt: node record id: %w", err)
	}
	if id.IsZero() {
		return fmt.Errorf("crdt: node record has an empty id")
	}
	var node SerializedNode
	if err := json.Unmarshal(tuple[1], &node); err != nil {
		return fmt.Errorf("crdt: node record %s payload: %w", id, err)
	}
	r.ID = id
	r.Node = node
	return nil
}

// Header is the first record of a snapshot stream. Actor is the actor
// number assigned to the session that fetched the snapshot.
type Header struct {
	Actor uint64 `json:"actor"`
}
