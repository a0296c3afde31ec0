// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package crdt

import "strconv"

// OpCode identifies the kind of an operation. The numeric values are
// wire codes.
type OpCode uint8

const (
	OpInit            OpCode = 0
	OpSetParentKey    OpCode = 1
	OpCreateList      OpCode = 2
	OpUpdateObject    OpCode = 3
	OpCreateObject    OpCode = 4
	OpDeleteCrdt      OpCode = 5
	OpDeleteObjectKey OpCode = 6
	OpCreateMap       OpCode = 7
	OpCreateRegister  OpCode = 8
)

func (c OpCode) String() string {
	switch c {
	case OpInit:
		return "INIT"
	case OpSetParentKey:
		return "SET_PARENT_KEY"
	case OpCreateList:
		return "CREATE_LIST"
	case OpUpdateObject:
		return "UPDATE_OBJECT"
	case OpCreateObject:
		return "CREATE_OBJECT"
	case OpDeleteCrdt:
		return "DELETE_CRDT"
	case OpDeleteObjectKey:
		return "DELETE_OBJECT_KEY"
	case OpCreateMap:
		return "CREATE_MAP"
	case OpCreateRegister:
		return "CREATE_REGISTER"
	default:
		return "OpCode(" + strconv.Itoa(int(c)) + ")"
	}
}

// CreateOpFor returns the creation op code for a node type.
func CreateOpFor(t Type) OpCode {
	switch t {
	case Object:
		return OpCreateObject
	case List:
		return OpCreateList
	case Map:
		return OpCreateMap
	default:
		return OpCreateRegister
	}
}

// CreatedType returns the node type a creation op produces. ok is false
// for non-creation ops.
func (c OpCode) CreatedType() (t Type, ok bool) {
	switch c {
	case OpCreateObject:
		return Object, true
	case OpCreateList:
		return List, true
	case OpCreateMap:
		return Map, true
	case OpCreateRegister:
		return Register, true
	default:
		return 0, false
	}
}

// IntentSet marks a creation op that replaces the list element named
// by DeletedID at the same position.
const IntentSet = "set"

// Op is one recorded mutation. Which fields are meaningful depends on
// Type:
//
//   - Create ops: ID (new node), ParentID, ParentKey, Data (Object
//     fields or Register value), and optionally Intent/DeletedID for a
//     list element replacement.
//   - OpUpdateObject: ID (target object) and Data (fields to set).
//   - OpDeleteObjectKey: ID (target object) and Key.
//   - OpDeleteCrdt: ID (node to delete with its subtree).
//   - OpSetParentKey: ID (list element) and ParentKey (new position).
type Op struct {
	OpID      NodeID `json:"opId,omitzero"`
	Type      OpCode `json:"type"`
	ID        NodeID `json:"id"`
	ParentID  NodeID `json:"parentId,omitzero"`
	ParentKey string `json:"parentKey,omitempty"`
	Data      any    `json:"data,omitempty"`
	Key       string `json:"key,omitempty"`
	Intent    string `json:"intent,omitempty"`
	DeletedID NodeID `json:"deletedId,omitzero"`
}

// IsCreate reports whether the op creates a node.
func (op Op) IsCreate() bool {
	_, ok := op.Type.CreatedType()
	return ok
}
