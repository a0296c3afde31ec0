// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package crdt

import (
	"cmp"
	"fmt"
	"strconv"
	"strings"
)

type idKind uint8

const (
	idNone idKind = iota
	idRoot
	idPair
)

// rootText is the rendered form of [RootID].
const rootText = "root"

// NodeID identifies a CRDT node. The zero value means "no id" and is
// used for optional references such as the root's parent. NodeID is
// comparable and safe to use as a map key.
type NodeID struct {
	kind    idKind
	actor   uint64
	counter uint64
}

// RootID is the reserved identifier of a tree's single root object. It
// is never produced by an [Allocator].
var RootID = NodeID{kind: idRoot}

// NewNodeID returns the pair identifier (actor, counter).
func NewNodeID(actor, counter uint64) NodeID {
	return NodeID{kind: idPair, actor: actor, counter: counter}
}

// ParseNodeID parses "root" or "actor:counter". Both numbers must be
// canonical base-10 (no sign, no leading zeros) so that a parsed id
// always renders back to the exact input.
func ParseNodeID(text string) (NodeID, error) {
	if text == rootText {
		return RootID, nil
	}
	actorText, counterText, ok := strings.Cut(text, ":")
	if !ok {
		return NodeID{}, fmt.Errorf("crdt: invalid node id %q: want \"actor:counter\" or \"root\"", text)
	}
	actor, err := strconv.ParseUint(actorText, 10, 64)
	if err != nil {
		return NodeID{}, fmt.Errorf("crdt: invalid actor in node id %q: %w", text, err)
	}
	counter, err := strconv.ParseUint(counterText, 10, 64)
	if err != nil {
		return NodeID{}, fmt.Errorf("crdt: invalid counter in node id %q: %w", text, err)
	}
	id := NewNodeID(actor, counter)
	if id.String() != text {
		return NodeID{}, fmt.Errorf("crdt: node id %q is not in canonical form (want %q)", text, id.String())
	}
	return id, nil
}

// MustParseNodeID is like [ParseNodeID] but panics on error. Intended
// for tests and constant tables.
func MustParseNodeID(text string) NodeID {
	id, err := ParseNodeID(text)
	if err != nil {
		panic(err)
	}
	return id
}

// Actor returns the actor component. Zero for the root and zero ids.
func (id NodeID) Actor() uint64 { return id.actor }

// Counter returns the counter component. Zero for the root and zero ids.
func (id NodeID) Counter() uint64 { return id.counter }

// IsRoot reports whether id is [RootID].
func (id NodeID) IsRoot() bool { return id.kind == idRoot }

// IsZero reports whether id is the zero value.
func (id NodeID) IsZero() bool { return id.kind == idNone }

// IsPair reports whether id is an (actor, counter) pair.
func (id NodeID) IsPair() bool { return id.kind == idPair }

func (id NodeID) String() string {
	switch id.kind {
	case idRoot:
		return rootText
	case idPair:
		return strconv.FormatUint(id.actor, 10) + ":" + strconv.FormatUint(id.counter, 10)
	default:
		return ""
	}
}

// Compare orders ids: zero, then root, then pairs by (counter, actor).
// This is the tie-break for concurrently created siblings at the same
// position.
func (id NodeID) Compare(other NodeID) int {
	if id.kind != other.kind {
		return cmp.Compare(id.kind, other.kind)
	}
	if c := cmp.Compare(id.counter, other.counter); c != 0 {
		return c
	}
	return cmp.Compare(id.actor, other.actor)
}

// MarshalText renders the id. The zero id renders as the empty string.
func (id NodeID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText parses an id. The empty string decodes to the zero id.
func (id *NodeID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*id = NodeID{}
		return nil
	}
	parsed, err := ParseNodeID(string(data))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
