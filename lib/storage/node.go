// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"github.com/bureau-foundation/livestate/lib/crdt"
)

// Node is a live tree node: one of *Object, *List, *Map or *Register.
// The set is closed; use a type switch to dispatch.
//
// A node is either attached to a Document, in which case it has an id
// and writes to it are recorded, or detached: freshly constructed with
// NewObject, NewList or NewMap and not yet placed in a tree. Detached
// nodes carry their initial contents and become attached, together
// with their whole subtree, when stored into an attached container.
type Node interface {
	// ID returns the node id. Zero for detached nodes.
	ID() crdt.NodeID
	// Type returns the CRDT type of the node.
	Type() crdt.Type
	// Parent returns the id of the parent node. Zero for the root and
	// for detached nodes. Resolve it with Document.Node.
	Parent() crdt.NodeID
	// ParentKey returns the key or list position under which the node
	// is attached.
	ParentKey() string
	// ToImmutable returns a plain, fully detached copy of the node's
	// current value.
	ToImmutable() any

	base() *nodeBase
}

type nodeBase struct {
	id     crdt.NodeID
	parent crdt.NodeID
	key    string
	doc    *Document

	// claimed is set once the node has been given a parent, attached
	// or not. A claimed node cannot be placed anywhere else.
	claimed bool
	deleted bool
}

func (b *nodeBase) ID() crdt.NodeID     { return b.id }
func (b *nodeBase) Parent() crdt.NodeID { return b.parent }
func (b *nodeBase) ParentKey() string   { return b.key }
func (b *nodeBase) base() *nodeBase     { return b }

// Deleted reports whether the node has been removed from its document.
func (b *nodeBase) Deleted() bool { return b.deleted }

func (b *nodeBase) writable() error {
	switch {
	case b.doc == nil:
		return ErrDetached
	case b.deleted:
		return ErrNodeDeleted
	case b.doc.closed:
		return ErrDocumentClosed
	}
	return nil
}

// claimable reports whether node may be given a parent.
func claimable(node Node) error {
	if isNilNode(node) {
		return &InvalidValueError{Reason: "nil live node"}
	}
	if b := node.base(); b.claimed || b.doc != nil {
		return ErrAlreadyAttached
	}
	return nil
}

// unclaim undoes the claims a failed constructor made on its elements.
func unclaim(nodes []Node) {
	for _, node := range nodes {
		node.base().claimed = false
	}
}

func isNilNode(node Node) bool {
	switch n := node.(type) {
	case nil:
		return true
	case *Object:
		return n == nil
	case *List:
		return n == nil
	case *Map:
		return n == nil
	case *Register:
		return n == nil
	}
	return false
}

// childValue converts a List or Map element into a child node: live
// nodes are used as is, plain values are wrapped in a Register.
func childValue(value any) (Node, error) {
	if node, ok := value.(Node); ok {
		if err := claimable(node); err != nil {
			return nil, err
		}
		return node, nil
	}
	canonical, err := canonicalize(value)
	if err != nil {
		return nil, err
	}
	return &Register{value: canonical}, nil
}

// unwrap returns what a container read accessor hands back for a
// child: the value of a Register, or the live node itself.
func unwrap(node Node) any {
	if register, ok := node.(*Register); ok {
		return register.Value()
	}
	return node
}

// ToImmutable returns a plain, fully detached copy of node's value:
// Object and Map become map[string]any, List becomes []any (never
// nil), Register becomes its JSON value. It returns nil for a nil node.
func ToImmutable(node Node) any {
	if isNilNode(node) {
		return nil
	}
	return node.ToImmutable()
}
