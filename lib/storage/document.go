// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"errors"
	"io"
	"maps"
	"slices"

	"github.com/bureau-foundation/livestate/lib/crdt"
)

// BuildOptions configures Build.
type BuildOptions struct {
	// Actor is the actor number used to mint ids for nodes created in
	// this document. Node ids continue above the highest counter the
	// registry holds for this actor.
	Actor uint64

	// MaxPositionLength caps list position keys before the sibling
	// range is re-keyed. Zero means crdt.DefaultMaxPositionLength.
	MaxPositionLength int
}

// Document is the live, mutable tree built from a registry. The
// document owns every node in an arena keyed by id; nodes refer to
// their parent by id and resolve it through the arena.
//
// Writes change only the document and append ops to its Recorder. The
// registry the document was built from is never modified. A Document
// is not safe for concurrent use.
type Document struct {
	nodes     map[crdt.NodeID]Node
	root      *Object
	ids       *crdt.Allocator
	recorder  *Recorder
	positions crdt.Positions
	closed    bool
}

// LoadSnapshot decodes a snapshot stream and builds its document,
// minting new ids for the actor named in the stream header.
func LoadSnapshot(r io.Reader) (*Document, error) {
	registry, err := Load(r)
	if err != nil {
		return nil, err
	}
	return Build(registry, BuildOptions{Actor: registry.Actor()})
}

// Build instantiates one live node per registry entry, breadth-first
// from the root, each linked to its already-built parent. List
// elements keep the registry's position order.
func Build(registry *Registry, options BuildOptions) (*Document, error) {
	if registry == nil {
		return nil, errors.New("storage: build from nil registry")
	}
	doc := &Document{
		nodes:     make(map[crdt.NodeID]Node, registry.Len()),
		ids:       crdt.NewAllocator(options.Actor, registry.MaxCounter(options.Actor)),
		recorder:  newRecorder(options.Actor),
		positions: crdt.Positions{MaxLength: options.MaxPositionLength},
	}

	registry.walk(func(id crdt.NodeID) {
		serialized := registry.nodes[id]
		node := liveNode(serialized)
		b := node.base()
		b.id = id
		b.parent = serialized.ParentID
		b.key = serialized.ParentKey
		b.doc = doc
		b.claimed = true
		doc.nodes[id] = node

		if id.IsRoot() {
			doc.root = node.(*Object)
			return
		}
		switch parent := doc.nodes[serialized.ParentID].(type) {
		case *Object:
			delete(parent.fields, serialized.ParentKey)
			parent.children[serialized.ParentKey] = node
		case *Map:
			parent.entries[serialized.ParentKey] = node
		case *List:
			parent.items = append(parent.items, node)
		}
	})
	if doc.root == nil {
		return nil, &MissingRootError{}
	}
	return doc, nil
}

func liveNode(serialized crdt.SerializedNode) Node {
	switch serialized.Type {
	case crdt.Object:
		fields, _ := deepCopy(serialized.Data).(map[string]any)
		if fields == nil {
			fields = make(map[string]any)
		}
		return &Object{fields: fields, children: make(map[string]Node)}
	case crdt.List:
		return &List{}
	case crdt.Map:
		return &Map{entries: make(map[string]Node)}
	default:
		return &Register{value: deepCopy(serialized.Data)}
	}
}

// Root returns the root object.
func (d *Document) Root() *Object { return d.root }

// Node returns the attached node with the given id.
func (d *Document) Node(id crdt.NodeID) (Node, bool) {
	node, ok := d.nodes[id]
	return node, ok
}

// Len returns the number of attached nodes, including the root.
func (d *Document) Len() int { return len(d.nodes) }

// Actor returns the actor this document mints ids for.
func (d *Document) Actor() uint64 { return d.ids.Actor() }

// Recorder returns the document's op log.
func (d *Document) Recorder() *Recorder { return d.recorder }

// Ops returns a copy of the ops recorded so far.
func (d *Document) Ops() []crdt.Op { return d.recorder.Ops() }

// Discard drops the recorded ops. The in-memory tree keeps its
// changes; callers discarding a failed session drop the document too.
func (d *Document) Discard() { d.recorder.Discard() }

// Close forbids further writes. Reads keep working.
func (d *Document) Close() { d.closed = true }

// ToImmutable projects the whole tree.
func (d *Document) ToImmutable() any { return d.root.ToImmutable() }

// attach gives a detached subtree ids and places it under parent at
// key, recording one creation op per node, parents before children.
// The caller has already linked node into the parent container.
func (d *Document) attach(node Node, parent crdt.NodeID, key, intent string, replaced crdt.NodeID) {
	b := node.base()
	b.id = d.ids.Next()
	b.parent = parent
	b.key = key
	b.doc = d
	b.claimed = true
	d.nodes[b.id] = node

	op := crdt.Op{
		Type:      crdt.CreateOpFor(node.Type()),
		ID:        b.id,
		ParentID:  parent,
		ParentKey: key,
		Intent:    intent,
		DeletedID: replaced,
	}
	switch n := node.(type) {
	case *Object:
		op.Data = deepCopy(n.fields)
	case *Register:
		op.Data = deepCopy(n.value)
	}
	d.recorder.record(op)

	switch n := node.(type) {
	case *Object:
		for _, childKey := range slices.Sorted(maps.Keys(n.children)) {
			d.attach(n.children[childKey], b.id, childKey, "", crdt.NodeID{})
		}
	case *Map:
		for _, childKey := range slices.Sorted(maps.Keys(n.entries)) {
			d.attach(n.entries[childKey], b.id, childKey, "", crdt.NodeID{})
		}
	case *List:
		keys := d.positions.Spread(len(n.items))
		for i, item := range n.items {
			d.attach(item, b.id, keys[i], "", crdt.NodeID{})
		}
	}
}

// release removes a subtree from the arena. Its nodes stay readable but
// reject writes.
func (d *Document) release(node Node) {
	b := node.base()
	b.deleted = true
	delete(d.nodes, b.id)
	switch n := node.(type) {
	case *Object:
		for _, child := range n.children {
			d.release(child)
		}
	case *Map:
		for _, child := range n.entries {
			d.release(child)
		}
	case *List:
		for _, item := range n.items {
			d.release(item)
		}
	}
}
