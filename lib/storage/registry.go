// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"bufio"
	"bytes"
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"

	"github.com/bureau-foundation/livestate/lib/crdt"
)

// Registry is the flat, validated set of nodes from one snapshot.
// Children of every node are indexed and kept sorted by parentKey,
// with ties broken by node id.
//
// A Registry is not safe for concurrent use. The live tree built from
// it never writes back into it; the only mutating method is Apply.
type Registry struct {
	actor    uint64
	nodes    map[crdt.NodeID]crdt.SerializedNode
	children map[crdt.NodeID][]crdt.NodeID
}

// Load decodes a snapshot stream: a header record followed by any
// number of [id, payload] records in arbitrary order. Records are
// separated by newlines (any JSON whitespace is accepted).
//
// Load indexes every record before validating, so parents need not
// precede their children. All failures match ErrReconstruction.
func Load(r io.Reader) (*Registry, error) {
	decoder := json.NewDecoder(bufio.NewReader(r))

	var raw json.RawMessage
	if err := decoder.Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			err = errors.New("stream is empty")
		}
		return nil, &MalformedRecordError{Record: 0, Err: err}
	}
	header, err := decodeHeader(raw)
	if err != nil {
		return nil, &MalformedRecordError{Record: 0, Err: err}
	}

	nodes := make(map[crdt.NodeID]crdt.SerializedNode)
	for index := 1; ; index++ {
		var record crdt.NodeRecord
		err := decoder.Decode(&record)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &MalformedRecordError{Record: index, Err: err}
		}
		if _, exists := nodes[record.ID]; exists {
			return nil, &DuplicateIDError{ID: record.ID}
		}
		nodes[record.ID] = record.Node
	}
	return newRegistry(header.Actor, nodes)
}

func decodeHeader(raw json.RawMessage) (crdt.Header, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return crdt.Header{}, errors.New(`first record must be a header object like {"actor":1}`)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return crdt.Header{}, err
	}
	if _, ok := fields["actor"]; !ok {
		return crdt.Header{}, errors.New(`header has no "actor" field`)
	}
	var header crdt.Header
	if err := json.Unmarshal(trimmed, &header); err != nil {
		return crdt.Header{}, err
	}
	return header, nil
}

// NewRegistry builds a registry from decoded records, applying the same
// validation as Load. The records' data is copied.
func NewRegistry(actor uint64, records []crdt.NodeRecord) (*Registry, error) {
	nodes := make(map[crdt.NodeID]crdt.SerializedNode, len(records))
	for _, record := range records {
		if record.ID.IsZero() {
			return nil, &InvalidNodeError{Reason: "record has an empty id"}
		}
		if _, exists := nodes[record.ID]; exists {
			return nil, &DuplicateIDError{ID: record.ID}
		}
		node := record.Node
		node.Data = deepCopy(node.Data)
		nodes[record.ID] = node
	}
	return newRegistry(actor, nodes)
}

// NewEmptyRegistry returns a registry holding only an empty root object.
func NewEmptyRegistry(actor uint64) *Registry {
	registry, err := newRegistry(actor, map[crdt.NodeID]crdt.SerializedNode{
		crdt.RootID: {Type: crdt.Object},
	})
	if err != nil {
		panic("storage: empty registry failed validation: " + err.Error())
	}
	return registry
}

func newRegistry(actor uint64, nodes map[crdt.NodeID]crdt.SerializedNode) (*Registry, error) {
	ids := slices.SortedFunc(maps.Keys(nodes), crdt.NodeID.Compare)

	var roots []crdt.NodeID
	for _, id := range ids {
		if nodes[id].ParentID.IsZero() {
			roots = append(roots, id)
		}
	}
	if len(roots) != 1 {
		return nil, &MissingRootError{Roots: roots}
	}
	if !roots[0].IsRoot() {
		return nil, &MissingRootError{Roots: roots, Reason: fmt.Sprintf("parentless node %s is not %q", roots[0], crdt.RootID)}
	}
	if root := nodes[crdt.RootID]; root.Type != crdt.Object {
		return nil, &MissingRootError{Roots: roots, Reason: fmt.Sprintf("root node is a %s, want Object", root.Type)}
	}

	children := make(map[crdt.NodeID][]crdt.NodeID)
	for _, id := range ids {
		node := nodes[id]
		if err := checkPayload(id, &node); err != nil {
			return nil, err
		}
		nodes[id] = node
		if id.IsRoot() {
			continue
		}
		parent, ok := nodes[node.ParentID]
		if !ok {
			return nil, &DanglingParentError{ID: id, ParentID: node.ParentID}
		}
		if !parent.Type.IsContainer() {
			return nil, &InvalidParentError{ID: id, ParentID: node.ParentID, ParentType: parent.Type, Reason: "registers cannot have children"}
		}
		if node.ParentKey == "" {
			return nil, &InvalidParentError{ID: id, ParentID: node.ParentID, ParentType: parent.Type, Reason: "missing parentKey"}
		}
		children[node.ParentID] = append(children[node.ParentID], id)
	}

	registry := &Registry{actor: actor, nodes: nodes, children: children}
	for parentID, siblings := range children {
		registry.sortChildren(siblings)
		if nodes[parentID].Type == crdt.List {
			continue
		}
		for i := 1; i < len(siblings); i++ {
			previous, current := siblings[i-1], siblings[i]
			if nodes[previous].ParentKey == nodes[current].ParentKey {
				return nil, &DuplicateKeyError{ParentID: parentID, Key: nodes[current].ParentKey, Existing: previous, ID: current}
			}
		}
	}

	reached := 0
	registry.walk(func(crdt.NodeID) { reached++ })
	if reached != len(nodes) {
		visited := make(map[crdt.NodeID]bool, reached)
		registry.walk(func(id crdt.NodeID) { visited[id] = true })
		for _, id := range ids {
			if !visited[id] {
				return nil, &UnreachableNodeError{ID: id}
			}
		}
	}
	return registry, nil
}

// checkPayload validates and normalizes the data carried by a node.
func checkPayload(id crdt.NodeID, node *crdt.SerializedNode) error {
	switch node.Type {
	case crdt.Object:
		if node.Data == nil {
			return nil
		}
		if _, ok := node.Data.(map[string]any); !ok {
			return &InvalidNodeError{ID: id, Reason: fmt.Sprintf("Object data is %T, want a mapping", node.Data)}
		}
	case crdt.List, crdt.Map:
		// Containers carry no inline data; anything present is ignored.
		node.Data = nil
	case crdt.Register:
	default:
		return &InvalidNodeError{ID: id, Reason: fmt.Sprintf("unknown node type %d", uint8(node.Type))}
	}
	return nil
}

func (r *Registry) sortChildren(siblings []crdt.NodeID) {
	slices.SortFunc(siblings, func(a, b crdt.NodeID) int {
		if c := cmp.Compare(r.nodes[a].ParentKey, r.nodes[b].ParentKey); c != 0 {
			return c
		}
		return a.Compare(b)
	})
}

// walk visits every node reachable from the root, breadth-first,
// siblings in key order.
func (r *Registry) walk(visit func(crdt.NodeID)) {
	queue := []crdt.NodeID{crdt.RootID}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visit(id)
		queue = append(queue, r.children[id]...)
	}
}

// Actor returns the actor number from the snapshot header.
func (r *Registry) Actor() uint64 { return r.actor }

// Len returns the number of nodes, including the root.
func (r *Registry) Len() int { return len(r.nodes) }

// Node returns the payload of a node. The payload's Data is the
// registry's own storage and must not be modified.
func (r *Registry) Node(id crdt.NodeID) (crdt.SerializedNode, bool) {
	node, ok := r.nodes[id]
	return node, ok
}

// Children returns the ids of a node's children ordered by parentKey,
// ties broken by id. For a List this is element order.
func (r *Registry) Children(id crdt.NodeID) []crdt.NodeID {
	return slices.Clone(r.children[id])
}

// MaxCounter returns the highest counter among node ids minted by
// actor, or 0 if the actor has minted none.
func (r *Registry) MaxCounter(actor uint64) uint64 {
	var highest uint64
	for id := range r.nodes {
		if id.IsPair() && id.Actor() == actor && id.Counter() > highest {
			highest = id.Counter()
		}
	}
	return highest
}

// MaxActor returns the highest actor number among node ids, or 0 if
// the registry holds only the root.
func (r *Registry) MaxActor() uint64 {
	var highest uint64
	for id := range r.nodes {
		if id.IsPair() && id.Actor() > highest {
			highest = id.Actor()
		}
	}
	return highest
}

// Records returns every node in a deterministic order: breadth-first
// from the root, siblings in key order. Data is copied.
func (r *Registry) Records() []crdt.NodeRecord {
	records := make([]crdt.NodeRecord, 0, len(r.nodes))
	r.walk(func(id crdt.NodeID) {
		node := r.nodes[id]
		node.Data = deepCopy(node.Data)
		records = append(records, crdt.NodeRecord{ID: id, Node: node})
	})
	return records
}

// Clone returns an independent deep copy.
func (r *Registry) Clone() *Registry {
	clone := &Registry{
		actor:    r.actor,
		nodes:    make(map[crdt.NodeID]crdt.SerializedNode, len(r.nodes)),
		children: make(map[crdt.NodeID][]crdt.NodeID, len(r.children)),
	}
	for id, node := range r.nodes {
		node.Data = deepCopy(node.Data)
		clone.nodes[id] = node
	}
	for id, siblings := range r.children {
		clone.children[id] = slices.Clone(siblings)
	}
	return clone
}

// WriteTo writes the registry as a snapshot stream with its own actor
// in the header. Equal registries produce identical bytes.
func (r *Registry) WriteTo(w io.Writer) (int64, error) {
	return r.WriteSnapshot(w, r.actor)
}

// WriteSnapshot writes the registry as a snapshot stream whose header
// carries the given actor.
func (r *Registry) WriteSnapshot(w io.Writer, actor uint64) (int64, error) {
	counter := &countingWriter{w: w}
	encoder := json.NewEncoder(counter)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(crdt.Header{Actor: actor}); err != nil {
		return counter.n, fmt.Errorf("storage: writing snapshot header: %w", err)
	}
	var err error
	r.walk(func(id crdt.NodeID) {
		if err != nil {
			return
		}
		if encodeErr := encoder.Encode(crdt.NodeRecord{ID: id, Node: r.nodes[id]}); encodeErr != nil {
			err = fmt.Errorf("storage: writing node %s: %w", id, encodeErr)
		}
	})
	return counter.n, err
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
