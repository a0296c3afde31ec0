// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/bureau-foundation/livestate/lib/crdt"
)

// Changes summarizes the effect of Registry.Apply.
type Changes struct {
	// Upserted lists nodes created or modified by the batch that are
	// still present afterwards, in id order.
	Upserted []crdt.NodeID
	// Deleted lists nodes present before the batch and absent after
	// it, in id order.
	Deleted []crdt.NodeID
	// Skipped lists the indices of ops whose target or parent no
	// longer exists. Such ops lost a race with a concurrent delete and
	// are dropped, matching what every client converges to.
	Skipped []int
}

// Empty reports whether the batch changed nothing.
func (c Changes) Empty() bool {
	return len(c.Upserted) == 0 && len(c.Deleted) == 0
}

// Errors wrapped by ApplyError.
var (
	ErrUnsupportedOp = errors.New("unsupported op")
	ErrTypeMismatch  = errors.New("op does not match target node type")
	ErrDuplicateNode = errors.New("create op reuses an existing node id")
	ErrRootImmutable = errors.New("the root cannot be created, moved, or deleted")
	ErrInvalidOp     = errors.New("malformed op")
)

// Apply applies a batch of ops with the semantics a room uses to merge
// client batches:
//
//   - A create under an Object or Map key replaces whatever child
//     holds that key. Under an Object it also removes the plain field
//     of the same name.
//   - A create under a List whose position is already taken moves
//     just after the existing sibling. A create with intent "set"
//     first deletes the node named by deletedId.
//   - UpdateObject sets plain fields, replacing children with the same
//     keys. DeleteObjectKey removes a field or child.
//   - DeleteCrdt removes a node and its subtree.
//   - SetParentKey repositions a List element.
//
// Ops whose target or parent is missing are skipped. Any other invalid
// op fails the whole batch with an *ApplyError and leaves the registry
// unchanged.
func (r *Registry) Apply(ops []crdt.Op) (Changes, error) {
	working := r.Clone()
	state := &applyState{
		registry: working,
		touched:  make(map[crdt.NodeID]bool),
	}
	for index, op := range ops {
		skipped, err := state.apply(op)
		if err != nil {
			return Changes{}, &ApplyError{Index: index, Op: op, Err: err}
		}
		if skipped {
			state.skipped = append(state.skipped, index)
		}
	}

	var changes Changes
	for id := range state.touched {
		if _, ok := working.nodes[id]; ok {
			changes.Upserted = append(changes.Upserted, id)
		}
	}
	for id := range r.nodes {
		if _, ok := working.nodes[id]; !ok {
			changes.Deleted = append(changes.Deleted, id)
		}
	}
	slices.SortFunc(changes.Upserted, crdt.NodeID.Compare)
	slices.SortFunc(changes.Deleted, crdt.NodeID.Compare)
	changes.Skipped = state.skipped

	r.nodes = working.nodes
	r.children = working.children
	return changes, nil
}

type applyState struct {
	registry *Registry
	touched  map[crdt.NodeID]bool
	skipped  []int
}

func (s *applyState) apply(op crdt.Op) (skipped bool, err error) {
	if op.ID.IsZero() {
		return false, fmt.Errorf("%w: missing id", ErrInvalidOp)
	}
	if created, ok := op.Type.CreatedType(); ok {
		return s.create(op, created)
	}
	switch op.Type {
	case crdt.OpUpdateObject:
		return s.updateObject(op)
	case crdt.OpDeleteObjectKey:
		return s.deleteObjectKey(op)
	case crdt.OpDeleteCrdt:
		return s.deleteCrdt(op)
	case crdt.OpSetParentKey:
		return s.setParentKey(op)
	default:
		return false, fmt.Errorf("%w: %s", ErrUnsupportedOp, op.Type)
	}
}

func (s *applyState) create(op crdt.Op, nodeType crdt.Type) (bool, error) {
	r := s.registry
	if op.ID.IsRoot() {
		return false, ErrRootImmutable
	}
	if _, exists := r.nodes[op.ID]; exists {
		return false, fmt.Errorf("%w: %s", ErrDuplicateNode, op.ID)
	}
	if op.ParentKey == "" {
		return false, fmt.Errorf("%w: create without parentKey", ErrInvalidOp)
	}
	parent, ok := r.nodes[op.ParentID]
	if !ok {
		return true, nil
	}
	if !parent.Type.IsContainer() {
		return false, fmt.Errorf("%w: parent %s is a %s", ErrTypeMismatch, op.ParentID, parent.Type)
	}

	node := crdt.SerializedNode{Type: nodeType, ParentID: op.ParentID, ParentKey: op.ParentKey}
	switch nodeType {
	case crdt.Object:
		if op.Data != nil {
			if _, ok := op.Data.(map[string]any); !ok {
				return false, fmt.Errorf("%w: CreateObject data is %T", ErrInvalidOp, op.Data)
			}
			fields, err := canonicalize(op.Data)
			if err != nil {
				return false, err
			}
			node.Data = fields
		}
	case crdt.Register:
		value, err := canonicalize(op.Data)
		if err != nil {
			return false, err
		}
		node.Data = value
	}

	switch parent.Type {
	case crdt.List:
		if op.Intent == crdt.IntentSet && !op.DeletedID.IsZero() {
			if existing, ok := r.nodes[op.DeletedID]; ok && existing.ParentID == op.ParentID {
				r.removeSubtree(op.DeletedID)
			}
		}
		node.ParentKey = r.freePosition(op.ParentID, op.ParentKey)
	default:
		if existing, ok := r.childAt(op.ParentID, op.ParentKey); ok {
			r.removeSubtree(existing)
		}
		if parent.Type == crdt.Object {
			s.dropField(op.ParentID, op.ParentKey)
		}
	}

	r.insertNode(op.ID, node)
	s.touched[op.ID] = true
	return false, nil
}

func (s *applyState) updateObject(op crdt.Op) (bool, error) {
	r := s.registry
	target, ok := r.nodes[op.ID]
	if !ok {
		return true, nil
	}
	if target.Type != crdt.Object {
		return false, fmt.Errorf("%w: UpdateObject on a %s", ErrTypeMismatch, target.Type)
	}
	var updates map[string]any
	if op.Data != nil {
		updates, ok = op.Data.(map[string]any)
		if !ok {
			return false, fmt.Errorf("%w: UpdateObject data is %T", ErrInvalidOp, op.Data)
		}
	}
	if len(updates) == 0 {
		return false, nil
	}

	fields := maps.Clone(target.Fields())
	if fields == nil {
		fields = make(map[string]any, len(updates))
	}
	for key, value := range updates {
		if key == "" {
			return false, fmt.Errorf("%w: UpdateObject with an empty key", ErrInvalidOp)
		}
		canonical, err := canonicalize(value)
		if err != nil {
			return false, err
		}
		fields[key] = canonical
		if child, ok := r.childAt(op.ID, key); ok {
			r.removeSubtree(child)
		}
	}
	target.Data = fields
	r.nodes[op.ID] = target
	s.touched[op.ID] = true
	return false, nil
}

func (s *applyState) deleteObjectKey(op crdt.Op) (bool, error) {
	r := s.registry
	target, ok := r.nodes[op.ID]
	if !ok {
		return true, nil
	}
	if target.Type != crdt.Object {
		return false, fmt.Errorf("%w: DeleteObjectKey on a %s", ErrTypeMismatch, target.Type)
	}
	if op.Key == "" {
		return false, fmt.Errorf("%w: DeleteObjectKey without key", ErrInvalidOp)
	}
	if child, ok := r.childAt(op.ID, op.Key); ok {
		r.removeSubtree(child)
	}
	s.dropField(op.ID, op.Key)
	return false, nil
}

func (s *applyState) deleteCrdt(op crdt.Op) (bool, error) {
	r := s.registry
	if op.ID.IsRoot() {
		return false, ErrRootImmutable
	}
	if _, ok := r.nodes[op.ID]; !ok {
		return true, nil
	}
	r.removeSubtree(op.ID)
	return false, nil
}

func (s *applyState) setParentKey(op crdt.Op) (bool, error) {
	r := s.registry
	if op.ID.IsRoot() {
		return false, ErrRootImmutable
	}
	target, ok := r.nodes[op.ID]
	if !ok {
		return true, nil
	}
	if op.ParentKey == "" {
		return false, fmt.Errorf("%w: SetParentKey without parentKey", ErrInvalidOp)
	}
	if parent := r.nodes[target.ParentID]; parent.Type != crdt.List {
		return false, fmt.Errorf("%w: SetParentKey on a child of a %s", ErrTypeMismatch, parent.Type)
	}
	if target.ParentKey == op.ParentKey {
		return false, nil
	}
	target.ParentKey = op.ParentKey
	r.nodes[op.ID] = target
	r.sortChildren(r.children[target.ParentID])
	s.touched[op.ID] = true
	return false, nil
}

// dropField removes a plain field from an Object node if present.
func (s *applyState) dropField(id crdt.NodeID, key string) {
	r := s.registry
	node := r.nodes[id]
	fields := node.Fields()
	if _, ok := fields[key]; !ok {
		return
	}
	fields = maps.Clone(fields)
	delete(fields, key)
	node.Data = fields
	r.nodes[id] = node
	s.touched[id] = true
}

// childAt returns the child of parent attached under key.
func (r *Registry) childAt(parent crdt.NodeID, key string) (crdt.NodeID, bool) {
	for _, child := range r.children[parent] {
		if r.nodes[child].ParentKey == key {
			return child, true
		}
	}
	return crdt.NodeID{}, false
}

// freePosition returns key if no element of the list holds it, or a
// key just after the element that does.
func (r *Registry) freePosition(list crdt.NodeID, key string) string {
	siblings := r.children[list]
	index, found := slices.BinarySearchFunc(siblings, key, func(id crdt.NodeID, key string) int {
		switch existing := r.nodes[id].ParentKey; {
		case existing < key:
			return -1
		case existing > key:
			return 1
		}
		return 0
	})
	if !found {
		return key
	}
	// Skip every sibling sharing the key.
	for index < len(siblings) && r.nodes[siblings[index]].ParentKey == key {
		index++
	}
	next := ""
	if index < len(siblings) {
		next = r.nodes[siblings[index]].ParentKey
	}
	shifted, err := crdt.Positions{}.Between(key, next)
	if err != nil {
		// No room: keep the shared key and let id order decide.
		return key
	}
	return shifted
}

func (r *Registry) insertNode(id crdt.NodeID, node crdt.SerializedNode) {
	r.nodes[id] = node
	siblings := append(r.children[node.ParentID], id)
	r.sortChildren(siblings)
	r.children[node.ParentID] = siblings
}

// removeSubtree deletes a node, its descendants, and its link from its
// parent.
func (r *Registry) removeSubtree(id crdt.NodeID) {
	node, ok := r.nodes[id]
	if !ok {
		return
	}
	if siblings, ok := r.children[node.ParentID]; ok {
		r.children[node.ParentID] = slices.DeleteFunc(siblings, func(sibling crdt.NodeID) bool { return sibling == id })
	}
	var drop func(crdt.NodeID)
	drop = func(id crdt.NodeID) {
		for _, child := range r.children[id] {
			drop(child)
		}
		delete(r.children, id)
		delete(r.nodes, id)
	}
	drop(id)
}
