// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/bureau-foundation/livestate/lib/crdt"
)

// List is an ordered sequence. Elements are child nodes ordered by
// position key; plain values are stored as Register children.
type List struct {
	nodeBase
	items []Node
}

// NewList returns a detached list holding initial, in order.
func NewList(initial []any) (*List, error) {
	list := &List{items: make([]Node, 0, len(initial))}
	for i, value := range initial {
		child, err := childValue(value)
		if err != nil {
			if invalid, ok := err.(*InvalidValueError); ok {
				invalid.Path = fmt.Sprintf("[%d]", i) + invalid.Path
			}
			unclaim(list.items)
			return nil, err
		}
		child.base().claimed = true
		list.items = append(list.items, child)
	}
	return list, nil
}

func (l *List) Type() crdt.Type { return crdt.List }

// Len returns the number of elements.
func (l *List) Len() int { return len(l.items) }

// Get returns the element at index: the value of a Register, or the
// live node itself.
func (l *List) Get(index int) (any, bool) {
	if index < 0 || index >= len(l.items) {
		return nil, false
	}
	return unwrap(l.items[index]), true
}

// At returns the child node at index.
func (l *List) At(index int) (Node, bool) {
	if index < 0 || index >= len(l.items) {
		return nil, false
	}
	return l.items[index], true
}

// Nodes returns the child nodes in order.
func (l *List) Nodes() []Node { return slices.Clone(l.items) }

// Insert places value at index, shifting later elements. Index may
// equal Len to append.
func (l *List) Insert(index int, value any) error {
	if err := l.writable(); err != nil {
		return err
	}
	if index < 0 || index > len(l.items) {
		return fmt.Errorf("%w: insert at %d in list of %d", ErrIndexOutOfRange, index, len(l.items))
	}
	child, err := childValue(value)
	if err != nil {
		return err
	}
	key := l.position(l.items, index)
	l.items = slices.Insert(l.items, index, child)
	l.doc.attach(child, l.id, key, "", crdt.NodeID{})
	return nil
}

// Push appends value.
func (l *List) Push(value any) error {
	return l.Insert(len(l.items), value)
}

// Set replaces the element at index. The replacement takes the old
// element's position and is recorded as a creation op with intent
// "set" naming the replaced node.
func (l *List) Set(index int, value any) error {
	if err := l.writable(); err != nil {
		return err
	}
	if index < 0 || index >= len(l.items) {
		return fmt.Errorf("%w: set at %d in list of %d", ErrIndexOutOfRange, index, len(l.items))
	}
	child, err := childValue(value)
	if err != nil {
		return err
	}
	old := l.items[index]
	l.items[index] = child
	l.doc.attach(child, l.id, old.base().key, crdt.IntentSet, old.ID())
	l.doc.release(old)
	return nil
}

// Delete removes the element at index and its subtree.
func (l *List) Delete(index int) error {
	if err := l.writable(); err != nil {
		return err
	}
	if index < 0 || index >= len(l.items) {
		return fmt.Errorf("%w: delete at %d in list of %d", ErrIndexOutOfRange, index, len(l.items))
	}
	old := l.items[index]
	l.doc.recorder.record(crdt.Op{Type: crdt.OpDeleteCrdt, ID: old.ID()})
	l.items = slices.Delete(l.items, index, index+1)
	l.doc.release(old)
	return nil
}

// Move moves the element at from so that it ends up at index to.
func (l *List) Move(from, to int) error {
	if err := l.writable(); err != nil {
		return err
	}
	if from < 0 || from >= len(l.items) || to < 0 || to >= len(l.items) {
		return fmt.Errorf("%w: move %d to %d in list of %d", ErrIndexOutOfRange, from, to, len(l.items))
	}
	if from == to {
		return nil
	}
	moving := l.items[from]
	rest := slices.Delete(slices.Clone(l.items), from, from+1)
	key := l.position(rest, to)
	moving.base().key = key
	l.doc.recorder.record(crdt.Op{Type: crdt.OpSetParentKey, ID: moving.ID(), ParentKey: key})
	l.items = slices.Insert(rest, to, moving)
	return nil
}

// Clear deletes every element, recording one DeleteCrdt per element in
// list order.
func (l *List) Clear() error {
	if err := l.writable(); err != nil {
		return err
	}
	for _, item := range l.items {
		l.doc.recorder.record(crdt.Op{Type: crdt.OpDeleteCrdt, ID: item.ID()})
	}
	for _, item := range l.items {
		l.doc.release(item)
	}
	l.items = nil
	return nil
}

// position returns a key for a new element at slot within order, the
// list's elements excluding the one being placed. When no key fits
// between the neighbors, every element of order is re-keyed with
// evenly spread keys, and a SetParentKey op is recorded for each one
// whose key changed.
func (l *List) position(order []Node, slot int) string {
	var before, after string
	if slot > 0 {
		before = order[slot-1].base().key
	}
	if slot < len(order) {
		after = order[slot].base().key
	}
	key, err := l.doc.positions.Between(before, after)
	if err == nil {
		return key
	}

	keys := l.doc.positions.Spread(len(order) + 1)
	for i, sibling := range order {
		spread := keys[i]
		if i >= slot {
			spread = keys[i+1]
		}
		b := sibling.base()
		if b.key == spread {
			continue
		}
		b.key = spread
		l.doc.recorder.record(crdt.Op{Type: crdt.OpSetParentKey, ID: b.id, ParentKey: spread})
	}
	return keys[slot]
}

// ToImmutable returns the list as a []any. An empty list projects as an
// empty, non-nil slice.
func (l *List) ToImmutable() any {
	out := make([]any, len(l.items))
	for i, item := range l.items {
		out[i] = item.ToImmutable()
	}
	return out
}

// MarshalJSON encodes the immutable projection.
func (l *List) MarshalJSON() ([]byte, error) { return json.Marshal(l.ToImmutable()) }
