// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"encoding/json"
	"maps"
	"slices"

	"github.com/bureau-foundation/livestate/lib/crdt"
)

// Object is a key-value container. Plain JSON values are stored as
// fields of the object itself; live nodes are stored as children. A
// key holds either a field or a child, never both.
type Object struct {
	nodeBase
	fields   map[string]any
	children map[string]Node
}

// NewObject returns a detached object holding initial. Values are
// plain JSON-compatible data or detached live nodes.
func NewObject(initial map[string]any) (*Object, error) {
	object := &Object{fields: make(map[string]any), children: make(map[string]Node)}
	fail := func(err error) (*Object, error) {
		unclaim(slices.Collect(maps.Values(object.children)))
		return nil, err
	}
	for _, key := range slices.Sorted(maps.Keys(initial)) {
		if key == "" {
			return fail(ErrEmptyKey)
		}
		value := initial[key]
		if node, ok := value.(Node); ok {
			if err := claimable(node); err != nil {
				return fail(err)
			}
			node.base().claimed = true
			object.children[key] = node
			continue
		}
		canonical, err := canonicalizeAt(joinPath("", key), value)
		if err != nil {
			return fail(err)
		}
		object.fields[key] = canonical
	}
	return object, nil
}

func (o *Object) Type() crdt.Type { return crdt.Object }

// Get returns the value under key: a copy of a plain field, the value
// of a Register child, or the live child node.
func (o *Object) Get(key string) (any, bool) {
	if child, ok := o.children[key]; ok {
		return unwrap(child), true
	}
	value, ok := o.fields[key]
	return deepCopy(value), ok
}

// Child returns the live child under key, if the key holds one.
func (o *Object) Child(key string) (Node, bool) {
	child, ok := o.children[key]
	return child, ok
}

// GetObject returns the child Object under key.
func (o *Object) GetObject(key string) (*Object, bool) {
	child, ok := o.children[key].(*Object)
	return child, ok
}

// GetList returns the child List under key.
func (o *Object) GetList(key string) (*List, bool) {
	child, ok := o.children[key].(*List)
	return child, ok
}

// GetMap returns the child Map under key.
func (o *Object) GetMap(key string) (*Map, bool) {
	child, ok := o.children[key].(*Map)
	return child, ok
}

// Has reports whether key holds a field or a child.
func (o *Object) Has(key string) bool {
	if _, ok := o.children[key]; ok {
		return true
	}
	_, ok := o.fields[key]
	return ok
}

// Keys returns every key in sorted order.
func (o *Object) Keys() []string {
	keys := slices.Collect(maps.Keys(o.fields))
	for key := range o.children {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	return keys
}

// Len returns the number of keys.
func (o *Object) Len() int { return len(o.fields) + len(o.children) }

// Set stores value under key, replacing any field or child there.
func (o *Object) Set(key string, value any) error {
	return o.Update(map[string]any{key: value})
}

// Update stores several values at once. Plain values are recorded as a
// single UpdateObject op; each live node is recorded as its own
// creation ops, in key order. Nothing is recorded if any value is
// invalid.
func (o *Object) Update(values map[string]any) error {
	if err := o.writable(); err != nil {
		return err
	}
	plain := make(map[string]any)
	nodes := make(map[string]Node)
	seen := make(map[Node]bool)
	for _, key := range slices.Sorted(maps.Keys(values)) {
		if key == "" {
			return ErrEmptyKey
		}
		value := values[key]
		if node, ok := value.(Node); ok {
			if err := claimable(node); err != nil {
				return err
			}
			if seen[node] {
				return ErrAlreadyAttached
			}
			seen[node] = true
			nodes[key] = node
			continue
		}
		canonical, err := canonicalizeAt(joinPath("", key), value)
		if err != nil {
			return err
		}
		plain[key] = canonical
	}

	if len(plain) > 0 {
		o.doc.recorder.record(crdt.Op{Type: crdt.OpUpdateObject, ID: o.id, Data: deepCopy(plain)})
		for key, value := range plain {
			o.dropChild(key)
			o.fields[key] = value
		}
	}
	for _, key := range slices.Sorted(maps.Keys(nodes)) {
		node := nodes[key]
		o.dropChild(key)
		delete(o.fields, key)
		o.children[key] = node
		o.doc.attach(node, o.id, key, "", crdt.NodeID{})
	}
	return nil
}

// Delete removes the field or child under key. Deleting a missing key
// records nothing.
func (o *Object) Delete(key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	if err := o.writable(); err != nil {
		return err
	}
	if !o.Has(key) {
		return nil
	}
	o.doc.recorder.record(crdt.Op{Type: crdt.OpDeleteObjectKey, ID: o.id, Key: key})
	o.dropChild(key)
	delete(o.fields, key)
	return nil
}

func (o *Object) dropChild(key string) {
	if child, ok := o.children[key]; ok {
		delete(o.children, key)
		o.doc.release(child)
	}
}

// ToImmutable returns the object as a map[string]any.
func (o *Object) ToImmutable() any {
	out := make(map[string]any, o.Len())
	for key, value := range o.fields {
		out[key] = deepCopy(value)
	}
	for key, child := range o.children {
		out[key] = child.ToImmutable()
	}
	return out
}

// MarshalJSON encodes the immutable projection.
func (o *Object) MarshalJSON() ([]byte, error) { return json.Marshal(o.ToImmutable()) }
