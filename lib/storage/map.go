// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"encoding/json"
	"maps"
	"slices"

	"github.com/bureau-foundation/livestate/lib/crdt"
)

// Map is a key-value container whose every value is a child node.
// Plain values are stored as Register children.
type Map struct {
	nodeBase
	entries map[string]Node
}

// NewMap returns a detached map holding initial.
func NewMap(initial map[string]any) (*Map, error) {
	m := &Map{entries: make(map[string]Node, len(initial))}
	for _, key := range slices.Sorted(maps.Keys(initial)) {
		if key == "" {
			return nil, ErrEmptyKey
		}
		child, err := childValue(initial[key])
		if err != nil {
			if invalid, ok := err.(*InvalidValueError); ok {
				invalid.Path = joinPath("", key) + invalid.Path
			}
			unclaim(slices.Collect(maps.Values(m.entries)))
			return nil, err
		}
		child.base().claimed = true
		m.entries[key] = child
	}
	return m, nil
}

func (m *Map) Type() crdt.Type { return crdt.Map }

// Get returns the value under key: the value of a Register, or the
// live child node.
func (m *Map) Get(key string) (any, bool) {
	child, ok := m.entries[key]
	if !ok {
		return nil, false
	}
	return unwrap(child), true
}

// Child returns the child node under key.
func (m *Map) Child(key string) (Node, bool) {
	child, ok := m.entries[key]
	return child, ok
}

// Has reports whether key is present.
func (m *Map) Has(key string) bool {
	_, ok := m.entries[key]
	return ok
}

// Keys returns the keys in sorted order.
func (m *Map) Keys() []string { return slices.Sorted(maps.Keys(m.entries)) }

// Len returns the number of entries.
func (m *Map) Len() int { return len(m.entries) }

// Set stores value under key, replacing any existing entry.
func (m *Map) Set(key string, value any) error {
	if key == "" {
		return ErrEmptyKey
	}
	if err := m.writable(); err != nil {
		return err
	}
	child, err := childValue(value)
	if err != nil {
		return err
	}
	old, replacing := m.entries[key]
	m.entries[key] = child
	m.doc.attach(child, m.id, key, "", crdt.NodeID{})
	if replacing {
		m.doc.release(old)
	}
	return nil
}

// Delete removes the entry under key and its subtree. Deleting a
// missing key records nothing.
func (m *Map) Delete(key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	if err := m.writable(); err != nil {
		return err
	}
	old, ok := m.entries[key]
	if !ok {
		return nil
	}
	m.doc.recorder.record(crdt.Op{Type: crdt.OpDeleteCrdt, ID: old.ID()})
	delete(m.entries, key)
	m.doc.release(old)
	return nil
}

// ToImmutable returns the map as a map[string]any.
func (m *Map) ToImmutable() any {
	out := make(map[string]any, len(m.entries))
	for key, child := range m.entries {
		out[key] = child.ToImmutable()
	}
	return out
}

// MarshalJSON encodes the immutable projection.
func (m *Map) MarshalJSON() ([]byte, error) { return json.Marshal(m.ToImmutable()) }
