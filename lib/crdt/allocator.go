// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package crdt

// Allocator mints node ids for one actor. The counter starts one above
// the seed, so an allocator seeded with the highest counter observed
// for its actor never reproduces an existing id.
//
// An Allocator belongs to a single document and is not safe for
// concurrent use.
type Allocator struct {
	actor   uint64
	counter uint64
}

// NewAllocator returns an allocator whose first id is
// (actor, maxCounter+1).
func NewAllocator(actor, maxCounter uint64) *Allocator {
	return &Allocator{actor: actor, counter: maxCounter}
}

// Next returns a fresh id. Successive calls return strictly increasing
// counters.
func (a *Allocator) Next() NodeID {
	a.counter++
	return NewNodeID(a.actor, a.counter)
}

// Actor returns the actor this allocator mints ids for.
func (a *Allocator) Actor() uint64 { return a.actor }

// Counter returns the counter of the most recently minted id, or the
// seed if Next has not been called.
func (a *Allocator) Counter() uint64 { return a.counter }
