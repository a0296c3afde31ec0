// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"github.com/bureau-foundation/livestate/lib/crdt"
)

// Recorder is the ordered op log of one document. Every write accessor
// of the live tree appends to it before changing the in-memory tree;
// nothing else writes to it.
type Recorder struct {
	opIDs *crdt.Allocator
	ops   []crdt.Op
}

func newRecorder(actor uint64) *Recorder {
	return &Recorder{opIDs: crdt.NewAllocator(actor, 0)}
}

func (r *Recorder) record(op crdt.Op) {
	op.OpID = r.opIDs.Next()
	r.ops = append(r.ops, op)
}

// Ops returns a copy of the recorded ops in the order the writes
// happened.
func (r *Recorder) Ops() []crdt.Op {
	ops := make([]crdt.Op, len(r.ops))
	for i, op := range r.ops {
		op.Data = deepCopy(op.Data)
		ops[i] = op
	}
	return ops
}

// Len returns the number of recorded ops.
func (r *Recorder) Len() int { return len(r.ops) }

// Discard drops every recorded op. Op ids are not reused.
func (r *Recorder) Discard() { r.ops = nil }
