// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package crdt defines the wire-level vocabulary shared by every part of
// livestate: node identifiers, node types, serialized node records,
// operation records, and list position keys.
//
// A [NodeID] is either the reserved root id ("root") or an
// (actor, counter) pair rendered "actor:counter". Pairs are minted by
// an [Allocator] owned by exactly one document; the allocator starts
// one above the highest counter already present for its actor, so new
// ids never collide with ids in the snapshot it was seeded from.
//
// Snapshot streams are newline-delimited JSON. The first record is a
// [Header] carrying the actor number for the session; every following
// record is a [NodeRecord], encoded as the two-element array
// [id, payload]:
//
//	{"actor":1}
//	["root",{"type":0,"data":{}}]
//	["0:1",{"type":2,"parentId":"root","parentKey":"a"}]
//
// List children are ordered by a position key, a string over printable
// ASCII read as a base-95 fraction. [Positions.Between] mints a key
// strictly between two neighbors; when no such key exists within the
// configured length limit it returns [ErrPositionExhausted] and the
// caller re-keys the sibling range with [Positions.Spread].
//
// The numeric codes of [Type] and [OpCode] are part of the wire format
// and must not be renumbered.
//
// This package depends on no other livestate packages.
package crdt
