// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package storage reconstructs a room's shared state tree from a
// snapshot stream and captures mutations to it as CRDT ops.
//
// The pieces, leaves first:
//
//   - [Registry] holds the flat, validated node set of one snapshot.
//     [Load] decodes the NDJSON stream in two passes (index, then
//     validate) and fails with an error matching [ErrReconstruction]
//     that names the offending node.
//   - [Build] turns a registry into a [Document]: a live tree of
//     [Object], [List], [Map] and [Register] nodes held in an arena
//     keyed by node id. Parents are referenced by id.
//   - Every write accessor of the live tree appends ops to the
//     document's [Recorder] before changing the in-memory tree. The
//     registry is never touched; discarding the document discards the
//     session.
//   - [ToImmutable] projects any node into plain Go values
//     (map[string]any, []any, and JSON scalars) that share nothing with
//     the tree.
//   - [Registry.Apply] merges an op batch into a registry the way a
//     room does, which lets a store persist delivered batches and lets
//     tests check that recorded ops reproduce the local tree.
//
// Values written into the tree are either detached live nodes built
// with [NewObject], [NewList] and [NewMap], or plain JSON-compatible
// data. Plain data is converted to the JSON data model on write:
// numbers become float64, typed slices and string-keyed maps become
// []any and map[string]any, and structs go through encoding/json.
//
// List elements are ordered by position key (see crdt.Positions). When
// no key fits between two neighbors, the whole sibling range is
// re-keyed with evenly spread keys and a SetParentKey op is recorded
// for every element whose key changed.
//
// Nothing in this package is safe for concurrent use. One session owns
// one registry and one document.
package storage
