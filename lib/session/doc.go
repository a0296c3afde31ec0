// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package session runs all-or-nothing mutation sessions against a room.
//
// A session moves through a fixed sequence of states:
//
//	Fetching -> Built -> Mutating -> Flushing -> Committed
//	                                          \-> Aborted (from any state)
//
// Fetching asks a [Source] for the room's snapshot stream. Built means
// the stream decoded into a storage.Registry and a live
// storage.Document. Mutating runs the caller's function against the
// document root; every write it makes is recorded as a CRDT op.
// Flushing hands the recorded batch to a [Deliverer]. A session with no
// recorded ops commits without calling the deliverer.
//
// Nothing reaches the room unless the whole session succeeds. A
// mutation error discards the batch and is returned unchanged. Fetch
// failures surface as *[TransportError] and delivery failures as
// *[DeliveryError]; reconstruction failures surface as the storage
// error that matches storage.ErrReconstruction. None of these are
// retried here: a retry means running a fresh session, because op ids
// are minted per session.
//
// [Coordinator] carries the collaborators, timeouts, logger and
// metrics, and holds no per-session state, so concurrent [Run] calls
// are safe. Each session fetches its own snapshot. [RunStream] runs one
// session over an already-open stream without a Coordinator.
package session
