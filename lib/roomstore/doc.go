// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package roomstore persists rooms in SQLite and serves them to
// mutation sessions.
//
// A [Store] implements session.Source and session.Deliverer. Each room
// is a row in rooms, one row per node in nodes (the node payload as
// JSON, the same shape as a snapshot record), and one row per delivered
// batch in batches. The batch journal keeps the ops CBOR-encoded with a
// BLAKE3 digest, keyed by a ULID so journal order is delivery order.
//
// FetchSnapshot assigns the fetching session a fresh actor and streams
// the room as NDJSON. Deliver merges a batch with storage.Registry.Apply
// inside one IMMEDIATE transaction, rewrites exactly the node rows the
// batch changed, and journals it. A batch whose session id is already
// journaled is acknowledged without being applied again, so a
// deliverer may safely retry.
package roomstore
