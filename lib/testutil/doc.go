// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for livestate packages.
//
// [RequireJSONEqual] compares a value against a JSON literal by decoding
// both into the plain JSON data model, so map ordering and number
// widths do not matter. Tests of the live tree use it to state the
// expected immutable projection as readable JSON.
//
// [WriteFile] writes a fixture into a per-test temporary directory and
// returns its path, for code that takes file paths (config files,
// snapshot archives, patch files).
//
// [RequireReceive] and [RequireClosed] encapsulate the timeout safety
// valve pattern (select with time.After fallback) so that individual
// tests do not need direct time.After calls.
//
// [UniqueID] generates monotonically increasing identifiers for test
// disambiguation, such as room ids in a shared store.
//
// All helpers call t.Fatalf on failure rather than returning errors,
// since test setup failures are not recoverable.
//
// This package has no livestate-internal dependencies.
package testutil
