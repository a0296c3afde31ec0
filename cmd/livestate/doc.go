// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Livestate is the command-line interface to livestate room storage.
//
// It manages rooms in a SQLite room store, reads and writes their CRDT
// documents through mutation sessions, inspects the delivered op
// journal, and moves rooms in and out of compressed, optionally
// encrypted snapshot archives.
//
// Configuration comes from the file named by --config or
// LIVESTATE_CONFIG. For quick local use, --db names a room database
// directly and the remaining settings take their defaults:
//
//	livestate room create board-1 --db ./rooms.db
//	livestate set board-1 columns '[]' --as list --db ./rooms.db
//	livestate show board-1 --db ./rooms.db
//
// Run "livestate --help" for the full command list.
package main
