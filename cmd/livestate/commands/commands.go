// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package commands builds the livestate CLI command tree.
//
// Read commands (get, show, dump, ops, digest) load a room's registry
// straight from the store. Write commands (set, insert, push, delete,
// move, apply) translate into patch steps and run them as one mutation
// session, so every command invocation lands as a single journaled
// batch or not at all.
package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/bureau-foundation/livestate/cmd/livestate/cli"
	"github.com/bureau-foundation/livestate/lib/version"
)

// Root builds and returns the complete livestate CLI command tree.
func Root() *cli.Command {
	return newRoot(streams{out: os.Stdout, in: os.Stdin})
}

func newRoot(stdio streams) *cli.Command {
	return &cli.Command{
		Name: "livestate",
		Description: `livestate: CRDT document storage for collaborative rooms.

Each room holds a tree of objects, lists, maps and registers. Writes run
as mutation sessions: the room's snapshot is fetched, a live document is
built, the change is recorded as CRDT ops, and the ops are delivered back
as one batch.`,
		Subcommands: []*cli.Command{
			roomCommand(stdio),
			getCommand(stdio),
			showCommand(stdio),
			dumpCommand(stdio),
			setCommand(stdio),
			insertCommand(stdio),
			pushCommand(stdio),
			deleteCommand(stdio),
			moveCommand(stdio),
			applyCommand(stdio),
			planCommand(stdio),
			opsCommand(stdio),
			exportCommand(stdio),
			importCommand(stdio),
			digestCommand(stdio),
			{
				Name:    "version",
				Summary: "Print version information",
				Run: func(_ context.Context, args []string) error {
					fmt.Fprintf(stdio.out, "livestate %s\n", version.Full())
					return nil
				},
			},
		},
		Examples: []cli.Example{
			{
				Description: "Create a room and give it a list",
				Command:     "livestate room create board-1 && livestate set board-1 columns '[]' --as list",
			},
			{
				Description: "Append to the list and read it back",
				Command:     `livestate push board-1 columns '{"name":"todo"}' --as object && livestate get board-1 columns`,
			},
			{
				Description: "Apply a multi-step patch atomically",
				Command:     "livestate apply board-1 reorg.jsonc",
			},
			{
				Description: "Archive a room, encrypted to the configured recipients",
				Command:     "livestate export board-1 board-1.lsnap",
			},
		},
	}
}
