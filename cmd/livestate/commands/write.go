// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/livestate/cmd/livestate/cli"
	"github.com/bureau-foundation/livestate/lib/session"
	"github.com/bureau-foundation/livestate/lib/storage"
)

// writeCommand describes a single-step write command.
type writeCommand struct {
	name        string
	summary     string
	description string
	usage       string
	minArgs     int
	maxArgs     int
	// allowAs registers --as for commands that store a value.
	allowAs  bool
	examples []cli.Example
	// step builds the patch step from the positional args after the room.
	step func(args []string, as string) (step, error)
}

func (w writeCommand) command() *cli.Command {
	var flags storeFlags
	var as string
	return &cli.Command{
		Name:        w.name,
		Summary:     w.summary,
		Description: w.description,
		Usage:       w.usage,
		Examples:    w.examples,
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet(w.name, pflag.ContinueOnError)
			flags.AddFlags(flagSet)
			if w.allowAs {
				flagSet.StringVar(&as, "as", "", "store the value as a live object, list or map")
			}
			return flagSet
		},
		Run: func(ctx context.Context, args []string) error {
			if err := cli.ExpectArgs(args, w.minArgs+1, w.maxArgs+1, w.usage); err != nil {
				return err
			}
			s, err := w.step(args[1:], as)
			if err != nil {
				return err
			}
			if err := s.validate(); err != nil {
				return err
			}
			return mutateRoom(ctx, &flags, w.name, args[0], []step{s})
		},
	}
}

// mutateRoom runs steps against roomID as one session.
func mutateRoom(ctx context.Context, flags *storeFlags, name, roomID string, steps []step) (err error) {
	env, err := flags.open(name)
	if err != nil {
		return err
	}
	defer env.close(&err)

	coordinator, err := env.coordinator()
	if err != nil {
		return err
	}
	return coordinator.Mutate(ctx, roomID, func(root *storage.Object) error {
		return applyPatch(root, steps)
	})
}

// rawValue checks that text is a single JSON value.
func rawValue(text string) (json.RawMessage, error) {
	if !json.Valid([]byte(text)) {
		return nil, fmt.Errorf("value %q is not valid JSON (quote strings: '\"text\"')", text)
	}
	return json.RawMessage(text), nil
}

func setCommand(stdio streams) *cli.Command {
	return writeCommand{
		name:    "set",
		summary: "Store a JSON value at a path",
		description: `Store a JSON value under a key of an object or map, or replace a list
element by index. With --as the value becomes a live object, list or map
that later commands can address into; otherwise it is stored as plain
JSON.`,
		usage:   "livestate set <room> <path> <json> [flags]",
		minArgs: 2,
		maxArgs: 2,
		allowAs: true,
		examples: []cli.Example{
			{Description: "Set a plain field", Command: `livestate set board-1 title '"Roadmap"'`},
			{Description: "Create a live list", Command: "livestate set board-1 columns '[]' --as list"},
		},
		step: func(args []string, as string) (step, error) {
			value, err := rawValue(args[1])
			if err != nil {
				return step{}, err
			}
			return step{Op: "set", Path: args[0], Value: value, As: as}, nil
		},
	}.command()
}

func insertCommand(stdio streams) *cli.Command {
	return writeCommand{
		name:    "insert",
		summary: "Insert a JSON value into a list",
		description: `Insert a value into a list before the element at the given index. The
path names the list element slot: "columns.0" inserts at the front, and
an index equal to the list length appends.`,
		usage:   "livestate insert <room> <path.index> <json> [flags]",
		minArgs: 2,
		maxArgs: 2,
		allowAs: true,
		step: func(args []string, as string) (step, error) {
			value, err := rawValue(args[1])
			if err != nil {
				return step{}, err
			}
			return step{Op: "insert", Path: args[0], Value: value, As: as}, nil
		},
	}.command()
}

func pushCommand(stdio streams) *cli.Command {
	return writeCommand{
		name:    "push",
		summary: "Append a JSON value to a list",
		usage:   "livestate push <room> <list-path> <json> [flags]",
		minArgs: 2,
		maxArgs: 2,
		allowAs: true,
		examples: []cli.Example{
			{Description: "Append a live object", Command: `livestate push board-1 columns '{"name":"todo"}' --as object`},
		},
		step: func(args []string, as string) (step, error) {
			value, err := rawValue(args[1])
			if err != nil {
				return step{}, err
			}
			return step{Op: "push", Path: args[0], Value: value, As: as}, nil
		},
	}.command()
}

func deleteCommand(stdio streams) *cli.Command {
	return writeCommand{
		name:    "delete",
		summary: "Delete the key or list element at a path",
		description: `Delete a key from an object or map, or an element from a list. Live
children are deleted with their whole subtree. Deleting a key that does
not exist is not an error.`,
		usage:   "livestate delete <room> <path> [flags]",
		minArgs: 1,
		maxArgs: 1,
		step: func(args []string, _ string) (step, error) {
			return step{Op: "delete", Path: args[0]}, nil
		},
	}.command()
}

func moveCommand(stdio streams) *cli.Command {
	return writeCommand{
		name:    "move",
		summary: "Move a list element to a new index",
		usage:   "livestate move <room> <list-path> <from> <to> [flags]",
		minArgs: 3,
		maxArgs: 3,
		step: func(args []string, _ string) (step, error) {
			from, err := strconv.Atoi(args[1])
			if err != nil {
				return step{}, fmt.Errorf("from index %q: %w", args[1], err)
			}
			to, err := strconv.Atoi(args[2])
			if err != nil {
				return step{}, fmt.Errorf("to index %q: %w", args[2], err)
			}
			return step{Op: "move", Path: args[0], From: &from, To: &to}, nil
		},
	}.command()
}

func applyCommand(stdio streams) *cli.Command {
	var flags storeFlags
	var printResult, compact bool
	return &cli.Command{
		Name:    "apply",
		Summary: "Apply a JSONC patch file as one session",
		Description: `Apply every step of a patch file to a room in a single mutation
session. Either all steps land as one batch or, if any step fails,
nothing is delivered.

The patch is a JSONC array (comments and trailing commas allowed):

  [
    {"op": "set", "path": "columns", "value": [], "as": "list"},
    {"op": "push", "path": "columns", "value": {"name": "todo"}, "as": "object"},
    {"op": "move", "path": "columns", "from": 0, "to": 1},
    {"op": "delete", "path": "title"},
  ]

Ops are set, insert, push, delete and move. Use "-" to read the patch
from stdin.`,
		Usage: "livestate apply <room> <patch.jsonc|-> [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("apply", pflag.ContinueOnError)
			flags.AddFlags(flagSet)
			flagSet.BoolVar(&printResult, "print", false, "print the document after the patch")
			flagSet.BoolVar(&compact, "compact", false, "print on one line")
			return flagSet
		},
		Run: func(ctx context.Context, args []string) (err error) {
			if err := cli.ExpectArgs(args, 2, 2, "livestate apply <room> <patch.jsonc|->"); err != nil {
				return err
			}
			steps, err := readPatch(args[1], stdio.in)
			if err != nil {
				return err
			}

			env, err := flags.open("apply")
			if err != nil {
				return err
			}
			defer env.close(&err)

			coordinator, err := env.coordinator()
			if err != nil {
				return err
			}
			result, err := session.Run(ctx, coordinator, args[0], func(root *storage.Object) (any, error) {
				if err := applyPatch(root, steps); err != nil {
					return nil, err
				}
				return root.ToImmutable(), nil
			})
			if err != nil {
				return err
			}
			if printResult {
				return writeValue(stdio.out, result, compact, true)
			}
			return nil
		},
	}
}

// readPatch reads and parses a patch from path, or from in for "-".
func readPatch(path string, in io.Reader) ([]step, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(in)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("reading patch: %w", err)
	}
	return parsePatch(data)
}
