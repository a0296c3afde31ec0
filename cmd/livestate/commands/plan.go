// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/livestate/cmd/livestate/cli"
	"github.com/bureau-foundation/livestate/lib/crdt"
	"github.com/bureau-foundation/livestate/lib/session"
	"github.com/bureau-foundation/livestate/lib/storage"
)

// planResult is what "livestate plan" prints.
type planResult struct {
	SessionID string    `json:"session_id,omitempty"`
	Actor     uint64    `json:"actor"`
	Ops       []crdt.Op `json:"ops"`
}

func planCommand(stdio streams) *cli.Command {
	var actor uint64
	var compact, verbose bool
	return &cli.Command{
		Name:    "plan",
		Summary: "Print the ops a patch would produce against a snapshot file",
		Description: `Run a patch against an NDJSON snapshot file (as written by "livestate
dump") and print the op batch the session would deliver, without
touching any store. New node ids are minted for --actor, or for the
actor in the snapshot header when --actor is zero.`,
		Usage: "livestate plan <snapshot.ndjson> <patch.jsonc|-> [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("plan", pflag.ContinueOnError)
			flagSet.Uint64Var(&actor, "actor", 0, "actor to mint new ids for (default: snapshot header)")
			flagSet.BoolVar(&compact, "compact", false, "print on one line")
			flagSet.BoolVarP(&verbose, "verbose", "v", false, "log the session to stderr")
			return flagSet
		},
		Examples: []cli.Example{
			{
				Description: "Preview a patch against a room's current state",
				Command:     "livestate dump board-1 > board-1.ndjson && livestate plan board-1.ndjson reorg.jsonc",
			},
		},
		Run: func(ctx context.Context, args []string) error {
			if err := cli.ExpectArgs(args, 2, 2, "livestate plan <snapshot.ndjson> <patch.jsonc|->"); err != nil {
				return err
			}
			snapshot, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("reading snapshot: %w", err)
			}
			steps, err := readPatch(args[1], stdio.in)
			if err != nil {
				return err
			}
			level := slog.LevelWarn
			if verbose {
				level = slog.LevelInfo
			}
			logger := cli.NewCommandLogger(level).With("command", "plan")
			result, err := plan(ctx, snapshot, actor, steps, logger)
			if err != nil {
				return err
			}
			return writeValue(stdio.out, result, compact, true)
		},
	}
}

// plan runs steps over snapshot in a stream session and captures the
// batch instead of delivering it.
func plan(ctx context.Context, snapshot []byte, actor uint64, steps []step, logger *slog.Logger) (planResult, error) {
	if actor == 0 {
		registry, err := storage.Load(bytes.NewReader(snapshot))
		if err != nil {
			return planResult{}, err
		}
		actor = registry.Actor()
	}

	result := planResult{Actor: actor, Ops: []crdt.Op{}}
	capture := func(_ context.Context, batch session.Batch) error {
		result.SessionID = batch.SessionID.String()
		result.Ops = batch.Ops
		return nil
	}
	_, err := session.RunStream(ctx, bytes.NewReader(snapshot), actor, func(root *storage.Object) (struct{}, error) {
		return struct{}{}, applyPatch(root, steps)
	}, capture, session.WithLogger(logger))
	if err != nil {
		return planResult{}, err
	}
	return result, nil
}
