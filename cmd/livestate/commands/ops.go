// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/livestate/cmd/livestate/cli"
	"github.com/bureau-foundation/livestate/lib/crdt"
)

type batchEntry struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	Actor       uint64    `json:"actor"`
	Digest      string    `json:"digest"`
	DeliveredAt time.Time `json:"delivered_at"`
	Ops         []crdt.Op `json:"ops"`
}

func opsCommand(stdio streams) *cli.Command {
	var flags storeFlags
	var output cli.JSONOutput
	var verbose bool
	return &cli.Command{
		Name:    "ops",
		Summary: "List a room's delivered op batches",
		Description: `List the op batches delivered to a room, oldest first. Each batch is
one committed session. Stored digests are verified as the journal is
read; a mismatch fails the command.`,
		Usage: "livestate ops <room> [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("ops", pflag.ContinueOnError)
			flags.AddFlags(flagSet)
			output.AddFlags(flagSet)
			flagSet.BoolVarP(&verbose, "verbose", "v", false, "print each op under its batch")
			return flagSet
		},
		Run: func(ctx context.Context, args []string) (err error) {
			if err := cli.ExpectArgs(args, 1, 1, "livestate ops <room>"); err != nil {
				return err
			}
			env, err := flags.open("ops")
			if err != nil {
				return err
			}
			defer env.close(&err)

			batches, err := env.store.Batches(ctx, args[0])
			if err != nil {
				return err
			}
			var entries []batchEntry
			for _, batch := range batches {
				entries = append(entries, batchEntry{
					ID:          batch.ID.String(),
					SessionID:   batch.SessionID.String(),
					Actor:       batch.Actor,
					Digest:      batch.Digest,
					DeliveredAt: batch.DeliveredAt.UTC(),
					Ops:         batch.Ops,
				})
			}
			if done, err := output.EmitJSON(stdio.out, entries); done {
				return err
			}

			tw := tabwriter.NewWriter(stdio.out, 2, 0, 3, ' ', 0)
			fmt.Fprintln(tw, "BATCH\tACTOR\tOPS\tDELIVERED")
			for _, entry := range entries {
				fmt.Fprintf(tw, "%s\t%d\t%d\t%s\n", entry.ID, entry.Actor, len(entry.Ops), entry.DeliveredAt.Format(time.RFC3339))
				if !verbose {
					continue
				}
				for _, op := range entry.Ops {
					fmt.Fprintf(tw, "\t\t%s\t%s\n", op.Type, describeOp(op))
				}
			}
			return tw.Flush()
		},
	}
}

// describeOp renders the target of an op on one line.
func describeOp(op crdt.Op) string {
	switch op.Type {
	case crdt.OpUpdateObject:
		return fmt.Sprintf("%s %s", op.ID, jsonText(op.Data))
	case crdt.OpDeleteObjectKey:
		return fmt.Sprintf("%s key=%q", op.ID, op.Key)
	case crdt.OpDeleteCrdt:
		return op.ID.String()
	case crdt.OpSetParentKey:
		return fmt.Sprintf("%s position=%q", op.ID, op.ParentKey)
	}
	if op.IsCreate() {
		line := fmt.Sprintf("%s under %s key=%q", op.ID, op.ParentID, op.ParentKey)
		if op.Data != nil {
			line += " " + jsonText(op.Data)
		}
		return line
	}
	return op.ID.String()
}
