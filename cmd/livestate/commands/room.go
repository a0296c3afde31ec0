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
)

func roomCommand(stdio streams) *cli.Command {
	return &cli.Command{
		Name:    "room",
		Summary: "Create, list and delete rooms",
		Subcommands: []*cli.Command{
			roomCreateCommand(stdio),
			roomListCommand(stdio),
			roomDeleteCommand(stdio),
		},
	}
}

func roomCreateCommand(stdio streams) *cli.Command {
	var flags storeFlags
	return &cli.Command{
		Name:    "create",
		Summary: "Create an empty room",
		Usage:   "livestate room create <room> [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("create", pflag.ContinueOnError)
			flags.AddFlags(flagSet)
			return flagSet
		},
		Run: func(ctx context.Context, args []string) (err error) {
			if err := cli.ExpectArgs(args, 1, 1, "livestate room create <room>"); err != nil {
				return err
			}
			env, err := flags.open("room/create")
			if err != nil {
				return err
			}
			defer env.close(&err)

			if err := env.store.CreateRoom(ctx, args[0]); err != nil {
				return err
			}
			env.logger.Info("room created", "room_id", args[0])
			return nil
		},
	}
}

type roomEntry struct {
	ID        string    `json:"id"`
	Nodes     int       `json:"nodes"`
	Batches   int       `json:"batches"`
	CreatedAt time.Time `json:"created_at"`
}

func roomListCommand(stdio streams) *cli.Command {
	var flags storeFlags
	var output cli.JSONOutput
	return &cli.Command{
		Name:    "list",
		Summary: "List rooms",
		Usage:   "livestate room list [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("list", pflag.ContinueOnError)
			flags.AddFlags(flagSet)
			output.AddFlags(flagSet)
			return flagSet
		},
		Run: func(ctx context.Context, args []string) (err error) {
			if err := cli.ExpectArgs(args, 0, 0, "livestate room list"); err != nil {
				return err
			}
			env, err := flags.open("room/list")
			if err != nil {
				return err
			}
			defer env.close(&err)

			rooms, err := env.store.Rooms(ctx)
			if err != nil {
				return err
			}
			var entries []roomEntry
			for _, room := range rooms {
				entries = append(entries, roomEntry{
					ID:        room.ID,
					Nodes:     room.Nodes,
					Batches:   room.Batches,
					CreatedAt: room.CreatedAt.UTC(),
				})
			}
			if done, err := output.EmitJSON(stdio.out, entries); done {
				return err
			}

			tw := tabwriter.NewWriter(stdio.out, 2, 0, 3, ' ', 0)
			fmt.Fprintln(tw, "ROOM\tNODES\tBATCHES\tCREATED")
			for _, entry := range entries {
				fmt.Fprintf(tw, "%s\t%d\t%d\t%s\n", entry.ID, entry.Nodes, entry.Batches, entry.CreatedAt.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}
}

func roomDeleteCommand(stdio streams) *cli.Command {
	var flags storeFlags
	return &cli.Command{
		Name:    "delete",
		Summary: "Delete a room with its nodes and journal",
		Usage:   "livestate room delete <room> [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("delete", pflag.ContinueOnError)
			flags.AddFlags(flagSet)
			return flagSet
		},
		Run: func(ctx context.Context, args []string) (err error) {
			if err := cli.ExpectArgs(args, 1, 1, "livestate room delete <room>"); err != nil {
				return err
			}
			env, err := flags.open("room/delete")
			if err != nil {
				return err
			}
			defer env.close(&err)

			if err := env.store.DeleteRoom(ctx, args[0]); err != nil {
				return err
			}
			env.logger.Info("room deleted", "room_id", args[0])
			return nil
		},
	}
}
