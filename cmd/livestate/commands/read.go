// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/alecthomas/chroma/v2/quick"
	"github.com/muesli/termenv"
	"github.com/spf13/pflag"

	"github.com/bureau-foundation/livestate/cmd/livestate/cli"
	"github.com/bureau-foundation/livestate/lib/storage"
)

// loadDocument builds a read-only document for a room. Nothing built
// here is ever delivered.
func loadDocument(ctx context.Context, env *environment, roomID string) (*storage.Document, error) {
	registry, err := env.store.Registry(ctx, roomID)
	if err != nil {
		return nil, err
	}
	document, err := storage.Build(registry, storage.BuildOptions{})
	if err != nil {
		return nil, err
	}
	document.Close()
	return document, nil
}

func getCommand(stdio streams) *cli.Command {
	var flags storeFlags
	var compact, noColor bool
	return &cli.Command{
		Name:    "get",
		Summary: "Print the JSON value at a path",
		Description: `Print the plain JSON value stored at a path in a room.

Paths are dot-separated keys, with list elements addressed by index:
"columns.0.title". A backslash escapes a literal dot. With no path the
whole document is printed. Output is syntax-highlighted when stdout is
a terminal.`,
		Usage: "livestate get <room> [path] [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("get", pflag.ContinueOnError)
			flags.AddFlags(flagSet)
			flagSet.BoolVar(&compact, "compact", false, "print on one line")
			flagSet.BoolVar(&noColor, "no-color", false, "never highlight output")
			return flagSet
		},
		Run: func(ctx context.Context, args []string) (err error) {
			if err := cli.ExpectArgs(args, 1, 2, "livestate get <room> [path]"); err != nil {
				return err
			}
			var path string
			if len(args) == 2 {
				path = args[1]
			}
			segments, err := parsePath(path)
			if err != nil {
				return err
			}

			env, err := flags.open("get")
			if err != nil {
				return err
			}
			defer env.close(&err)

			document, err := loadDocument(ctx, env, args[0])
			if err != nil {
				return err
			}
			value, err := read(document.Root(), segments)
			if err != nil {
				return err
			}
			return writeValue(stdio.out, value, compact, !noColor)
		},
	}
}

// writeValue prints value as JSON, highlighted when color is allowed
// and w is a color terminal.
func writeValue(w io.Writer, value any, compact, color bool) error {
	var buffer bytes.Buffer
	encoder := json.NewEncoder(&buffer)
	encoder.SetEscapeHTML(false)
	if !compact {
		encoder.SetIndent("", "  ")
	}
	if err := encoder.Encode(value); err != nil {
		return err
	}
	if formatter := highlightFormatter(w); color && formatter != "" {
		return quick.Highlight(w, buffer.String(), "json", formatter, "monokai")
	}
	_, err := w.Write(buffer.Bytes())
	return err
}

// highlightFormatter picks the chroma formatter matching the color
// depth of the terminal behind w, or "" when w is not a color terminal.
func highlightFormatter(w io.Writer) string {
	file, ok := w.(*os.File)
	if !ok || !cli.IsTerminal(file) {
		return ""
	}
	switch termenv.NewOutput(file).ColorProfile() {
	case termenv.TrueColor:
		return "terminal16m"
	case termenv.ANSI256:
		return "terminal256"
	case termenv.ANSI:
		return "terminal16"
	default:
		return ""
	}
}

func dumpCommand(stdio streams) *cli.Command {
	var flags storeFlags
	return &cli.Command{
		Name:    "dump",
		Summary: "Write a room's NDJSON snapshot stream",
		Description: `Write a room's snapshot as NDJSON: a {"actor":N} header line, then
one [id, node] record per line in canonical order. The output is the
input format of "livestate plan".`,
		Usage: "livestate dump <room> [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("dump", pflag.ContinueOnError)
			flags.AddFlags(flagSet)
			return flagSet
		},
		Run: func(ctx context.Context, args []string) (err error) {
			if err := cli.ExpectArgs(args, 1, 1, "livestate dump <room>"); err != nil {
				return err
			}
			env, err := flags.open("dump")
			if err != nil {
				return err
			}
			defer env.close(&err)

			registry, err := env.store.Registry(ctx, args[0])
			if err != nil {
				return err
			}
			if _, err := registry.WriteTo(stdio.out); err != nil {
				return fmt.Errorf("writing snapshot: %w", err)
			}
			return nil
		},
	}
}
