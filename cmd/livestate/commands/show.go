// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/tree"
	"github.com/charmbracelet/x/ansi"
	"github.com/spf13/pflag"

	"github.com/bureau-foundation/livestate/cmd/livestate/cli"
	"github.com/bureau-foundation/livestate/lib/crdt"
	"github.com/bureau-foundation/livestate/lib/storage"
)

// treeStyles colors the parts of a node line. The renderer is bound to
// the output writer, so redirected output carries no escape codes.
type treeStyles struct {
	// width truncates rendered values; zero disables truncation.
	width int

	key    lipgloss.Style
	id     lipgloss.Style
	kind   lipgloss.Style
	value  lipgloss.Style
	branch lipgloss.Style
}

func newTreeStyles(w io.Writer, width int) treeStyles {
	renderer := lipgloss.NewRenderer(w)
	return treeStyles{
		width:  width,
		key:    renderer.NewStyle().Bold(true),
		id:     renderer.NewStyle().Foreground(lipgloss.Color("245")),
		kind:   renderer.NewStyle().Foreground(lipgloss.Color("75")),
		value:  renderer.NewStyle().Foreground(lipgloss.Color("114")),
		branch: renderer.NewStyle().Foreground(lipgloss.Color("240")),
	}
}

func showCommand(stdio streams) *cli.Command {
	var flags storeFlags
	var width int
	return &cli.Command{
		Name:    "show",
		Summary: "Print a room's node tree",
		Description: `Print every node of a room as a tree: key, node id, type, and for
registers and plain object fields the stored JSON value. List children
are shown in position order with their index. Long values are cut to
--width cells.`,
		Usage: "livestate show <room> [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("show", pflag.ContinueOnError)
			flags.AddFlags(flagSet)
			flagSet.IntVar(&width, "width", 60, "truncate values to this many cells (0 for no limit)")
			return flagSet
		},
		Run: func(ctx context.Context, args []string) (err error) {
			if err := cli.ExpectArgs(args, 1, 1, "livestate show <room>"); err != nil {
				return err
			}
			env, err := flags.open("show")
			if err != nil {
				return err
			}
			defer env.close(&err)

			registry, err := env.store.Registry(ctx, args[0])
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(stdio.out, renderTree(registry, args[0], newTreeStyles(stdio.out, width)))
			return err
		},
	}
}

// renderTree renders registry from the root down, labelling the root
// with the room id.
func renderTree(registry *storage.Registry, roomID string, styles treeStyles) string {
	return nodeTree(registry, crdt.RootID, roomID, styles).String()
}

func nodeTree(registry *storage.Registry, id crdt.NodeID, label string, styles treeStyles) *tree.Tree {
	node, _ := registry.Node(id)
	branch := tree.Root(nodeLabel(label, id, node, styles)).
		EnumeratorStyle(styles.branch)

	if node.Type == crdt.Object {
		fields := node.Fields()
		keys := make([]string, 0, len(fields))
		for key := range fields {
			keys = append(keys, key)
		}
		slices.Sort(keys)
		for _, key := range keys {
			branch.Child(styles.key.Render(key) + " " + styles.renderValue(fields[key]))
		}
	}

	for index, childID := range registry.Children(id) {
		child, _ := registry.Node(childID)
		childLabel := child.ParentKey
		if node.Type == crdt.List {
			childLabel = fmt.Sprintf("[%d]", index)
		}
		if child.Type == crdt.Register {
			branch.Child(nodeLabel(childLabel, childID, child, styles))
			continue
		}
		branch.Child(nodeTree(registry, childID, childLabel, styles))
	}
	return branch
}

func nodeLabel(label string, id crdt.NodeID, node crdt.SerializedNode, styles treeStyles) string {
	var line strings.Builder
	line.WriteString(styles.key.Render(label))
	line.WriteString(" ")
	line.WriteString(styles.id.Render(id.String()))
	line.WriteString(" ")
	line.WriteString(styles.kind.Render(node.Type.String()))
	if node.Type == crdt.Register {
		line.WriteString(" ")
		line.WriteString(styles.renderValue(node.Data))
	}
	return line.String()
}

func (s treeStyles) renderValue(value any) string {
	text := jsonText(value)
	if s.width > 0 {
		text = ansi.Truncate(text, s.width, "…")
	}
	return s.value.Render(text)
}

func jsonText(value any) string {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Sprintf("%v", value)
	}
	return string(data)
}
