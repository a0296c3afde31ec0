// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"filippo.io/age"

	"github.com/bureau-foundation/livestate/cmd/livestate/cli"
	"github.com/bureau-foundation/livestate/lib/testutil"
)

// cliHarness runs commands against one room database.
type cliHarness struct {
	t        *testing.T
	database string
}

func newHarness(t *testing.T) *cliHarness {
	t.Helper()
	t.Setenv("LIVESTATE_CONFIG", "")
	return &cliHarness{t: t, database: filepath.Join(t.TempDir(), "rooms.db")}
}

// execute runs one command line with stdin, returning stdout and the
// command's error.
func (h *cliHarness) execute(stdin string, args ...string) (string, error) {
	h.t.Helper()
	var out bytes.Buffer
	root := newRoot(streams{out: &out, in: strings.NewReader(stdin)})
	args = append(args, "--db", h.database)
	err := root.Execute(context.Background(), args)
	return out.String(), err
}

// run executes a command line that must succeed.
func (h *cliHarness) run(args ...string) string {
	h.t.Helper()
	out, err := h.execute("", args...)
	if err != nil {
		h.t.Fatalf("livestate %s: %v", strings.Join(args, " "), err)
	}
	return out
}

func (h *cliHarness) requireDocument(room, want string) {
	h.t.Helper()
	testutil.RequireJSONEqual(h.t, json.RawMessage(h.run("get", room, "--compact")), want)
}

func (h *cliHarness) batches(room string) []batchEntry {
	h.t.Helper()
	var entries []batchEntry
	if err := json.Unmarshal([]byte(h.run("ops", room, "--json")), &entries); err != nil {
		h.t.Fatalf("decoding ops --json: %v", err)
	}
	return entries
}

func TestCommandTreeIsDocumented(t *testing.T) {
	var visit func(command *cli.Command, path string)
	visit = func(command *cli.Command, path string) {
		if path != "livestate" && command.Summary == "" {
			t.Errorf("%s: missing Summary", path)
		}
		if command.Run != nil && command.Flags != nil && command.Usage == "" {
			t.Errorf("%s: missing Usage", path)
		}
		for _, sub := range command.Subcommands {
			visit(sub, path+" "+sub.Name)
		}
	}
	visit(Root(), "livestate")
}

func TestWriteCommandsRoundTrip(t *testing.T) {
	h := newHarness(t)

	h.run("room", "create", "board")
	h.requireDocument("board", `{}`)

	h.run("set", "board", "title", `"Roadmap"`)
	h.run("set", "board", "columns", "[]", "--as", "list")
	h.run("push", "board", "columns", `{"name":"todo"}`, "--as", "object")
	h.run("push", "board", "columns", `{"name":"done"}`, "--as", "object")
	h.run("insert", "board", "columns.0", `"divider"`)
	h.requireDocument("board", `{"title":"Roadmap","columns":["divider",{"name":"todo"},{"name":"done"}]}`)

	h.run("move", "board", "columns", "0", "2")
	h.run("delete", "board", "title")
	h.requireDocument("board", `{"columns":[{"name":"todo"},{"name":"done"},"divider"]}`)

	testutil.RequireJSONEqual(t, json.RawMessage(h.run("get", "board", "columns.1.name")), `"done"`)

	entries := h.batches("board")
	if len(entries) != 7 {
		t.Fatalf("journal has %d batches, want 7", len(entries))
	}
	seen := make(map[uint64]bool)
	for _, entry := range entries {
		if seen[entry.Actor] {
			t.Errorf("actor %d used by two sessions", entry.Actor)
		}
		seen[entry.Actor] = true
		if len(entry.Ops) == 0 {
			t.Errorf("batch %s has no ops", entry.ID)
		}
	}

	// Deleting a missing key is an empty session: nothing journaled.
	h.run("delete", "board", "never-set")
	if got := len(h.batches("board")); got != 7 {
		t.Errorf("journal has %d batches after a no-op delete, want 7", got)
	}
}

func TestApplyIsAtomic(t *testing.T) {
	h := newHarness(t)
	h.run("room", "create", "board")

	good := testutil.WriteFile(t, "good.jsonc", `[
		// Build the board in one session.
		{"op": "set", "path": "columns", "value": [], "as": "list"},
		{"op": "push", "path": "columns", "value": {"name": "todo"}, "as": "object"},
		{"op": "set", "path": "title", "value": "Roadmap"},
	]`)
	out := h.run("apply", "board", good, "--print", "--compact")
	testutil.RequireJSONEqual(t, json.RawMessage(out), `{"columns":[{"name":"todo"}],"title":"Roadmap"}`)
	if got := len(h.batches("board")); got != 1 {
		t.Fatalf("journal has %d batches, want 1", got)
	}

	// The second step fails, so the first must not land either.
	bad := `[
		{"op": "set", "path": "title", "value": "Renamed"},
		{"op": "push", "path": "title", "value": 1},
	]`
	if _, err := h.execute(bad, "apply", "board", "-"); err == nil {
		t.Fatal("apply of a failing patch succeeded")
	}
	h.requireDocument("board", `{"columns":[{"name":"todo"}],"title":"Roadmap"}`)
	if got := len(h.batches("board")); got != 1 {
		t.Errorf("journal has %d batches after a failed patch, want 1", got)
	}
}

func TestRoomListAndDelete(t *testing.T) {
	h := newHarness(t)
	h.run("room", "create", "b")
	h.run("room", "create", "a")
	h.run("set", "a", "x", "1")

	var entries []roomEntry
	if err := json.Unmarshal([]byte(h.run("room", "list", "--json")), &entries); err != nil {
		t.Fatalf("decoding room list: %v", err)
	}
	if len(entries) != 2 || entries[0].ID != "a" || entries[1].ID != "b" {
		t.Fatalf("rooms = %+v, want [a b]", entries)
	}
	if entries[0].Batches != 1 {
		t.Errorf("room a has %d batches, want 1", entries[0].Batches)
	}

	text := h.run("room", "list")
	if !strings.Contains(text, "ROOM") || !strings.Contains(text, "a ") {
		t.Errorf("room list text output:\n%s", text)
	}

	h.run("room", "delete", "a")
	if _, err := h.execute("", "get", "a"); err == nil {
		t.Error("get on a deleted room succeeded")
	}
	if _, err := h.execute("", "room", "create", "b"); err == nil {
		t.Error("creating an existing room succeeded")
	}
}

func TestShowRendersTree(t *testing.T) {
	h := newHarness(t)
	h.run("room", "create", "board")
	h.run("set", "board", "title", `"Roadmap"`)
	h.run("set", "board", "columns", `["todo"]`, "--as", "list")

	out := h.run("show", "board")
	for _, want := range []string{"board root Object", "title \"Roadmap\"", "columns", "List", "[0]", "Register \"todo\""} {
		if !strings.Contains(out, want) {
			t.Errorf("show output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "\x1b[") {
		t.Errorf("show output to a buffer contains escape codes:\n%q", out)
	}
}

func TestExportImportDigest(t *testing.T) {
	h := newHarness(t)
	h.run("room", "create", "board")
	h.run("set", "board", "columns", `[1, 2, 3]`, "--as", "list")
	h.run("set", "board", "title", `"Roadmap"`)

	digest := strings.TrimSpace(h.run("digest", "board"))
	if len(digest) != 64 {
		t.Fatalf("digest = %q, want 64 hex characters", digest)
	}

	archive := filepath.Join(t.TempDir(), "board.lsnap")
	header := h.run("export", "board", archive, "--compression", "lz4")
	if !strings.Contains(header, "compression=lz4") || !strings.Contains(header, "digest="+digest) {
		t.Errorf("export header = %q", header)
	}
	if _, err := h.execute("", "export", "board", archive); err == nil {
		t.Error("export over an existing file without --force succeeded")
	}
	h.run("export", "board", archive, "--force", "--compression", "zstd")

	h.run("import", "copy", archive)
	h.requireDocument("copy", `{"columns":[1,2,3],"title":"Roadmap"}`)
	h.run("digest", "copy", "--expect", digest)

	h.run("set", "copy", "title", `"Changed"`)
	_, err := h.execute("", "digest", "copy", "--expect", digest)
	var exitErr *cli.ExitError
	if !errors.As(err, &exitErr) || exitErr.Code != 1 {
		t.Errorf("digest --expect on a changed room = %v, want exit code 1", err)
	}
}

func TestExportEncrypted(t *testing.T) {
	h := newHarness(t)
	h.run("room", "create", "board")
	h.run("set", "board", "secret", `"launch codes"`)

	identity, err := age.GenerateX25519Identity()
	if err != nil {
		t.Fatalf("GenerateX25519Identity: %v", err)
	}
	identities := testutil.WriteFile(t, "identities.txt", "# test key\n"+identity.String()+"\n")
	recipients := testutil.WriteFile(t, "recipients.txt", identity.Recipient().String()+"\n")

	archive := filepath.Join(t.TempDir(), "board.lsnap")
	header := h.run("export", "board", archive, "--recipients", recipients)
	if !strings.Contains(header, "encryption=age") {
		t.Fatalf("export header = %q, want encryption=age", header)
	}
	data, err := os.ReadFile(archive)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Contains(data, []byte("launch codes")) {
		t.Error("encrypted archive contains the plaintext")
	}

	if _, err := h.execute("", "import", "plain", archive); err == nil || !strings.Contains(err.Error(), "--identities") {
		t.Errorf("import without identities = %v, want a hint about --identities", err)
	}
	h.run("import", "copy", archive, "--identities", identities)
	h.requireDocument("copy", `{"secret":"launch codes"}`)
}

func TestPlanPreviewsOps(t *testing.T) {
	h := newHarness(t)
	h.run("room", "create", "board")
	h.run("set", "board", "columns", "[]", "--as", "list")

	snapshotPath := filepath.Join(t.TempDir(), "board.ndjson")
	if err := os.WriteFile(snapshotPath, []byte(h.run("dump", "board")), 0o644); err != nil {
		t.Fatal(err)
	}

	patch := `[{"op": "push", "path": "columns", "value": {"name": "todo"}, "as": "object"}]`
	out, err := h.execute(patch, "plan", snapshotPath, "-", "--actor", "99")
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	var result planResult
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("decoding plan output: %v\n%s", err, out)
	}
	if result.Actor != 99 || len(result.Ops) != 1 {
		t.Fatalf("plan = %+v, want one op for actor 99", result)
	}
	if got := result.Ops[0].ID.Actor(); got != 99 {
		t.Errorf("created node actor = %d, want 99", got)
	}

	// Planning never delivers.
	if got := len(h.batches("board")); got != 1 {
		t.Errorf("journal has %d batches after plan, want 1", got)
	}
}

func TestCommandErrors(t *testing.T) {
	h := newHarness(t)
	h.run("room", "create", "board")

	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"missing args", []string{"set", "board", "title"}, "usage: livestate set"},
		{"invalid json", []string{"set", "board", "title", "Roadmap"}, "not valid JSON"},
		{"bad as", []string{"set", "board", "x", "1", "--as", "tree"}, `unknown "as"`},
		{"bad index", []string{"move", "board", "columns", "one", "0"}, "from index"},
		{"unknown room", []string{"get", "nowhere"}, "not found"},
		{"bad compression", []string{"export", "board", "-", "--compression", "gzip"}, "unknown compression"},
		{"flag typo", []string{"get", "board", "--compcat"}, "did you mean --compact"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := h.execute("", test.args...)
			if err == nil || !strings.Contains(err.Error(), test.wantErr) {
				t.Fatalf("livestate %s: error = %v, want %q", strings.Join(test.args, " "), err, test.wantErr)
			}
		})
	}
}

func TestRequiresConfigOrDatabase(t *testing.T) {
	t.Setenv("LIVESTATE_CONFIG", "")
	root := newRoot(streams{out: &bytes.Buffer{}, in: strings.NewReader("")})
	err := root.Execute(context.Background(), []string{"room", "list"})
	if err == nil || !strings.Contains(err.Error(), "LIVESTATE_CONFIG") {
		t.Fatalf("room list without config = %v, want LIVESTATE_CONFIG error", err)
	}
}

func TestConfigFile(t *testing.T) {
	t.Setenv("LIVESTATE_CONFIG", "")
	dir := t.TempDir()
	configPath := testutil.WriteFile(t, "livestate.yaml", `
root: `+dir+`
store:
  path: ${LIVESTATE_ROOT}/state/rooms.db
snapshot:
  compression: lz4
`)
	var out bytes.Buffer
	root := newRoot(streams{out: &out, in: strings.NewReader("")})
	if err := root.Execute(context.Background(), []string{"room", "create", "board", "--config", configPath}); err != nil {
		t.Fatalf("room create: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "state", "rooms.db")); err != nil {
		t.Fatalf("store not created under the configured root: %v", err)
	}
	if err := root.Execute(context.Background(), []string{"export", "board", "-", "--config", configPath}); err != nil {
		t.Fatalf("export: %v", err)
	}
	if !strings.HasPrefix(out.String(), "LIVESTATE-SNAPSHOT/1 compression=lz4") {
		t.Errorf("export to stdout starts %q, want an lz4 archive header", out.String()[:min(len(out.String()), 40)])
	}
}

func TestShowTruncatesLongValues(t *testing.T) {
	h := newHarness(t)
	h.run("room", "create", "board")
	long := strings.Repeat("x", 100)
	h.run("set", "board", "notes", `"`+long+`"`)

	out := h.run("show", "board", "--width", "12")
	if strings.Contains(out, long) || !strings.Contains(out, "…") {
		t.Errorf("show --width 12 did not truncate:\n%s", out)
	}
	if out := h.run("show", "board", "--width", "0"); !strings.Contains(out, long) {
		t.Errorf("show --width 0 truncated:\n%s", out)
	}
}

func TestHighlightOnlyOnTerminals(t *testing.T) {
	var buffer bytes.Buffer
	if formatter := highlightFormatter(&buffer); formatter != "" {
		t.Errorf("highlightFormatter(buffer) = %q, want none", formatter)
	}
	if err := writeValue(&buffer, map[string]any{"a": []any{1.0}}, true, true); err != nil {
		t.Fatal(err)
	}
	if got := buffer.String(); got != "{\"a\":[1]}\n" {
		t.Errorf("writeValue = %q", got)
	}
}

func TestMetricsFile(t *testing.T) {
	t.Setenv("LIVESTATE_CONFIG", "")
	dir := t.TempDir()
	configPath := testutil.WriteFile(t, "livestate.yaml", `
root: `+dir+`
session:
  metrics_file: ${LIVESTATE_ROOT}/livestate.prom
`)
	root := newRoot(streams{out: io.Discard, in: strings.NewReader("")})
	for _, args := range [][]string{
		{"room", "create", "board"},
		{"set", "board", "title", `"Roadmap"`},
	} {
		if err := root.Execute(context.Background(), append(args, "--config", configPath)); err != nil {
			t.Fatalf("livestate %s: %v", strings.Join(args, " "), err)
		}
	}

	data, err := os.ReadFile(filepath.Join(dir, "livestate.prom"))
	if err != nil {
		t.Fatalf("reading metrics file: %v", err)
	}
	if !strings.Contains(string(data), `livestate_session_sessions_total{outcome="committed"} 1`) {
		t.Errorf("metrics file lacks the committed session:\n%s", data)
	}
}
