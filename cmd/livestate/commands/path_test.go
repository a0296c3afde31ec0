// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"errors"
	"slices"
	"strings"
	"testing"

	"github.com/bureau-foundation/livestate/lib/storage"
	"github.com/bureau-foundation/livestate/lib/testutil"
)

func TestParsePath(t *testing.T) {
	tests := []struct {
		path    string
		want    []string
		wantErr string
	}{
		{path: "", want: nil},
		{path: "title", want: []string{"title"}},
		{path: "columns.0.name", want: []string{"columns", "0", "name"}},
		{path: `a\.b.c`, want: []string{"a.b", "c"}},
		{path: `back\\slash`, want: []string{`back\slash`}},
		{path: "a..b", wantErr: "empty segment"},
		{path: ".a", wantErr: "empty segment"},
		{path: "a.", wantErr: "empty segment"},
		{path: `a\`, wantErr: "dangling escape"},
	}
	for _, test := range tests {
		t.Run(test.path, func(t *testing.T) {
			got, err := parsePath(test.path)
			if test.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), test.wantErr) {
					t.Fatalf("parsePath(%q) error = %v, want %q", test.path, err, test.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("parsePath(%q): %v", test.path, err)
			}
			if !slices.Equal(got, test.want) {
				t.Errorf("parsePath(%q) = %q, want %q", test.path, got, test.want)
			}
		})
	}
}

func TestJoinSegmentsRoundTrips(t *testing.T) {
	segments := []string{"a.b", `c\d`, "0"}
	joined := joinSegments(segments)
	parsed, err := parsePath(joined)
	if err != nil {
		t.Fatalf("parsePath(%q): %v", joined, err)
	}
	if !slices.Equal(parsed, segments) {
		t.Errorf("round trip = %q, want %q", parsed, segments)
	}
}

// boardDocument builds a document with a plain field, a live list of
// objects and a live map.
func boardDocument(t *testing.T) *storage.Document {
	t.Helper()
	document, err := storage.Build(storage.NewEmptyRegistry(1), storage.BuildOptions{Actor: 1})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	steps, err := parsePatch([]byte(`[
		{"op": "set", "path": "title", "value": "Roadmap"},
		{"op": "set", "path": "columns", "value": [], "as": "list"},
		{"op": "push", "path": "columns", "value": {"name": "todo"}, "as": "object"},
		{"op": "push", "path": "columns", "value": 7},
		{"op": "set", "path": "labels", "value": {"bug": "red"}, "as": "map"},
	]`))
	if err != nil {
		t.Fatalf("parsePatch: %v", err)
	}
	if err := applyPatch(document.Root(), steps); err != nil {
		t.Fatalf("applyPatch: %v", err)
	}
	return document
}

func TestRead(t *testing.T) {
	root := boardDocument(t).Root()

	tests := []struct {
		path string
		want string
	}{
		{"", `{"title":"Roadmap","columns":[{"name":"todo"},7],"labels":{"bug":"red"}}`},
		{"title", `"Roadmap"`},
		{"columns", `[{"name":"todo"},7]`},
		{"columns.0", `{"name":"todo"}`},
		{"columns.0.name", `"todo"`},
		{"columns.1", `7`},
		{"labels.bug", `"red"`},
	}
	for _, test := range tests {
		t.Run(test.path, func(t *testing.T) {
			segments, err := parsePath(test.path)
			if err != nil {
				t.Fatalf("parsePath: %v", err)
			}
			got, err := read(root, segments)
			if err != nil {
				t.Fatalf("read(%q): %v", test.path, err)
			}
			testutil.RequireJSONEqual(t, got, test.want)
		})
	}
}

func TestReadErrors(t *testing.T) {
	root := boardDocument(t).Root()

	tests := []struct {
		path     string
		notFound bool
		wantErr  string
	}{
		{path: "missing", notFound: true},
		{path: "columns.5", notFound: true},
		{path: "labels.green", notFound: true},
		{path: "columns.x", wantErr: "not a non-negative integer"},
		{path: "title.length", wantErr: "plain field"},
		{path: "columns.1.value", wantErr: "Register is not a container"},
	}
	for _, test := range tests {
		t.Run(test.path, func(t *testing.T) {
			segments, err := parsePath(test.path)
			if err != nil {
				t.Fatalf("parsePath: %v", err)
			}
			_, err = read(root, segments)
			if err == nil {
				t.Fatalf("read(%q) succeeded, want error", test.path)
			}
			if test.notFound && !errors.Is(err, errPathNotFound) {
				t.Errorf("read(%q) error = %v, want errPathNotFound", test.path, err)
			}
			if test.wantErr != "" && !strings.Contains(err.Error(), test.wantErr) {
				t.Errorf("read(%q) error = %v, want %q", test.path, err, test.wantErr)
			}
		})
	}
}
