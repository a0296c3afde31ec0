// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/jsonc"

	"github.com/bureau-foundation/livestate/lib/storage"
)

// step is one write in a patch. A patch file is a JSONC array of steps:
//
//	[
//	  // Create a live list under the root.
//	  {"op": "set", "path": "columns", "value": [], "as": "list"},
//	  {"op": "push", "path": "columns", "value": {"name": "todo"}, "as": "object"},
//	  {"op": "insert", "path": "columns.0", "value": {"name": "backlog"}, "as": "object"},
//	  {"op": "move", "path": "columns", "from": 0, "to": 1},
//	  {"op": "delete", "path": "title"},
//	]
//
// "as" wraps value in a live Object, List or Map. Without it, value is
// stored as plain JSON.
type step struct {
	Op    string          `json:"op"`
	Path  string          `json:"path"`
	Value json.RawMessage `json:"value,omitempty"`
	As    string          `json:"as,omitempty"`
	From  *int            `json:"from,omitempty"`
	To    *int            `json:"to,omitempty"`
}

// parsePatch decodes a JSONC patch document. Comments and trailing
// commas are allowed.
func parsePatch(data []byte) ([]step, error) {
	decoder := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
	decoder.DisallowUnknownFields()
	var steps []step
	if err := decoder.Decode(&steps); err != nil {
		return nil, fmt.Errorf("parsing patch: %w", err)
	}
	for i, s := range steps {
		if err := s.validate(); err != nil {
			return nil, fmt.Errorf("patch step %d: %w", i, err)
		}
	}
	return steps, nil
}

func (s step) validate() error {
	switch s.Op {
	case "set", "insert", "push":
		if len(s.Value) == 0 {
			return fmt.Errorf("%s requires a value", s.Op)
		}
	case "delete":
		if s.Path == "" {
			return errors.New("delete requires a path")
		}
	case "move":
		if s.From == nil || s.To == nil {
			return errors.New("move requires from and to")
		}
	default:
		return fmt.Errorf("unknown op %q (want set, insert, push, delete or move)", s.Op)
	}
	switch s.As {
	case "", "object", "list", "map":
	default:
		return fmt.Errorf("unknown \"as\" %q (want object, list or map)", s.As)
	}
	if (s.Op == "set" || s.Op == "insert") && s.Path == "" {
		return fmt.Errorf("%s requires a path below the root", s.Op)
	}
	return nil
}

// applyPatch runs steps against root in order. The first failure stops
// the patch; the caller's session discards everything recorded.
func applyPatch(root *storage.Object, steps []step) error {
	for i, s := range steps {
		if err := s.apply(root); err != nil {
			return fmt.Errorf("patch step %d (%s %s): %w", i, s.Op, s.Path, err)
		}
	}
	return nil
}

func (s step) apply(root *storage.Object) error {
	segments, err := parsePath(s.Path)
	if err != nil {
		return err
	}

	switch s.Op {
	case "push":
		list, err := resolveList(root, segments)
		if err != nil {
			return err
		}
		value, err := s.value()
		if err != nil {
			return err
		}
		return list.Push(value)

	case "move":
		list, err := resolveList(root, segments)
		if err != nil {
			return err
		}
		return list.Move(*s.From, *s.To)
	}

	parent, err := resolve(root, segments[:len(segments)-1])
	if err != nil {
		return err
	}
	key := segments[len(segments)-1]

	if s.Op == "delete" {
		return deleteIn(parent, key)
	}
	value, err := s.value()
	if err != nil {
		return err
	}
	if s.Op == "insert" {
		list, ok := parent.(*storage.List)
		if !ok {
			return fmt.Errorf("insert needs a list parent, found %s", parent.Type())
		}
		index, err := listIndex(key)
		if err != nil {
			return err
		}
		return list.Insert(index, value)
	}
	return setIn(parent, key, value)
}

// value decodes the step's JSON value, numbers as float64, and wraps
// it in a live node when "as" asks for one.
func (s step) value() (any, error) {
	var plain any
	if err := json.Unmarshal(s.Value, &plain); err != nil {
		return nil, fmt.Errorf("value: %w", err)
	}
	switch s.As {
	case "object", "map":
		fields, ok := plain.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("\"as\": %q needs a JSON object value", s.As)
		}
		if s.As == "map" {
			return storage.NewMap(fields)
		}
		return storage.NewObject(fields)
	case "list":
		items, ok := plain.([]any)
		if !ok {
			return nil, errors.New("\"as\": \"list\" needs a JSON array value")
		}
		return storage.NewList(items)
	}
	return plain, nil
}

func resolveList(root *storage.Object, segments []string) (*storage.List, error) {
	node, err := resolve(root, segments)
	if err != nil {
		return nil, err
	}
	list, ok := node.(*storage.List)
	if !ok {
		return nil, fmt.Errorf("%s is a %s, not a list", displayPath(segments), node.Type())
	}
	return list, nil
}

func setIn(parent storage.Node, key string, value any) error {
	switch container := parent.(type) {
	case *storage.Object:
		return container.Set(key, value)
	case *storage.Map:
		return container.Set(key, value)
	case *storage.List:
		index, err := listIndex(key)
		if err != nil {
			return err
		}
		return container.Set(index, value)
	}
	return fmt.Errorf("cannot set %q on a %s", key, parent.Type())
}

func deleteIn(parent storage.Node, key string) error {
	switch container := parent.(type) {
	case *storage.Object:
		return container.Delete(key)
	case *storage.Map:
		return container.Delete(key)
	case *storage.List:
		index, err := listIndex(key)
		if err != nil {
			return err
		}
		return container.Delete(index)
	}
	return fmt.Errorf("cannot delete %q from a %s", key, parent.Type())
}

func displayPath(segments []string) string {
	if len(segments) == 0 {
		return "the root"
	}
	return joinSegments(segments)
}
