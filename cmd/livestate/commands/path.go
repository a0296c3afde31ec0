// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/bureau-foundation/livestate/lib/storage"
)

// errPathNotFound is returned when a path names a key or index that
// does not exist.
var errPathNotFound = errors.New("path not found")

// parsePath splits a dotted path into segments. A backslash escapes
// the next character, so "a\.b" is the single key "a.b". The empty
// path names the root.
func parsePath(text string) ([]string, error) {
	if text == "" {
		return nil, nil
	}
	var segments []string
	var current strings.Builder
	escaped := false
	for _, r := range text {
		switch {
		case escaped:
			current.WriteRune(r)
			escaped = false
		case r == '\\':
			escaped = true
		case r == '.':
			if current.Len() == 0 {
				return nil, fmt.Errorf("path %q has an empty segment", text)
			}
			segments = append(segments, current.String())
			current.Reset()
		default:
			current.WriteRune(r)
		}
	}
	if escaped {
		return nil, fmt.Errorf("path %q ends with a dangling escape", text)
	}
	if current.Len() == 0 {
		return nil, fmt.Errorf("path %q has an empty segment", text)
	}
	return append(segments, current.String()), nil
}

// joinSegments renders segments back into path syntax, for messages.
func joinSegments(segments []string) string {
	escaped := make([]string, len(segments))
	for i, segment := range segments {
		segment = strings.ReplaceAll(segment, `\`, `\\`)
		escaped[i] = strings.ReplaceAll(segment, ".", `\.`)
	}
	return strings.Join(escaped, ".")
}

// resolve walks segments from root through live containers and returns
// the node at the end.
func resolve(root *storage.Object, segments []string) (storage.Node, error) {
	var current storage.Node = root
	for i, segment := range segments {
		next, err := child(current, segment)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", joinSegments(segments[:i+1]), err)
		}
		current = next
	}
	return current, nil
}

func child(node storage.Node, segment string) (storage.Node, error) {
	switch container := node.(type) {
	case *storage.Object:
		if next, ok := container.Child(segment); ok {
			return next, nil
		}
		if container.Has(segment) {
			return nil, errors.New("is a plain field, not a container")
		}
		return nil, errPathNotFound
	case *storage.Map:
		if next, ok := container.Child(segment); ok {
			return next, nil
		}
		return nil, errPathNotFound
	case *storage.List:
		index, err := listIndex(segment)
		if err != nil {
			return nil, err
		}
		if next, ok := container.At(index); ok {
			return next, nil
		}
		return nil, errPathNotFound
	default:
		return nil, fmt.Errorf("%s is not a container", node.Type())
	}
}

func listIndex(segment string) (int, error) {
	index, err := strconv.Atoi(segment)
	if err != nil || index < 0 {
		return 0, fmt.Errorf("list index %q is not a non-negative integer", segment)
	}
	return index, nil
}

// read returns a plain copy of the value at segments.
func read(root *storage.Object, segments []string) (any, error) {
	if len(segments) == 0 {
		return root.ToImmutable(), nil
	}
	parent, err := resolve(root, segments[:len(segments)-1])
	if err != nil {
		return nil, err
	}
	key := segments[len(segments)-1]

	var value any
	found := false
	switch container := parent.(type) {
	case *storage.Object:
		value, found = container.Get(key)
	case *storage.Map:
		value, found = container.Get(key)
	case *storage.List:
		index, err := listIndex(key)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", joinSegments(segments), err)
		}
		value, found = container.Get(index)
	default:
		return nil, fmt.Errorf("%s: %s is not a container", joinSegments(segments[:len(segments)-1]), parent.Type())
	}
	if !found {
		return nil, fmt.Errorf("%s: %w", joinSegments(segments), errPathNotFound)
	}
	if node, ok := value.(storage.Node); ok {
		return storage.ToImmutable(node), nil
	}
	return value, nil
}
