// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"errors"
	"fmt"

	"github.com/bureau-foundation/livestate/lib/crdt"
)

// ErrReconstruction matches every error that reports an invalid
// snapshot. Reconstruction errors are fatal: a registry or document is
// never returned partially built.
//
//	if errors.Is(err, storage.ErrReconstruction) { ... }
var ErrReconstruction = errors.New("storage: reconstruction failed")

// DanglingParentError reports a node whose parentId names a node that
// is not in the snapshot.
type DanglingParentError struct {
	ID       crdt.NodeID
	ParentID crdt.NodeID
}

func (e *DanglingParentError) Error() string {
	return fmt.Sprintf("storage: node %s references missing parent %s", e.ID, e.ParentID)
}

func (e *DanglingParentError) Is(target error) bool { return target == ErrReconstruction }

// MissingRootError reports a snapshot without exactly one parentless
// node, or whose parentless node is not the root object. Roots lists
// the parentless nodes found, in id order.
type MissingRootError struct {
	Roots  []crdt.NodeID
	Reason string
}

func (e *MissingRootError) Error() string {
	if e.Reason != "" {
		return "storage: " + e.Reason
	}
	switch len(e.Roots) {
	case 0:
		return "storage: snapshot has no root node"
	default:
		return fmt.Sprintf("storage: snapshot has %d parentless nodes %v, want exactly one", len(e.Roots), e.Roots)
	}
}

func (e *MissingRootError) Is(target error) bool { return target == ErrReconstruction }

// DuplicateIDError reports a node id that appears more than once.
type DuplicateIDError struct {
	ID crdt.NodeID
}

func (e *DuplicateIDError) Error() string {
	return fmt.Sprintf("storage: duplicate node id %s", e.ID)
}

func (e *DuplicateIDError) Is(target error) bool { return target == ErrReconstruction }

// InvalidParentError reports a node attached somewhere it cannot be:
// under a Register, or without a parentKey.
type InvalidParentError struct {
	ID         crdt.NodeID
	ParentID   crdt.NodeID
	ParentType crdt.Type
	Reason     string
}

func (e *InvalidParentError) Error() string {
	return fmt.Sprintf("storage: node %s under %s %s: %s", e.ID, e.ParentType, e.ParentID, e.Reason)
}

func (e *InvalidParentError) Is(target error) bool { return target == ErrReconstruction }

// DuplicateKeyError reports two children of one Object or Map that
// share a key. Existing is the lower of the two ids.
type DuplicateKeyError struct {
	ParentID crdt.NodeID
	Key      string
	Existing crdt.NodeID
	ID       crdt.NodeID
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("storage: nodes %s and %s share key %q under %s", e.Existing, e.ID, e.Key, e.ParentID)
}

func (e *DuplicateKeyError) Is(target error) bool { return target == ErrReconstruction }

// UnreachableNodeError reports a node whose parent chain never reaches
// the root, which happens only when parent links form a cycle.
type UnreachableNodeError struct {
	ID crdt.NodeID
}

func (e *UnreachableNodeError) Error() string {
	return fmt.Sprintf("storage: node %s is not reachable from root", e.ID)
}

func (e *UnreachableNodeError) Is(target error) bool { return target == ErrReconstruction }

// InvalidNodeError reports a node payload that does not fit its type,
// such as an Object whose data is not a mapping.
type InvalidNodeError struct {
	ID     crdt.NodeID
	Reason string
}

func (e *InvalidNodeError) Error() string {
	return fmt.Sprintf("storage: node %s: %s", e.ID, e.Reason)
}

func (e *InvalidNodeError) Is(target error) bool { return target == ErrReconstruction }

// MalformedRecordError reports a stream record that could not be
// decoded. Record 0 is the header; node records count from 1.
type MalformedRecordError struct {
	Record int
	Err    error
}

func (e *MalformedRecordError) Error() string {
	if e.Record == 0 {
		return fmt.Sprintf("storage: snapshot header: %v", e.Err)
	}
	return fmt.Sprintf("storage: snapshot record %d: %v", e.Record, e.Err)
}

func (e *MalformedRecordError) Unwrap() error { return e.Err }

func (e *MalformedRecordError) Is(target error) bool { return target == ErrReconstruction }

// Errors returned by live tree write accessors.
var (
	// ErrDocumentClosed is returned by writes after Document.Close.
	ErrDocumentClosed = errors.New("storage: document is closed")

	// ErrNodeDeleted is returned by writes on a node that has been
	// removed from its document.
	ErrNodeDeleted = errors.New("storage: node has been deleted")

	// ErrDetached is returned by writes on a node that has not been
	// attached to a document. Detached nodes are populated through
	// their constructor.
	ErrDetached = errors.New("storage: node is not attached to a document")

	// ErrAlreadyAttached is returned when a live node that already has
	// a parent is used as a value.
	ErrAlreadyAttached = errors.New("storage: node already has a parent")

	// ErrIndexOutOfRange is returned by List accessors given an index
	// outside the list.
	ErrIndexOutOfRange = errors.New("storage: list index out of range")

	// ErrEmptyKey is returned by Object and Map writes given an empty
	// key.
	ErrEmptyKey = errors.New("storage: key must not be empty")
)

// InvalidValueError reports a value that cannot be stored: it is not
// JSON-compatible, or a live node is nested inside a plain value. Path
// locates the offending element within the value ("" for the value
// itself).
type InvalidValueError struct {
	Path   string
	Reason string
}

func (e *InvalidValueError) Error() string {
	if e.Path == "" {
		return "storage: invalid value: " + e.Reason
	}
	return fmt.Sprintf("storage: invalid value at %s: %s", e.Path, e.Reason)
}

// ApplyError reports an op that could not be applied to a registry.
// Index is the op's position in the batch.
type ApplyError struct {
	Index int
	Op    crdt.Op
	Err   error
}

func (e *ApplyError) Error() string {
	return fmt.Sprintf("storage: op %d (%s %s): %v", e.Index, e.Op.Type, e.Op.ID, e.Err)
}

func (e *ApplyError) Unwrap() error { return e.Err }
