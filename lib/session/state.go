// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"fmt"

	"github.com/google/uuid"
)

// State is a session's position in its lifecycle.
type State uint8

const (
	Fetching State = iota
	Built
	Mutating
	Flushing
	Committed
	Aborted
)

func (s State) String() string {
	switch s {
	case Fetching:
		return "fetching"
	case Built:
		return "built"
	case Mutating:
		return "mutating"
	case Flushing:
		return "flushing"
	case Committed:
		return "committed"
	case Aborted:
		return "aborted"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Terminal reports whether no transition can follow s.
func (s State) Terminal() bool { return s == Committed || s == Aborted }

// Transition is passed to Config.OnTransition each time a session
// enters a new state. Err is set only when State is Aborted.
type Transition struct {
	RoomID    string
	SessionID uuid.UUID
	State     State
	Err       error
}
