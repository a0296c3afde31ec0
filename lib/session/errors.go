// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TransportError reports a failure to retrieve a room's snapshot,
// including a stream that broke while it was being read.
type TransportError struct {
	Op     string
	RoomID string
	Err    error
}

func (e *TransportError) Error() string {
	if e.RoomID == "" {
		return fmt.Sprintf("session: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("session: %s room %q: %v", e.Op, e.RoomID, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// DeliveryError reports a batch the deliverer rejected or could not
// deliver. The session is aborted; whether any of it reached the room
// is for the deliverer to say.
type DeliveryError struct {
	RoomID    string
	SessionID uuid.UUID

	// Ops is the number of ops in the undelivered batch.
	Ops int

	Err error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("session: delivering %d ops to room %q (session %s): %v", e.Ops, e.RoomID, e.SessionID, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// TimeoutError is the cancellation cause of a phase that exceeded its
// configured timeout. It matches context.DeadlineExceeded.
type TimeoutError struct {
	State   State
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.State, e.Timeout)
}

func (e *TimeoutError) Unwrap() error { return context.DeadlineExceeded }
