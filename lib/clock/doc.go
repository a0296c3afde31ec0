// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time abstraction for testability.
//
// Production code accepts a Clock instead of calling time.Now or
// time.AfterFunc directly. In production, Real() provides the standard
// library behavior. In tests, Fake() provides a deterministic clock
// that advances only when Advance is called.
//
// Session phase timeouts are the main consumer: the coordinator arms an
// AfterFunc timer that cancels the phase context, so a test can hold a
// delivery open, advance the fake clock past the deadline, and observe
// the abort without sleeping.
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	go coordinator.Mutate(ctx, "room", mutate) // blocks in Deliver
//	c.WaitForTimers(1)                         // timeout timer armed
//	c.Advance(30 * time.Second)                // fires it
package clock
