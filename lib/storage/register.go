// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"encoding/json"

	"github.com/bureau-foundation/livestate/lib/crdt"
)

// Register is a leaf holding one JSON value. Registers are immutable:
// changing the value stored in a List or Map replaces the register.
type Register struct {
	nodeBase
	value any
}

func (r *Register) Type() crdt.Type { return crdt.Register }

// Value returns a copy of the stored value.
func (r *Register) Value() any { return deepCopy(r.value) }

// ToImmutable returns a copy of the stored value.
func (r *Register) ToImmutable() any { return deepCopy(r.value) }

// MarshalJSON encodes the stored value.
func (r *Register) MarshalJSON() ([]byte, error) { return json.Marshal(r.value) }
