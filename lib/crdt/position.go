// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package crdt

import (
	"errors"
	"fmt"
	"math/big"
)

// Position key alphabet: printable ASCII, read as base-95 digits.
const (
	minDigit  = ' '
	maxDigit  = '~'
	digitBase = int(maxDigit-minDigit) + 1
)

// DefaultMaxPositionLength is the longest position key [Positions.Between]
// produces when no explicit limit is configured.
const DefaultMaxPositionLength = 32

// ErrPositionExhausted reports that no acceptable position key exists
// between two neighbors: they are adjacent in the key space, out of
// order, contain characters outside the alphabet, or the midpoint would
// exceed the length limit. Callers recover by re-keying the sibling
// range with [Positions.Spread].
var ErrPositionExhausted = errors.New("crdt: position key space exhausted")

// Positions mints list position keys.
type Positions struct {
	// MaxLength caps the length of keys returned by Between. Zero
	// means DefaultMaxPositionLength.
	MaxLength int
}

func (p Positions) limit() int {
	if p.MaxLength <= 0 {
		return DefaultMaxPositionLength
	}
	return p.MaxLength
}

// ValidPosition reports whether key is a non-empty string over the
// position alphabet.
func ValidPosition(key string) bool {
	if key == "" {
		return false
	}
	for i := 0; i < len(key); i++ {
		if key[i] < minDigit || key[i] > maxDigit {
			return false
		}
	}
	return true
}

// Between returns a key that sorts strictly after before and strictly
// before after. An empty before means "start of list"; an empty after
// means "end of list". The result never ends in the minimum digit, so
// there is always room to insert after it.
func (p Positions) Between(before, after string) (string, error) {
	if (before != "" && !ValidPosition(before)) || (after != "" && !ValidPosition(after)) {
		return "", fmt.Errorf("%w: neighbor %q/%q outside key alphabet", ErrPositionExhausted, before, after)
	}
	if before != "" && after != "" && before >= after {
		return "", fmt.Errorf("%w: %q does not sort before %q", ErrPositionExhausted, before, after)
	}

	var result []byte
	bounded := after != ""
	for i := 0; ; i++ {
		low := 0
		if i < len(before) {
			low = int(before[i] - minDigit)
		}
		high := digitBase
		if bounded {
			if i >= len(after) {
				// after is before padded with minimum digits: the two
				// keys are equal as fractions and nothing fits between.
				return "", fmt.Errorf("%w: %q and %q are adjacent", ErrPositionExhausted, before, after)
			}
			high = int(after[i] - minDigit)
		}

		if low == high {
			result = append(result, byte(low)+minDigit)
			continue
		}
		if high-low > 1 {
			result = append(result, byte((low+high)/2)+minDigit)
			break
		}
		// Adjacent digits: keep before's digit, after no longer
		// constrains the remaining suffix.
		result = append(result, byte(low)+minDigit)
		bounded = false
	}

	if len(result) > p.limit() {
		return "", fmt.Errorf("%w: key between %q and %q needs %d digits (limit %d)",
			ErrPositionExhausted, before, after, len(result), p.limit())
	}
	return string(result), nil
}

// Spread returns n strictly increasing keys spaced evenly across the
// key space. Used to re-key a sibling range when Between is exhausted.
func (p Positions) Spread(n int) []string {
	if n <= 0 {
		return nil
	}
	slots := big.NewInt(int64(n) + 1)
	base := big.NewInt(int64(digitBase))

	// Smallest digit count whose range covers every slot, plus one
	// digit of headroom so later inserts between spread keys are short.
	digits := 1
	scale := new(big.Int).Set(base)
	for scale.Cmp(slots) < 0 {
		scale.Mul(scale, base)
		digits++
	}
	scale.Mul(scale, base)
	digits++

	keys := make([]string, n)
	value := new(big.Int)
	remainder := new(big.Int)
	for k := 1; k <= n; k++ {
		value.Mul(scale, big.NewInt(int64(k)))
		value.Quo(value, slots)

		key := make([]byte, digits)
		for d := digits - 1; d >= 0; d-- {
			value.QuoRem(value, base, remainder)
			key[d] = byte(remainder.Int64()) + minDigit
		}
		end := len(key)
		for end > 0 && key[end-1] == minDigit {
			end--
		}
		keys[k-1] = string(key[:end])
	}
	return keys
}
