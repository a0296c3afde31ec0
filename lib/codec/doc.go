// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides livestate's CBOR encoding configuration.
//
// livestate uses two serialization formats with a clear boundary:
//
//   - JSON for the wire: snapshot streams, op batches handed to a
//     delivery collaborator, and CLI output.
//   - CBOR for storage: the op journal kept by lib/roomstore.
//
// Every package that writes CBOR goes through this one configuration so
// that the same batch always produces the same bytes:
//
//	data, err := codec.Marshal(ops)
//	err = codec.Unmarshal(data, &ops)
//
// Types shared with the wire carry `json` tags only. fxamacker/cbor
// reads `json` tags when `cbor` tags are absent, so one tag controls
// field naming and omission for both formats.
package codec
