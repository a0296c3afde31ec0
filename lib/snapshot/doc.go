// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package snapshot reads and writes room snapshot archives.
//
// An archive is a single plaintext header line followed by the room's
// NDJSON snapshot stream, optionally compressed and optionally
// encrypted:
//
//	LIVESTATE-SNAPSHOT/1 compression=zstd encryption=age digest=<hex>\n
//	<age(zstd(ndjson))>
//
// Compression is none, zstd, or lz4 (frame format). Encryption uses age
// with any number of recipients and is applied after compression. The
// digest is the BLAKE3 hash of the canonical NDJSON (see [Digest]) and
// is checked by [Read] after the registry is rebuilt, so an archive
// that decodes to a different room fails even when every layer
// decodes cleanly.
package snapshot
