// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package snapshot

import (
	"bufio"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"filippo.io/age"
	"github.com/zeebo/blake3"

	"github.com/bureau-foundation/livestate/lib/storage"
)

const (
	magic = "LIVESTATE-SNAPSHOT/1"

	// maxHeaderLength bounds the header line so a non-archive input
	// fails fast.
	maxHeaderLength = 512

	digestContext = "livestate 2026-10 snapshot archive"
)

var (
	// ErrNotArchive is returned when the input does not start with an
	// archive header.
	ErrNotArchive = errors.New("snapshot: not a livestate snapshot archive")

	// ErrEncrypted is returned when reading an encrypted archive
	// without identities.
	ErrEncrypted = errors.New("snapshot: archive is encrypted and no identities were given")

	// ErrDigestMismatch is returned when the decoded room does not
	// match the digest in the header.
	ErrDigestMismatch = errors.New("snapshot: archive digest does not match its contents")
)

// Options configures Write.
type Options struct {
	Compression Compression

	// Recipients, when non-empty, encrypts the archive body to each of
	// them.
	Recipients []age.Recipient
}

// ReadOptions configures Read.
type ReadOptions struct {
	// Identities decrypt encrypted archives.
	Identities []age.Identity
}

// Header is the decoded archive header line.
type Header struct {
	Compression Compression
	Encrypted   bool
	Digest      string
}

func (h Header) String() string {
	encryption := "none"
	if h.Encrypted {
		encryption = "age"
	}
	return fmt.Sprintf("%s compression=%s encryption=%s digest=%s", magic, h.Compression, encryption, h.Digest)
}

// Digest returns the hex BLAKE3 digest of the registry's canonical
// snapshot stream. Registries holding the same nodes and actor have the
// same digest.
func Digest(registry *storage.Registry) (string, error) {
	hasher := blake3.NewDeriveKey(digestContext)
	if _, err := registry.WriteTo(hasher); err != nil {
		return "", err
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// Write writes registry to w as an archive and returns its header.
func Write(w io.Writer, registry *storage.Registry, options Options) (Header, error) {
	digest, err := Digest(registry)
	if err != nil {
		return Header{}, fmt.Errorf("snapshot: digest: %w", err)
	}
	header := Header{
		Compression: options.Compression,
		Encrypted:   len(options.Recipients) > 0,
		Digest:      digest,
	}
	if _, err := io.WriteString(w, header.String()+"\n"); err != nil {
		return Header{}, fmt.Errorf("snapshot: writing header: %w", err)
	}

	var sink io.WriteCloser = nopWriteCloser{w}
	if header.Encrypted {
		encrypted, err := age.Encrypt(w, options.Recipients...)
		if err != nil {
			return Header{}, fmt.Errorf("snapshot: encrypting: %w", err)
		}
		sink = encrypted
	}
	compressed, err := compressor(sink, options.Compression)
	if err != nil {
		return Header{}, err
	}
	if _, err := registry.WriteTo(compressed); err != nil {
		return Header{}, fmt.Errorf("snapshot: writing body: %w", err)
	}
	if err := compressed.Close(); err != nil {
		return Header{}, fmt.Errorf("snapshot: finishing %s stream: %w", options.Compression, err)
	}
	if err := sink.Close(); err != nil {
		return Header{}, fmt.Errorf("snapshot: finishing encryption: %w", err)
	}
	return header, nil
}

// Read decodes an archive and rebuilds its registry, verifying the
// header digest.
func Read(r io.Reader, options ReadOptions) (*storage.Registry, Header, error) {
	buffered := bufio.NewReader(r)
	header, err := readHeader(buffered)
	if err != nil {
		return nil, Header{}, err
	}

	var body io.Reader = buffered
	if header.Encrypted {
		if len(options.Identities) == 0 {
			return nil, header, ErrEncrypted
		}
		decrypted, err := age.Decrypt(buffered, options.Identities...)
		if err != nil {
			return nil, header, fmt.Errorf("snapshot: decrypting: %w", err)
		}
		body = decrypted
	}
	decompressed, release, err := decompressor(body, header.Compression)
	if err != nil {
		return nil, header, err
	}
	defer release()

	registry, err := storage.Load(decompressed)
	if err != nil {
		return nil, header, fmt.Errorf("snapshot: %w", err)
	}
	digest, err := Digest(registry)
	if err != nil {
		return nil, header, fmt.Errorf("snapshot: digest: %w", err)
	}
	if digest != header.Digest {
		return nil, header, fmt.Errorf("%w: header %s, contents %s", ErrDigestMismatch, header.Digest, digest)
	}
	return registry, header, nil
}

// ReadHeader decodes only the header line of an archive.
func ReadHeader(r io.Reader) (Header, error) {
	return readHeader(bufio.NewReader(r))
}

func readHeader(r *bufio.Reader) (Header, error) {
	var line []byte
	for {
		fragment, err := r.ReadSlice('\n')
		line = append(line, fragment...)
		if len(line) > maxHeaderLength {
			return Header{}, ErrNotArchive
		}
		if err == nil {
			break
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if errors.Is(err, io.EOF) {
			return Header{}, ErrNotArchive
		}
		return Header{}, fmt.Errorf("snapshot: reading header: %w", err)
	}

	fields := strings.Fields(string(line))
	if len(fields) == 0 || fields[0] != magic {
		return Header{}, ErrNotArchive
	}
	var header Header
	var sawCompression, sawDigest bool
	for _, field := range fields[1:] {
		name, value, ok := strings.Cut(field, "=")
		if !ok {
			return Header{}, fmt.Errorf("%w: malformed header field %q", ErrNotArchive, field)
		}
		switch name {
		case "compression":
			compression, err := ParseCompression(value)
			if err != nil {
				return Header{}, err
			}
			header.Compression = compression
			sawCompression = true
		case "encryption":
			switch value {
			case "none":
			case "age":
				header.Encrypted = true
			default:
				return Header{}, fmt.Errorf("snapshot: unknown encryption %q", value)
			}
		case "digest":
			header.Digest = value
			sawDigest = true
		}
	}
	if !sawCompression || !sawDigest {
		return Header{}, fmt.Errorf("%w: header lacks compression or digest", ErrNotArchive)
	}
	return header, nil
}

// ParseRecipients reads age recipients, one per line, ignoring blank
// lines and # comments.
func ParseRecipients(r io.Reader) ([]age.Recipient, error) {
	recipients, err := age.ParseRecipients(r)
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	return recipients, nil
}

// ParseIdentities reads age identities in the age-keygen file format.
func ParseIdentities(r io.Reader) ([]age.Identity, error) {
	identities, err := age.ParseIdentities(r)
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	return identities, nil
}
