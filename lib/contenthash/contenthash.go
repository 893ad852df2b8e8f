// Copyright 2026 The Carton Authors
// SPDX-License-Identifier: Apache-2.0

// Package contenthash produces the content identity of parcel data:
// a streamed SHA-256 digest, the detected media type, and the
// verified byte size of a source file.
//
// SHA-256 is the compatibility surface of the staging layout and the
// remote registry — parcel paths and dedup keys are hex SHA-256
// digests of exactly the stored bytes.
package contenthash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// chunkSize bounds the read buffer used while streaming a file
// through the digest. Files are never loaded whole into memory.
const chunkSize = 1 << 20

// Digest is a SHA-256 content digest.
type Digest [sha256.Size]byte

// String returns the canonical lowercase hex form of the digest, as
// used in manifests, parcel filenames, and registry paths.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// ParseDigest parses the canonical hex form back into a Digest.
func ParseDigest(hexString string) (Digest, error) {
	var d Digest
	decoded, err := hex.DecodeString(hexString)
	if err != nil {
		return d, fmt.Errorf("parsing content digest: %w", err)
	}
	if len(decoded) != sha256.Size {
		return d, fmt.Errorf("content digest is %d bytes, want %d", len(decoded), sha256.Size)
	}
	copy(d[:], decoded)
	return d, nil
}

// HashBytes returns the digest of a byte slice. Used for in-memory
// content (serialized manifests) and in tests.
func HashBytes(data []byte) Digest {
	return Digest(sha256.Sum256(data))
}

// SizeMismatchError reports that a file's size changed while it was
// being hashed: the byte count fed through the digest disagrees with
// the size the filesystem reports afterward. This means the source
// tree was mutated concurrently (or the file is not a regular file),
// and the digest cannot be trusted to describe any stable content.
type SizeMismatchError struct {
	Path   string
	Hashed int64
	Stat   int64
}

func (e *SizeMismatchError) Error() string {
	return fmt.Sprintf("%s changed while hashing: hashed %d bytes, file is now %d bytes", e.Path, e.Hashed, e.Stat)
}

// FileContent describes one hashed source file.
type FileContent struct {
	Digest    Digest
	MediaType string
	Size      int64
}

// HashFile streams the file at path through SHA-256 in bounded
// chunks, then re-stats the file and verifies that the size on disk
// matches the bytes hashed. A mismatch returns [*SizeMismatchError];
// the caller must treat it as fatal, not retry it.
func HashFile(path string) (FileContent, error) {
	file, err := os.Open(path)
	if err != nil {
		return FileContent{}, fmt.Errorf("opening %s for hashing: %w", path, err)
	}
	defer file.Close()

	hasher := sha256.New()
	buf := make([]byte, chunkSize)
	var hashed int64
	for {
		n, readErr := file.Read(buf)
		if n > 0 {
			hasher.Write(buf[:n])
			hashed += int64(n)
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return FileContent{}, fmt.Errorf("hashing %s: %w", path, readErr)
		}
	}

	info, err := file.Stat()
	if err != nil {
		return FileContent{}, fmt.Errorf("stat after hashing %s: %w", path, err)
	}
	if info.Size() != hashed {
		return FileContent{}, &SizeMismatchError{Path: path, Hashed: hashed, Stat: info.Size()}
	}

	var digest Digest
	copy(digest[:], hasher.Sum(nil))
	return FileContent{
		Digest:    digest,
		MediaType: MediaTypeForPath(path),
		Size:      hashed,
	}, nil
}
