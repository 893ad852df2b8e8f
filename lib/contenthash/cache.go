// Copyright 2026 The Carton Authors
// SPDX-License-Identifier: Apache-2.0

package contenthash

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/carton-foundation/carton/lib/codec"
)

// Cache memoizes file digests across runs keyed by (path, size,
// mtime). A hit skips re-reading the file; a miss or a stale entry
// falls through to [HashFile]. The cache is an optimization only:
// losing or corrupting it costs re-hashing, never correctness,
// because stale entries are invalidated by size/mtime and the staging
// layout is content-addressed regardless.
//
// The on-disk form is a deterministic CBOR document written
// atomically (temp file + rename), so a crash mid-save leaves the
// previous cache intact.
type Cache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	dirty   bool
}

type cacheEntry struct {
	Size      int64  `cbor:"size"`
	MTimeNano int64  `cbor:"mtime_nano"`
	SHA256    string `cbor:"sha256"`
	MediaType string `cbor:"media_type"`
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[string]cacheEntry)}
}

// LoadCache reads a cache document from path. A missing file returns
// an empty cache; an unreadable or undecodable file also returns an
// empty cache, since the sidecar is disposable.
func LoadCache(path string) *Cache {
	data, err := os.ReadFile(path)
	if err != nil {
		return NewCache()
	}
	var entries map[string]cacheEntry
	if err := codec.Unmarshal(data, &entries); err != nil {
		return NewCache()
	}
	return &Cache{entries: entries}
}

// HashFile returns the content of the file at path, consulting the
// cache first. The path is canonicalized to its absolute form so the
// same file hashed from different working directories shares one
// entry.
func (c *Cache) HashFile(path string) (FileContent, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return FileContent{}, fmt.Errorf("resolving %s: %w", path, err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		return FileContent{}, fmt.Errorf("stat %s: %w", abs, err)
	}

	c.mu.Lock()
	entry, ok := c.entries[abs]
	c.mu.Unlock()
	if ok && entry.Size == info.Size() && entry.MTimeNano == info.ModTime().UnixNano() {
		digest, err := ParseDigest(entry.SHA256)
		if err == nil {
			return FileContent{Digest: digest, MediaType: entry.MediaType, Size: entry.Size}, nil
		}
		// Corrupt entry: fall through and re-hash.
	}

	content, err := HashFile(abs)
	if err != nil {
		return FileContent{}, err
	}

	c.mu.Lock()
	c.entries[abs] = cacheEntry{
		Size:      content.Size,
		MTimeNano: info.ModTime().UnixNano(),
		SHA256:    content.Digest.String(),
		MediaType: content.MediaType,
	}
	c.dirty = true
	c.mu.Unlock()
	return content, nil
}

// Save writes the cache document to path atomically. A no-op when
// nothing changed since load.
func (c *Cache) Save(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.dirty {
		return nil
	}

	data, err := codec.Marshal(c.entries)
	if err != nil {
		return fmt.Errorf("encoding hash cache: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating hash cache directory: %w", err)
	}
	tmpFile, err := os.CreateTemp(dir, "hashcache-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp hash cache file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("writing hash cache: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("closing temp hash cache file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming hash cache into place: %w", err)
	}

	success = true
	c.dirty = false
	return nil
}
