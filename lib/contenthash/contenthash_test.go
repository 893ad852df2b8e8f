// Copyright 2026 The Carton Authors
// SPDX-License-Identifier: Apache-2.0

package contenthash

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

// helloSHA256 is the SHA-256 of the ASCII bytes "hello". Parcel
// hashing must be plain SHA-256 over exact file bytes — this anchors
// the algorithm against accidental keying, salting, or encoding.
const helloSHA256 = "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestHashFileKnownVector(t *testing.T) {
	path := writeFile(t, t.TempDir(), "hello.txt", "hello")

	content, err := HashFile(path)
	if err != nil {
		t.Fatalf("HashFile: %v", err)
	}
	if got := content.Digest.String(); got != helloSHA256 {
		t.Errorf("digest = %s, want %s", got, helloSHA256)
	}
	if content.Size != 5 {
		t.Errorf("size = %d, want 5", content.Size)
	}
	if content.MediaType != "text/plain" {
		t.Errorf("media type = %s", content.MediaType)
	}
}

func TestHashFileIdempotent(t *testing.T) {
	path := writeFile(t, t.TempDir(), "data.bin", "some parcel content")

	first, err := HashFile(path)
	if err != nil {
		t.Fatal(err)
	}
	second, err := HashFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if first.Digest != second.Digest {
		t.Error("hashing the same content twice produced different digests")
	}
	if HashBytes([]byte("some parcel content")) != first.Digest {
		t.Error("HashBytes disagrees with HashFile for identical content")
	}
}

func TestHashFileMissing(t *testing.T) {
	if _, err := HashFile(filepath.Join(t.TempDir(), "absent")); err == nil {
		t.Error("hashing a missing file succeeded")
	}
}

func TestHashFileSizeMismatch(t *testing.T) {
	// procfs generates file content on read and reports size 0, so
	// the bytes hashed never match the post-hash stat. This is the
	// same shape as a source file mutated mid-hash, without a race.
	const path = "/proc/self/cmdline"
	if _, err := os.Stat(path); err != nil {
		t.Skipf("procfs unavailable: %v", err)
	}

	_, err := HashFile(path)
	var mismatch *SizeMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("HashFile(%s) = %v, want SizeMismatchError", path, err)
	}
	if mismatch.Path != path {
		t.Errorf("error path = %q", mismatch.Path)
	}
	if mismatch.Hashed == 0 {
		t.Error("no bytes were hashed from cmdline")
	}
	if mismatch.Hashed == mismatch.Stat {
		t.Errorf("mismatch reports equal sizes: %+v", mismatch)
	}
}

func TestDigestRoundTrip(t *testing.T) {
	digest := HashBytes([]byte("round trip"))
	parsed, err := ParseDigest(digest.String())
	if err != nil {
		t.Fatalf("ParseDigest: %v", err)
	}
	if parsed != digest {
		t.Error("digest changed across format/parse")
	}
}

func TestParseDigestRejectsMalformed(t *testing.T) {
	for _, input := range []string{"", "zz", "abcd", helloSHA256 + "00"} {
		if _, err := ParseDigest(input); err == nil {
			t.Errorf("ParseDigest(%q) succeeded, want error", input)
		}
	}
}

func TestMediaTypeForPath(t *testing.T) {
	cases := map[string]string{
		"module.wasm":     "application/wasm",
		"page.HTML":       "text/html",
		"notes.md":        "text/markdown",
		"archive.tar":     "application/x-tar",
		"mystery.xyz":     OctetStream,
		"extensionless":   OctetStream,
		"nested/file.js":  "text/javascript",
		"config.toml":     "application/toml",
		"values.yaml":     "application/yaml",
		"snapshot.tar.gz": "application/gzip",
	}
	for path, want := range cases {
		if got := MediaTypeForPath(path); got != want {
			t.Errorf("MediaTypeForPath(%q) = %q, want %q", path, got, want)
		}
	}
}

func TestCacheHitAndInvalidation(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "data.txt", "hello")
	cache := NewCache()

	first, err := cache.HashFile(path)
	if err != nil {
		t.Fatalf("HashFile: %v", err)
	}
	if first.Digest.String() != helloSHA256 {
		t.Fatalf("digest = %s", first.Digest)
	}

	// Same size and mtime: the cached digest is served.
	again, err := cache.HashFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if again != first {
		t.Error("cache hit returned different content")
	}

	// Content of a different size invalidates the entry.
	if err := os.WriteFile(path, []byte("hello, world"), 0o644); err != nil {
		t.Fatal(err)
	}
	changed, err := cache.HashFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if changed.Digest == first.Digest {
		t.Error("stale cache entry served after file changed")
	}
}

func TestCacheSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "data.txt", "cache me")
	cachePath := filepath.Join(dir, ".hashcache")

	cache := NewCache()
	first, err := cache.HashFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := cache.Save(cachePath); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reloaded := LoadCache(cachePath)
	content, err := reloaded.HashFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if content != first {
		t.Error("reloaded cache disagrees with original")
	}
}

func TestLoadCacheToleratesGarbage(t *testing.T) {
	dir := t.TempDir()
	cachePath := writeFile(t, dir, "broken", "not cbor at all")

	cache := LoadCache(cachePath)
	path := writeFile(t, dir, "data.txt", "hello")
	content, err := cache.HashFile(path)
	if err != nil {
		t.Fatalf("HashFile after corrupt cache: %v", err)
	}
	if content.Digest.String() != helloSHA256 {
		t.Errorf("digest = %s", content.Digest)
	}
}
