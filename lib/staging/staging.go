// Copyright 2026 The Carton Authors
// SPDX-License-Identifier: Apache-2.0

// Package staging materializes an assembled manifest onto the
// content-addressed on-disk layout that the push step uploads: one
// "<sha256>.dat" file per parcel under parcels/, plus the serialized
// manifest document at a fixed path in the destination root.
//
// The manifest document is written last and renamed into place
// atomically. A directory that holds parcels but no manifest is an
// aborted run, never a complete package — readers must treat a
// missing manifest as incomplete.
package staging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/carton-foundation/carton/lib/parcel"
)

const (
	// ManifestFileName is the fixed, well-known path of the manifest
	// document within a staging directory.
	ManifestFileName = "invoice.toml"

	// ParcelDirName is the subdirectory holding parcel files.
	ParcelDirName = "parcels"

	// CacheFileName is the hash-cache sidecar maintained in reusable
	// staging directories. Not part of the package layout: the push
	// step ignores it.
	CacheFileName = ".carton-hashcache"
)

// DefaultDir creates a fresh, uniquely named staging directory under
// the system temp directory. Each run gets its own default so
// concurrent or repeated runs never collide.
func DefaultDir() (string, error) {
	dir, err := os.MkdirTemp("", "carton-stage-")
	if err != nil {
		return "", fmt.Errorf("creating staging directory: %w", err)
	}
	return dir, nil
}

// ParcelPath returns the content-addressed path of a parcel within a
// staging directory.
func ParcelPath(dir, sha256 string) string {
	return filepath.Join(dir, ParcelDirName, sha256+".dat")
}

// ManifestPath returns the manifest document path within a staging
// directory.
func ManifestPath(dir string) string {
	return filepath.Join(dir, ManifestFileName)
}

// CachePath returns the hash-cache sidecar path within a staging
// directory.
func CachePath(dir string) string {
	return filepath.Join(dir, CacheFileName)
}

// ReadManifest loads and validates the manifest document from a
// staging directory. A missing document means the directory is not a
// complete package.
func ReadManifest(dir string) (*parcel.Manifest, error) {
	data, err := os.ReadFile(ManifestPath(dir))
	if err != nil {
		return nil, fmt.Errorf("reading staged manifest: %w", err)
	}
	return parcel.Unmarshal(data)
}

// Write materializes the manifest and its parcels into destDir.
// Sources maps each parcel's content hash to the file holding its
// bytes (a source-tree file for local parcels, a fetched parcel file
// for imported ones).
//
// The destination is treated as reusable staging: parcels already
// present at their content-addressed path are skipped (identical
// bytes by construction), and unrelated files are left alone. The
// manifest document is written only after every parcel copy
// succeeded; any copy failure aborts beforehand, leaving the
// directory manifest-less.
func Write(ctx context.Context, manifest *parcel.Manifest, sources map[string]string, destDir string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if err := os.MkdirAll(filepath.Join(destDir, ParcelDirName), 0o755); err != nil {
		return fmt.Errorf("creating staging layout: %w", err)
	}

	var copied, skipped int
	for _, p := range manifest.Parcels {
		if err := ctx.Err(); err != nil {
			return err
		}
		sha := p.Label.SHA256
		destPath := ParcelPath(destDir, sha)
		if _, err := os.Stat(destPath); err == nil {
			// Content addressing: a file at this path already holds
			// these exact bytes. Leave it untouched.
			skipped++
			continue
		}
		source, ok := sources[sha]
		if !ok {
			return fmt.Errorf("no source recorded for parcel %s (%s)", sha, p.Label.Name)
		}
		if err := copyParcel(source, destPath, destDir); err != nil {
			return err
		}
		copied++
	}
	logger.Debug("staged parcels", "copied", copied, "skipped", skipped, "dir", destDir)

	data, err := manifest.Marshal()
	if err != nil {
		return err
	}
	if err := writeFileAtomic(ManifestPath(destDir), destDir, data); err != nil {
		return fmt.Errorf("writing manifest document: %w", err)
	}
	logger.Info("staging complete", "identity", manifest.Identity().String(), "dir", destDir)
	return nil
}

// copyParcel copies parcel bytes to their content-addressed path via
// a temp file and rename, so a crash mid-copy never leaves a
// truncated file at a path later runs would trust.
func copyParcel(source, destPath, destDir string) error {
	in, err := os.Open(source)
	if err != nil {
		return fmt.Errorf("opening parcel source %s: %w", source, err)
	}
	defer in.Close()

	tmpFile, err := os.CreateTemp(destDir, "parcel-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp parcel file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := io.Copy(tmpFile, in); err != nil {
		tmpFile.Close()
		return fmt.Errorf("copying parcel from %s: %w", source, err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("closing temp parcel file: %w", err)
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("renaming parcel into place: %w", err)
	}

	success = true
	return nil
}

// writeFileAtomic writes data to path via temp file + rename within
// tmpDir (same filesystem as path, so the rename is atomic).
func writeFileAtomic(path, tmpDir string, data []byte) error {
	tmpFile, err := os.CreateTemp(tmpDir, "manifest-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
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
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming into place: %w", err)
	}

	success = true
	return nil
}
