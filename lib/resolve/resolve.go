// Copyright 2026 The Carton Authors
// SPDX-License-Identifier: Apache-2.0

// Package resolve turns one component's include/exclude glob patterns
// into a concrete set of source files under a base directory.
// Patterns are doublestar globs: `*` within a path segment, `**` for
// recursive descent.
package resolve

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/carton-foundation/carton/lib/spec"
)

// Paths resolves the entry's include patterns against baseDir,
// removes anything matched by an exclude pattern, and returns the
// surviving absolute paths sorted and deduplicated.
//
// An include pattern that contributes zero files after exclusion is
// an author error: it returns a [*spec.SpecError] naming the entry
// and the pattern, never a silently empty group. An entry with no
// include patterns (external-only component) resolves to nil.
func Paths(entry *spec.ComponentEntry, baseDir string) ([]string, error) {
	baseDir, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("resolving base directory: %w", err)
	}

	// The base directory is globbed as a filesystem root, never joined
	// into the pattern: metacharacters in a directory name ([, {) must
	// stay literal.
	fsys := os.DirFS(baseDir)

	seen := make(map[string]bool)
	var paths []string
	for _, pattern := range entry.Files {
		matches, err := doublestar.Glob(fsys, pattern, doublestar.WithFilesOnly())
		if err != nil {
			return nil, &spec.SpecError{Entry: entry.Name, Pattern: pattern, Reason: fmt.Sprintf("invalid glob: %v", err)}
		}

		contributed := 0
		for _, match := range matches {
			excluded, err := matchesAny(entry.Exclude, match)
			if err != nil {
				return nil, &spec.SpecError{Entry: entry.Name, Pattern: pattern, Reason: err.Error()}
			}
			if excluded {
				continue
			}
			contributed++
			abs := filepath.Join(baseDir, filepath.FromSlash(match))
			if !seen[abs] {
				seen[abs] = true
				paths = append(paths, abs)
			}
		}
		if contributed == 0 {
			return nil, &spec.SpecError{Entry: entry.Name, Pattern: pattern, Reason: "matches no files"}
		}
	}

	slices.Sort(paths)
	return paths, nil
}

// matchesAny reports whether the slash-relative path matches any of
// the exclude patterns.
func matchesAny(patterns []string, path string) (bool, error) {
	for _, pattern := range patterns {
		matched, err := doublestar.Match(pattern, path)
		if err != nil {
			return false, fmt.Errorf("invalid exclude glob %q: %v", pattern, err)
		}
		if matched {
			return true, nil
		}
	}
	return false, nil
}
