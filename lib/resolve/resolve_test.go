// Copyright 2026 The Carton Authors
// SPDX-License-Identifier: Apache-2.0

package resolve

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/carton-foundation/carton/lib/spec"
)

// writeTree creates the given relative files (empty content) under a
// fresh temp dir and returns the dir.
func writeTree(t *testing.T, files ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, rel := range files {
		path := filepath.Join(dir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(rel), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func relPaths(t *testing.T, baseDir string, paths []string) []string {
	t.Helper()
	var rels []string
	for _, p := range paths {
		rel, err := filepath.Rel(baseDir, p)
		if err != nil {
			t.Fatal(err)
		}
		rels = append(rels, filepath.ToSlash(rel))
	}
	return rels
}

func TestPathsRecursiveInclude(t *testing.T) {
	dir := writeTree(t, "app.wasm", "sub/lib.wasm", "sub/deep/core.wasm", "readme.md")
	entry := &spec.ComponentEntry{Name: "app", Files: []string{"**/*.wasm"}}

	paths, err := Paths(entry, dir)
	if err != nil {
		t.Fatalf("Paths: %v", err)
	}
	got := relPaths(t, dir, paths)
	want := []string{"app.wasm", "sub/deep/core.wasm", "sub/lib.wasm"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("path %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestPathsExclude(t *testing.T) {
	dir := writeTree(t, "app.wasm", "scratch/tmp.wasm", "sub/lib.wasm")
	entry := &spec.ComponentEntry{
		Name:    "app",
		Files:   []string{"**/*.wasm"},
		Exclude: []string{"scratch/**"},
	}

	paths, err := Paths(entry, dir)
	if err != nil {
		t.Fatalf("Paths: %v", err)
	}
	for _, rel := range relPaths(t, dir, paths) {
		if rel == "scratch/tmp.wasm" {
			t.Error("excluded file survived")
		}
	}
	if len(paths) != 2 {
		t.Errorf("got %d paths, want 2", len(paths))
	}
}

func TestPathsOverlappingPatternsDeduplicate(t *testing.T) {
	dir := writeTree(t, "app.wasm")
	entry := &spec.ComponentEntry{Name: "app", Files: []string{"*.wasm", "app.*"}}

	paths, err := Paths(entry, dir)
	if err != nil {
		t.Fatalf("Paths: %v", err)
	}
	if len(paths) != 1 {
		t.Errorf("duplicate matches not collapsed: %v", paths)
	}
}

func TestPathsEmptyMatchIsSpecError(t *testing.T) {
	dir := writeTree(t, "readme.md")
	entry := &spec.ComponentEntry{Name: "app", Files: []string{"**/*.wasm"}}

	_, err := Paths(entry, dir)
	var specErr *spec.SpecError
	if !errors.As(err, &specErr) {
		t.Fatalf("want SpecError, got %v", err)
	}
	if specErr.Entry != "app" || specErr.Pattern != "**/*.wasm" {
		t.Errorf("error context: %+v", specErr)
	}
}

func TestPathsFullyExcludedPatternIsSpecError(t *testing.T) {
	// A pattern that matches files is still an author error when the
	// excludes remove every one of them.
	dir := writeTree(t, "scratch/tmp.wasm")
	entry := &spec.ComponentEntry{
		Name:    "app",
		Files:   []string{"**/*.wasm"},
		Exclude: []string{"**"},
	}

	_, err := Paths(entry, dir)
	var specErr *spec.SpecError
	if !errors.As(err, &specErr) {
		t.Fatalf("want SpecError, got %v", err)
	}
}

func TestPathsExternalOnlyEntry(t *testing.T) {
	entry := &spec.ComponentEntry{Name: "lib", External: "shared/1.0.0"}
	paths, err := Paths(entry, t.TempDir())
	if err != nil {
		t.Fatalf("Paths: %v", err)
	}
	if len(paths) != 0 {
		t.Errorf("external-only entry resolved files: %v", paths)
	}
}

func TestPathsBaseDirWithMetacharacters(t *testing.T) {
	// Glob metacharacters in the base directory's own name must stay
	// literal; only the component's patterns are interpreted.
	parent := t.TempDir()
	dir := filepath.Join(parent, "apps [prod] {eu}")
	if err := os.MkdirAll(filepath.Join(dir, "src"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "src", "app.wasm"), []byte("module"), 0o644); err != nil {
		t.Fatal(err)
	}
	entry := &spec.ComponentEntry{Name: "app", Files: []string{"src/*.wasm"}}

	paths, err := Paths(entry, dir)
	if err != nil {
		t.Fatalf("Paths: %v", err)
	}
	want := filepath.Join(dir, "src", "app.wasm")
	if len(paths) != 1 || paths[0] != want {
		t.Errorf("got %v, want [%s]", paths, want)
	}
}

func TestPathsInvalidPattern(t *testing.T) {
	dir := writeTree(t, "app.wasm")
	entry := &spec.ComponentEntry{Name: "app", Files: []string{"[unclosed"}}

	_, err := Paths(entry, dir)
	var specErr *spec.SpecError
	if !errors.As(err, &specErr) {
		t.Fatalf("want SpecError for invalid glob, got %v", err)
	}
}
