// Copyright 2026 The Carton Authors
// SPDX-License-Identifier: Apache-2.0

// Package spec defines the declarative package specification consumed
// by the assembler: a top-level package identity plus an ordered list
// of components, each backed by glob patterns over a source tree
// and/or a reference to an already-published external package.
//
// The on-disk form is a TOML file, conventionally named
// "carton.toml". Parsing is strict: unknown keys, duplicate component
// names, and components that select nothing are author errors,
// reported as [*SpecError] so the CLI can point at the offending
// entry.
package spec

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/carton-foundation/carton/lib/parcel"
)

// DefaultFileName is the specification filename looked up when the
// user passes a directory instead of a file.
const DefaultFileName = "carton.toml"

// PackageSpec is the parsed specification: read-only input for one
// assembly run.
type PackageSpec struct {
	// Package declares the identity and annotations of the package
	// being assembled.
	Package PackageBlock `toml:"package"`

	// Components are the logical pieces of the package, in authored
	// order. Order does not affect the assembled output (the
	// assembler sorts), but error messages follow it.
	Components []ComponentEntry `toml:"component"`
}

// PackageBlock is the top-level identity block of a specification.
type PackageBlock struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`

	// Annotations are copied verbatim into the assembled manifest.
	Annotations map[string]string `toml:"annotations,omitempty"`
}

// ComponentEntry describes one logical component: the files that back
// it, optional opaque feature metadata, and an optional external
// package imported under this component's scope.
type ComponentEntry struct {
	// Name is the component name, unique within the spec. It becomes
	// the name of the component's group in the assembled manifest.
	Name string `toml:"name"`

	// Version is optional per-component version metadata. It is not
	// interpreted; it rides along in the component's feature block if
	// the author set one.
	Version string `toml:"version,omitempty"`

	// Files are include glob patterns resolved against the base
	// directory. Recursive ** wildcards are supported.
	Files []string `toml:"files,omitempty"`

	// Exclude are glob patterns removing matches produced by Files.
	Exclude []string `toml:"exclude,omitempty"`

	// Features is opaque metadata copied verbatim onto every parcel
	// this component contributes. The outer key is a feature domain
	// (e.g. "wagi"), the inner map its settings.
	Features map[string]map[string]string `toml:"features,omitempty"`

	// External is the identity ("name/version") of a previously
	// published package whose manifest is merged under this
	// component's scope. Import is always by exact identity.
	External string `toml:"external,omitempty"`
}

// ExternalIdentity returns the parsed external reference, or a zero
// identity if the entry has none. Validate has already checked that a
// non-empty value parses.
func (e *ComponentEntry) ExternalIdentity() parcel.Identity {
	if e.External == "" {
		return parcel.Identity{}
	}
	id, err := parcel.ParseIdentity(e.External)
	if err != nil {
		return parcel.Identity{}
	}
	return id
}

// SpecError reports an author mistake in the specification: a
// malformed entry, or an include pattern that selects no files. It
// carries the entry name and the offending pattern (when one exists)
// so the CLI can render a precise message.
type SpecError struct {
	// Entry is the component name, or empty for spec-level problems.
	Entry string

	// Pattern is the offending glob pattern, when the problem is
	// pattern-related.
	Pattern string

	// Reason describes the mistake.
	Reason string
}

func (e *SpecError) Error() string {
	switch {
	case e.Entry != "" && e.Pattern != "":
		return fmt.Sprintf("component %q: pattern %q: %s", e.Entry, e.Pattern, e.Reason)
	case e.Entry != "":
		return fmt.Sprintf("component %q: %s", e.Entry, e.Reason)
	default:
		return fmt.Sprintf("package spec: %s", e.Reason)
	}
}

// Load reads and validates a specification. The path may name the
// spec file directly or a directory containing [DefaultFileName].
// Returns the spec and the directory it was loaded from, which is the
// base directory for pattern resolution.
func Load(path string) (*PackageSpec, string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, "", fmt.Errorf("reading package spec: %w", err)
	}
	if info.IsDir() {
		path = filepath.Join(path, DefaultFileName)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("reading package spec: %w", err)
	}
	s, err := Parse(data)
	if err != nil {
		return nil, "", err
	}

	baseDir, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, "", fmt.Errorf("resolving spec directory: %w", err)
	}
	return s, baseDir, nil
}

// Parse parses and validates specification bytes.
func Parse(data []byte) (*PackageSpec, error) {
	var s PackageSpec
	meta, err := toml.Decode(string(data), &s)
	if err != nil {
		return nil, &SpecError{Reason: fmt.Sprintf("parse error: %v", err)}
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, &SpecError{Reason: fmt.Sprintf("unknown key %q", undecoded[0].String())}
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks the structural rules of a specification.
func (s *PackageSpec) Validate() error {
	if s.Package.Name == "" {
		return &SpecError{Reason: "package name is required"}
	}
	if s.Package.Version == "" {
		return &SpecError{Reason: "package version is required"}
	}
	if len(s.Components) == 0 {
		return &SpecError{Reason: "at least one component is required"}
	}
	seen := make(map[string]bool, len(s.Components))
	for i := range s.Components {
		e := &s.Components[i]
		if e.Name == "" {
			return &SpecError{Reason: fmt.Sprintf("component %d has no name", i+1)}
		}
		if seen[e.Name] {
			return &SpecError{Entry: e.Name, Reason: "duplicate component name"}
		}
		seen[e.Name] = true
		if len(e.Files) == 0 && e.External == "" {
			return &SpecError{Entry: e.Name, Reason: "component selects no files and imports no external package"}
		}
		if e.External != "" {
			if _, err := parcel.ParseIdentity(e.External); err != nil {
				return &SpecError{Entry: e.Name, Reason: fmt.Sprintf("invalid external reference %q: want name/version", e.External)}
			}
		}
	}
	return nil
}

// ExternalReferences returns the distinct external identities the
// spec imports, in first-reference order. The prefetch step fetches
// exactly this set before assembly begins.
func (s *PackageSpec) ExternalReferences() []parcel.Identity {
	var refs []parcel.Identity
	seen := make(map[string]bool)
	for i := range s.Components {
		id := s.Components[i].ExternalIdentity()
		if id.IsZero() || seen[id.String()] {
			continue
		}
		seen[id.String()] = true
		refs = append(refs, id)
	}
	return refs
}
