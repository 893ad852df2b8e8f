// Copyright 2026 The Carton Authors
// SPDX-License-Identifier: Apache-2.0

package parcel

import (
	"bytes"
	"fmt"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"
)

// ManifestVersion is the document format version written into every
// serialized manifest. Readers reject documents with a different
// version rather than guessing at field semantics.
const ManifestVersion = "1.0.0"

// Manifest is the finished, resolved description of a package: its
// identity, its named groups, and its content-addressed parcels.
// Produced once per assembly run and immutable afterward.
type Manifest struct {
	// ManifestVersion is the document format version. Always
	// [ManifestVersion] for manifests produced by this tool.
	ManifestVersion string `toml:"manifestVersion"`

	// Package is the package identity and its free-form annotations.
	Package PackageInfo `toml:"package"`

	// Groups are the named parcel bundles, sorted by name.
	Groups []Group `toml:"group,omitempty"`

	// Parcels are the content descriptors, deduplicated by content
	// hash and sorted by hash.
	Parcels []Parcel `toml:"parcel,omitempty"`
}

// PackageInfo is the identity block of a manifest.
type PackageInfo struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`

	// Annotations carry free-form metadata (tool name, build time for
	// dev builds). Never interpreted by the assembler or writer.
	Annotations map[string]string `toml:"annotations,omitempty"`
}

// Group is a named bundle of parcels. A required group is always
// active; an optional group is active only when some active parcel's
// requires condition selects it.
type Group struct {
	Name     string `toml:"name"`
	Required bool   `toml:"required,omitempty"`
}

// Parcel is an immutable content-addressed blob descriptor plus the
// conditions tying it into the group structure.
type Parcel struct {
	Label      Label       `toml:"label"`
	Conditions *Conditions `toml:"conditions,omitempty"`
}

// Label carries the content identity and descriptive metadata of a
// parcel. SHA256 is the hex digest of exactly the stored bytes;
// everything else describes those bytes.
type Label struct {
	SHA256    string `toml:"sha256"`
	Name      string `toml:"name"`
	MediaType string `toml:"mediaType"`
	Size      int64  `toml:"size"`

	// Feature is opaque per-component metadata passed through from
	// the package specification. The assembler copies it verbatim;
	// nothing in this tool interprets it.
	Feature map[string]map[string]string `toml:"feature,omitempty"`
}

// Conditions scope a parcel's membership and activation.
type Conditions struct {
	// MemberOf names the groups this parcel belongs to. Sorted.
	MemberOf []string `toml:"memberOf,omitempty"`

	// Requires names groups that must be selected before this parcel
	// is included. An imported package's parcels require the group of
	// the component that imported them. Sorted.
	Requires []string `toml:"requires,omitempty"`
}

// Identity returns the manifest's package identity.
func (m *Manifest) Identity() Identity {
	return Identity{Name: m.Package.Name, Version: m.Package.Version}
}

// Group returns the named group, or false if the manifest has none.
func (m *Manifest) Group(name string) (Group, bool) {
	for _, g := range m.Groups {
		if g.Name == name {
			return g, true
		}
	}
	return Group{}, false
}

// Normalize sorts groups by name and parcels by content hash (ties
// broken by label name, which only matters transiently before a
// duplicate-hash check rejects the manifest). Assembly concurrency
// must never leak into serialized output, so every manifest is
// normalized before it leaves the assembler.
func (m *Manifest) Normalize() {
	slices.SortFunc(m.Groups, func(a, b Group) int {
		return strings.Compare(a.Name, b.Name)
	})
	slices.SortFunc(m.Parcels, func(a, b Parcel) int {
		if c := strings.Compare(a.Label.SHA256, b.Label.SHA256); c != 0 {
			return c
		}
		return strings.Compare(a.Label.Name, b.Label.Name)
	})
	for i := range m.Parcels {
		if c := m.Parcels[i].Conditions; c != nil {
			slices.Sort(c.MemberOf)
			slices.Sort(c.Requires)
		}
	}
}

// Validate checks the structural invariants of a finished manifest:
// a non-empty identity, unique group names, unique parcel hashes, and
// every parcel a member of at least one existing group.
func (m *Manifest) Validate() error {
	if m.Package.Name == "" || m.Package.Version == "" {
		return fmt.Errorf("manifest is missing its package identity")
	}
	groups := make(map[string]bool, len(m.Groups))
	for _, g := range m.Groups {
		if g.Name == "" {
			return fmt.Errorf("manifest %s has a group with an empty name", m.Identity())
		}
		if groups[g.Name] {
			return fmt.Errorf("manifest %s declares group %q twice", m.Identity(), g.Name)
		}
		groups[g.Name] = true
	}
	hashes := make(map[string]bool, len(m.Parcels))
	for _, p := range m.Parcels {
		if p.Label.SHA256 == "" {
			return fmt.Errorf("manifest %s has parcel %q with no content hash", m.Identity(), p.Label.Name)
		}
		if hashes[p.Label.SHA256] {
			return fmt.Errorf("manifest %s lists content hash %s twice", m.Identity(), p.Label.SHA256)
		}
		hashes[p.Label.SHA256] = true
		if p.Conditions == nil || len(p.Conditions.MemberOf) == 0 {
			return fmt.Errorf("manifest %s parcel %q belongs to no group", m.Identity(), p.Label.Name)
		}
		for _, g := range p.Conditions.MemberOf {
			if !groups[g] {
				return fmt.Errorf("manifest %s parcel %q is a member of undeclared group %q", m.Identity(), p.Label.Name, g)
			}
		}
	}
	return nil
}

// Marshal serializes the manifest to its TOML document form. The
// manifest should be normalized first; Marshal does not sort.
func (m *Manifest) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(m); err != nil {
		return nil, fmt.Errorf("encoding manifest %s: %w", m.Identity(), err)
	}
	return buf.Bytes(), nil
}

// Unmarshal parses a TOML manifest document and validates it.
func Unmarshal(data []byte) (*Manifest, error) {
	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing manifest document: %w", err)
	}
	if m.ManifestVersion != ManifestVersion {
		return nil, fmt.Errorf("unsupported manifest version %q (want %q)", m.ManifestVersion, ManifestVersion)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}
