// Copyright 2026 The Carton Authors
// SPDX-License-Identifier: Apache-2.0

// Package assemble is the expansion engine: it resolves each
// component's patterns, hashes the resulting files on a bounded
// worker pool, merges in pre-fetched external package manifests under
// the importing component's scope, and produces one normalized,
// deduplicated package manifest.
//
// Assembly is all-or-nothing. Any resolution, hashing, or consistency
// failure aborts the run with a typed error; a partial manifest is
// never returned.
package assemble

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/carton-foundation/carton/lib/clock"
	"github.com/carton-foundation/carton/lib/contenthash"
	"github.com/carton-foundation/carton/lib/parcel"
	"github.com/carton-foundation/carton/lib/resolve"
	"github.com/carton-foundation/carton/lib/spec"
)

// ExternalPackage is a previously published package available for
// import: its fetched manifest plus the local directory holding its
// parcels, content-addressed the same way as a staging layout.
// External manifests are leaves — the assembler copies their groups
// and parcels but never re-expands them, which makes cyclic imports
// structurally impossible.
type ExternalPackage struct {
	Manifest *parcel.Manifest

	// ParcelDir holds the package's parcel files named
	// "<sha256>.dat". The staging writer copies imported parcel
	// bytes from here.
	ParcelDir string
}

// Context bundles the run-scoped inputs of an expansion: the base
// directory for pattern resolution, the versioning policy, and the
// pre-fetched external packages keyed by identity string.
type Context struct {
	BaseDir string
	Policy  VersioningPolicy

	// External maps "name/version" to the pre-fetched package. Every
	// external reference in the spec must have an entry here.
	External map[string]*ExternalPackage

	// Cache, when non-nil, memoizes file digests across runs.
	Cache *contenthash.Cache

	// Workers bounds the hashing pool. Zero means GOMAXPROCS.
	Workers int

	// Clock supplies time for dev versioning. Nil means the system
	// clock.
	Clock clock.Clock

	// Logger receives progress logging. Nil discards.
	Logger *slog.Logger
}

// Result is a successful expansion: the finished manifest plus the
// source location of every parcel's bytes, keyed by content hash.
// The sources map is what lets the staging writer copy local parcels
// from the base directory and imported parcels from their fetched
// parcel directories.
type Result struct {
	Manifest *parcel.Manifest
	Sources  map[string]string
}

// Expand runs the full expansion for one spec. See the package
// comment for the pipeline; the ctx parameter cancels in-flight
// hashing.
func Expand(ctx context.Context, s *spec.PackageSpec, ec *Context) (*Result, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	clk := ec.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := ec.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	identity, err := ec.Policy.Resolve(s.Package, clk)
	if err != nil {
		return nil, err
	}

	// Resolve every component's patterns before hashing anything, so
	// author errors surface without paying for I/O.
	resolved := make([][]string, len(s.Components))
	for i := range s.Components {
		entry := &s.Components[i]
		paths, err := resolve.Paths(entry, ec.BaseDir)
		if err != nil {
			return nil, err
		}
		resolved[i] = paths
		logger.Debug("resolved component patterns", "component", entry.Name, "files", len(paths))
	}

	contents, err := hashAll(ctx, distinctPaths(resolved), ec)
	if err != nil {
		return nil, err
	}

	b := newBuilder()
	for i := range s.Components {
		entry := &s.Components[i]
		if err := b.addGroup(entry.Name, true, ""); err != nil {
			return nil, err
		}
		for _, path := range resolved[i] {
			b.addLocal(entry, path, contents[path])
		}
	}
	if err := b.checkConsistency(); err != nil {
		return nil, err
	}

	// External packages merge after local content so that locally
	// produced labels are canonical on hash collisions.
	for i := range s.Components {
		entry := &s.Components[i]
		if entry.External == "" {
			continue
		}
		id := entry.ExternalIdentity()
		ext, ok := ec.External[id.String()]
		if !ok {
			return nil, &ResolutionError{Entry: entry.Name, Identity: id}
		}
		if err := b.merge(entry, id, ext); err != nil {
			return nil, err
		}
		logger.Debug("merged external package", "component", entry.Name, "identity", id.String())
	}
	if err := b.checkConsistency(); err != nil {
		return nil, err
	}

	manifest := b.manifest(identity, s.Package.Annotations)
	if ec.Policy == PolicyDev {
		if manifest.Package.Annotations == nil {
			manifest.Package.Annotations = make(map[string]string)
		}
		manifest.Package.Annotations["build_time"] = clk.Now().UTC().Format(time.RFC3339)
	}
	manifest.Normalize()
	if err := manifest.Validate(); err != nil {
		return nil, fmt.Errorf("assembled manifest failed validation: %w", err)
	}

	logger.Info("expansion complete",
		"identity", identity.String(),
		"groups", len(manifest.Groups),
		"parcels", len(manifest.Parcels))
	return &Result{Manifest: manifest, Sources: b.sources()}, nil
}

// distinctPaths flattens per-component path lists into one
// deduplicated list. The same file selected by two components is
// hashed once.
func distinctPaths(resolved [][]string) []string {
	seen := make(map[string]bool)
	var paths []string
	for _, group := range resolved {
		for _, path := range group {
			if !seen[path] {
				seen[path] = true
				paths = append(paths, path)
			}
		}
	}
	return paths
}

// hashAll hashes every path on a bounded worker pool. The first
// failure cancels the remaining work; queued tasks exit without
// touching the filesystem, and the error of the first failed file is
// returned. Results never depend on completion order — the caller
// looks contents up by path.
func hashAll(ctx context.Context, paths []string, ec *Context) (map[string]contenthash.FileContent, error) {
	workers := ec.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	hashFile := contenthash.HashFile
	if ec.Cache != nil {
		hashFile = ec.Cache.HashFile
	}

	poolCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	contents := make(map[string]contenthash.FileContent, len(paths))
	sem := make(chan struct{}, workers)

	for _, path := range paths {
		wg.Add(1)
		go func(path string) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-poolCtx.Done():
				return
			}

			content, err := hashFile(path)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = err
					cancel()
				}
				return
			}
			contents[path] = content
		}(path)
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return contents, nil
}

// builder accumulates groups and parcels during expansion, keyed for
// dedup, before the final sort into a manifest.
type builder struct {
	groups      []parcel.Group
	groupSource map[string]string // group name -> external identity, "" for component groups
	parcels     map[string]*parcelState
	conflict    *HashConsistencyError
}

// parcelState is the mutable accumulation of one parcel before the
// manifest is finalized.
type parcelState struct {
	label    parcel.Label
	memberOf map[string]bool
	requires map[string]bool
	source   string
}

func newBuilder() *builder {
	return &builder{
		groupSource: make(map[string]string),
		parcels:     make(map[string]*parcelState),
	}
}

// addGroup records a group. Component groups (source "") must be
// unique; imported groups may repeat only when the same external
// identity is imported by more than one component.
func (b *builder) addGroup(name string, required bool, source string) error {
	if existing, ok := b.groupSource[name]; ok {
		if source != "" && existing == source {
			return nil
		}
		return &spec.SpecError{Reason: fmt.Sprintf("group %q declared by both %s and %s", name, describeGroupSource(existing), describeGroupSource(source))}
	}
	b.groupSource[name] = source
	b.groups = append(b.groups, parcel.Group{Name: name, Required: required})
	return nil
}

func describeGroupSource(source string) string {
	if source == "" {
		return "a component"
	}
	return "external package " + source
}

// addLocal records one resolved local file for a component. Identical
// bytes from any number of components collapse to one parcel with a
// unioned membership set; divergent metadata for the same hash is
// recorded as a consistency conflict and surfaced by
// checkConsistency.
func (b *builder) addLocal(entry *spec.ComponentEntry, path string, content contenthash.FileContent) {
	label := parcel.Label{
		SHA256:    content.Digest.String(),
		Name:      filepath.Base(path),
		MediaType: content.MediaType,
		Size:      content.Size,
		Feature:   entry.Features,
	}
	b.add(label, []string{entry.Name}, nil, path)
}

// merge copies every group and parcel of an external package into the
// working set, re-scoped so the imported content is reachable only
// when the importing component's group is selected.
func (b *builder) merge(entry *spec.ComponentEntry, id parcel.Identity, ext *ExternalPackage) error {
	for _, g := range ext.Manifest.Groups {
		// Imported groups are never unconditionally active in the
		// importing package, whatever the external manifest said.
		if err := b.addGroup(g.Name, false, id.String()); err != nil {
			return err
		}
	}
	for _, p := range ext.Manifest.Parcels {
		var memberOf, requires []string
		if p.Conditions != nil {
			memberOf = p.Conditions.MemberOf
			requires = p.Conditions.Requires
		}
		requires = append(append([]string(nil), requires...), entry.Name)
		source := filepath.Join(ext.ParcelDir, p.Label.SHA256+".dat")
		b.add(p.Label, memberOf, requires, source)
	}
	return nil
}

// add merges one parcel occurrence into the working set. The first
// occurrence of a hash is canonical for label and source; later
// occurrences union their conditions, and divergent label metadata is
// recorded as a conflict.
func (b *builder) add(label parcel.Label, memberOf, requires []string, source string) {
	state, ok := b.parcels[label.SHA256]
	if !ok {
		state = &parcelState{
			label:    label,
			memberOf: make(map[string]bool),
			requires: make(map[string]bool),
			source:   source,
		}
		b.parcels[label.SHA256] = state
	} else if b.conflict == nil {
		if state.label.Name != label.Name || state.label.MediaType != label.MediaType {
			b.conflict = &HashConsistencyError{SHA256: label.SHA256, First: state.label, Second: label}
			return
		}
	}
	for _, g := range memberOf {
		state.memberOf[g] = true
	}
	for _, g := range requires {
		state.requires[g] = true
	}
}

// checkConsistency surfaces the first metadata conflict recorded
// during accumulation.
func (b *builder) checkConsistency() error {
	if b.conflict != nil {
		return b.conflict
	}
	return nil
}

// manifest finalizes the accumulated state into an unnormalized
// manifest carrying the given identity.
func (b *builder) manifest(identity parcel.Identity, annotations map[string]string) *parcel.Manifest {
	m := &parcel.Manifest{
		ManifestVersion: parcel.ManifestVersion,
		Package: parcel.PackageInfo{
			Name:    identity.Name,
			Version: identity.Version,
		},
		Groups: append([]parcel.Group(nil), b.groups...),
	}
	if len(annotations) > 0 {
		m.Package.Annotations = make(map[string]string, len(annotations)+1)
		for k, v := range annotations {
			m.Package.Annotations[k] = v
		}
	}
	if m.Package.Annotations == nil {
		m.Package.Annotations = make(map[string]string, 1)
	}
	m.Package.Annotations["generated_by"] = "carton"

	for _, state := range b.parcels {
		p := parcel.Parcel{Label: state.label, Conditions: &parcel.Conditions{}}
		for g := range state.memberOf {
			p.Conditions.MemberOf = append(p.Conditions.MemberOf, g)
		}
		for g := range state.requires {
			p.Conditions.Requires = append(p.Conditions.Requires, g)
		}
		m.Parcels = append(m.Parcels, p)
	}
	return m
}

// sources returns the content-hash → source-path map for the staging
// writer.
func (b *builder) sources() map[string]string {
	sources := make(map[string]string, len(b.parcels))
	for sha, state := range b.parcels {
		sources[sha] = state.source
	}
	return sources
}
