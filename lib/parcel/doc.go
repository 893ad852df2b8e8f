// Copyright 2026 The Carton Authors
// SPDX-License-Identifier: Apache-2.0

// Package parcel defines the resolved package manifest model: the
// identity, groups, and content-addressed parcels that describe a
// distributable package, plus the TOML document format used for the
// manifest on disk and on the wire.
//
// A manifest is immutable once assembled. The assembler (lib/assemble)
// produces one per run; the staging writer (lib/staging) serializes it;
// the registry client (lib/registry) uploads and downloads it. All
// three share this package's types and never mutate a finished
// manifest.
//
// Ordering is part of the model: [Manifest.Normalize] sorts groups by
// name and parcels by content hash, so that two manifests assembled
// from the same inputs serialize to identical bytes regardless of the
// concurrency that produced them.
package parcel
