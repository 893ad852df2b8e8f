// Copyright 2026 The Carton Authors
// SPDX-License-Identifier: Apache-2.0

package assemble

import (
	"fmt"

	"github.com/carton-foundation/carton/lib/parcel"
)

// ResolutionError reports a component's external reference whose
// manifest was not present in the pre-fetched map. This means the
// prefetch step did not retrieve the package — usually because no
// registry was configured, or the identity does not exist there.
type ResolutionError struct {
	// Entry is the component that holds the reference.
	Entry string

	// Identity is the referenced package.
	Identity parcel.Identity
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("component %q references external package %s, which was not fetched from the registry", e.Entry, e.Identity)
}

// HashConsistencyError reports the same content hash observed with
// divergent declared metadata (label name or media type). Identical
// bytes must describe themselves identically; a mismatch signals a
// pattern or I/O bug — or concurrent mutation of the source tree —
// masquerading as deduplicable content, and assembly fails rather
// than silently picking one description.
type HashConsistencyError struct {
	SHA256 string

	// First is the canonical label already recorded for the hash.
	First parcel.Label

	// Second is the conflicting label.
	Second parcel.Label
}

func (e *HashConsistencyError) Error() string {
	return fmt.Sprintf("content hash %s declared inconsistently: %q (%s) vs %q (%s)",
		e.SHA256, e.First.Name, e.First.MediaType, e.Second.Name, e.Second.MediaType)
}
