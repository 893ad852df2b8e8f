// Copyright 2026 The Carton Authors
// SPDX-License-Identifier: Apache-2.0

package parcel

import (
	"fmt"
	"strings"
)

// Identity names one published package: a name and an exact version.
// The canonical string form is "name/version". Names may themselves
// contain slashes (org-scoped packages like "deislabs/shared"), so
// parsing splits on the last slash.
type Identity struct {
	Name    string
	Version string
}

// ParseIdentity parses the canonical "name/version" form. The version
// is everything after the last slash and must be non-empty, as must
// the name.
func ParseIdentity(s string) (Identity, error) {
	i := strings.LastIndex(s, "/")
	if i <= 0 || i == len(s)-1 {
		return Identity{}, fmt.Errorf("invalid package identity %q: want name/version", s)
	}
	return Identity{Name: s[:i], Version: s[i+1:]}, nil
}

// String returns the canonical "name/version" form.
func (id Identity) String() string {
	return id.Name + "/" + id.Version
}

// IsZero reports whether the identity is empty.
func (id Identity) IsZero() bool {
	return id.Name == "" && id.Version == ""
}
