// Copyright 2026 The Carton Authors
// SPDX-License-Identifier: Apache-2.0

package assemble

import (
	"fmt"
	"regexp"

	"github.com/carton-foundation/carton/lib/clock"
	"github.com/carton-foundation/carton/lib/parcel"
	"github.com/carton-foundation/carton/lib/spec"
)

// VersioningPolicy selects how the assembled package's identity is
// derived from the declared name and version. The policy affects only
// the identity string, never group or parcel content.
type VersioningPolicy int

const (
	// PolicyDev appends a time-derived disambiguator to the declared
	// version, so repeated local iteration never collides with a
	// previous dev build. Dev identities are unique per run, not
	// reproducible.
	PolicyDev VersioningPolicy = iota

	// PolicyProduction uses the declared name and version verbatim.
	// Identities are a pure function of the spec, so downstream
	// consumers can predict and pin them. The declared version must
	// be a valid semantic version.
	PolicyProduction
)

// ParseVersioningPolicy parses the CLI form of a policy.
func ParseVersioningPolicy(s string) (VersioningPolicy, error) {
	switch s {
	case "dev":
		return PolicyDev, nil
	case "production":
		return PolicyProduction, nil
	default:
		return 0, fmt.Errorf("unknown versioning policy %q: want dev or production", s)
	}
}

// String returns the CLI form of the policy.
func (p VersioningPolicy) String() string {
	switch p {
	case PolicyDev:
		return "dev"
	case PolicyProduction:
		return "production"
	default:
		return fmt.Sprintf("unknown(%d)", int(p))
	}
}

// semverPattern matches the semantic version grammar accepted for
// production identities: major.minor.patch with optional pre-release
// and build metadata.
var semverPattern = regexp.MustCompile(`^[0-9]+\.[0-9]+\.[0-9]+(-[0-9A-Za-z.-]+)?(\+[0-9A-Za-z.-]+)?$`)

// devStampLayout formats the dev disambiguator: UTC wall-clock time
// to nanosecond precision, so two dev builds in the same second still
// get distinct identities.
const devStampLayout = "20060102150405.000000000"

// VersioningError reports a declared version the production policy
// rejects.
type VersioningError struct {
	Version string
	Reason  string
}

func (e *VersioningError) Error() string {
	return fmt.Sprintf("version %q: %s", e.Version, e.Reason)
}

// Resolve computes the package identity for the declared package
// block under this policy. The clock is consulted only by the dev
// policy.
func (p VersioningPolicy) Resolve(pkg spec.PackageBlock, clk clock.Clock) (parcel.Identity, error) {
	switch p {
	case PolicyProduction:
		if !semverPattern.MatchString(pkg.Version) {
			return parcel.Identity{}, &VersioningError{Version: pkg.Version, Reason: "not a valid semantic version"}
		}
		return parcel.Identity{Name: pkg.Name, Version: pkg.Version}, nil
	case PolicyDev:
		stamp := clk.Now().UTC().Format(devStampLayout)
		return parcel.Identity{Name: pkg.Name, Version: pkg.Version + "-dev." + stamp}, nil
	default:
		return parcel.Identity{}, fmt.Errorf("unknown versioning policy %d", int(p))
	}
}
