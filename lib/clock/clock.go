// Copyright 2026 The Carton Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts the current time for testability. The dev
// versioning policy derives its per-run disambiguator from the clock;
// injecting a fake makes dev identities deterministic in tests.
package clock

import (
	"sync"
	"time"
)

// Clock provides the current time. Production code injects [Real];
// tests inject a [*Fake] with explicit time control.
type Clock interface {
	// Now returns the current time.
	Now() time.Time
}

// Real returns a Clock backed by the system clock.
func Real() Clock {
	return realClock{}
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Fake is a Clock whose time only moves when Advance is called.
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

// NewFake returns a Fake clock starting at the given time.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

// Now returns the fake's current time.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Advance moves the fake's time forward by d.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}
