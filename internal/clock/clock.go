/*
Copyright (C) 2026 Lorekeep Authors

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package clock provides the process-wide source of current time and the
// interval arithmetic used to place question slots on shared boundaries.
// Nothing else in the codebase reads the wall clock directly.
package clock

import (
	"sync"
	"time"
)

// Clock is a replaceable source of current UTC time.
type Clock interface {
	Now() time.Time
}

// System reads the wall clock.
type System struct{}

// Now returns the current time in UTC.
func (System) Now() time.Time {
	return time.Now().UTC()
}

// Fixed is a pinned clock for tests. Time only moves when the test says so.
type Fixed struct {
	mu sync.Mutex
	at time.Time
}

// NewFixed creates a fixed clock pinned at t.
func NewFixed(t time.Time) *Fixed {
	return &Fixed{at: t.UTC()}
}

// Now returns the pinned instant.
func (f *Fixed) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.at
}

// Advance moves the pinned instant forward by d.
func (f *Fixed) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.at = f.at.Add(d)
}

// Set pins the clock to t.
func (f *Fixed) Set(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.at = t.UTC()
}
