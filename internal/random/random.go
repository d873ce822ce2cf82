/*
Copyright (C) 2026 Lorekeep Authors

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package random wraps a seedable random source behind named selection
// strategies so generation paths stay deterministic under test.
package random

import (
	"errors"
	"math/rand"
	"sync"
	"time"
)

// ErrNoOptions is returned when a selection is requested from an empty set.
var ErrNoOptions = errors.New("random: at least one option must be provided")

// Chooser provides uniform and weighted selection over a single random
// source. Safe for concurrent use.
type Chooser struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// New creates a time-seeded chooser.
func New() *Chooser {
	return NewSeeded(time.Now().UnixNano())
}

// NewSeeded creates a chooser with a fixed seed.
func NewSeeded(seed int64) *Chooser {
	return &Chooser{rng: rand.New(rand.NewSource(seed))}
}

// Intn returns a uniform integer in [0, n). n must be positive.
func (c *Chooser) Intn(n int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rng.Intn(n)
}

// IntBetween returns a uniform integer in [min, max).
func (c *Chooser) IntBetween(min, max int) (int, error) {
	if min >= max {
		return 0, errors.New("random: min must be less than max")
	}
	return min + c.Intn(max-min), nil
}

// Pick returns one option chosen uniformly.
func Pick[T any](c *Chooser, options []T) (T, error) {
	var zero T
	if len(options) == 0 {
		return zero, ErrNoOptions
	}
	return options[c.Intn(len(options))], nil
}

// PickWeighted returns one option where each option's likelihood is
// proportional to its weight. Zero-weight options are never chosen.
func PickWeighted[T any](c *Chooser, options []T, weights []int) (T, error) {
	var zero T
	if len(options) == 0 || len(options) != len(weights) {
		return zero, ErrNoOptions
	}

	total := 0
	for _, w := range weights {
		if w > 0 {
			total += w
		}
	}
	if total == 0 {
		return zero, ErrNoOptions
	}

	target := c.Intn(total)
	for i, w := range weights {
		if w <= 0 {
			continue
		}
		if target < w {
			return options[i], nil
		}
		target -= w
	}
	return zero, ErrNoOptions
}

// Shuffle reorders s in place.
func Shuffle[T any](c *Chooser, s []T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rng.Shuffle(len(s), func(i, j int) {
		s[i], s[j] = s[j], s[i]
	})
}

// Sample returns up to n distinct elements of s in random order. The
// input slice is not modified.
func Sample[T any](c *Chooser, s []T, n int) []T {
	out := make([]T, len(s))
	copy(out, s)
	Shuffle(c, out)
	if n < len(out) {
		out = out[:n]
	}
	return out
}
