/*
Copyright (C) 2026 Lorekeep Authors

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package refresher keeps the question queue topped up ahead of reader
// demand so API requests stay on the cache fast path.
package refresher

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/lorekeep/lorekeep/internal/models"
	"github.com/lorekeep/lorekeep/internal/telemetry"
)

// QueueLoader is the slice of the queue coordinator the refresher
// drives.
type QueueLoader interface {
	GetQueue(ctx context.Context, desired int) ([]models.QueueEntry, error)
}

// Loop periodically rebuilds the upcoming queue. Overlapping ticks are
// skipped rather than queued: a tick that finds the previous one still
// running records a skip and moves on.
type Loop struct {
	queue    QueueLoader
	preload  int
	interval time.Duration
	logger   zerolog.Logger
	running  atomic.Bool
}

// New constructs the refresh loop.
func New(queue QueueLoader, preload int, interval time.Duration, logger zerolog.Logger) *Loop {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Loop{
		queue:    queue,
		preload:  preload,
		interval: interval,
		logger:   logger.With().Str("component", "refresher").Logger(),
	}
}

// Run executes the refresh loop until the context is cancelled. The
// first refresh happens immediately so a fresh instance serves a warm
// cache from its first request.
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	l.logger.Info().Dur("interval", l.interval).Int("preload", l.preload).
		Msg("refresher loop started")

	l.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			l.logger.Info().Msg("refresher loop stopped")
			return ctx.Err()
		case <-ticker.C:
			l.tick(ctx)
		}
	}
}

func (l *Loop) tick(ctx context.Context) {
	if !l.running.CompareAndSwap(false, true) {
		telemetry.RefresherSkippedTotal.Inc()
		l.logger.Debug().Msg("previous refresh still running, skipping tick")
		return
	}
	defer l.running.Store(false)

	telemetry.RefresherTicksTotal.Inc()
	entries, err := l.queue.GetQueue(ctx, l.preload)
	if err != nil {
		telemetry.RefresherErrorsTotal.Inc()
		l.logger.Error().Err(err).Msg("queue refresh failed")
		return
	}
	l.logger.Debug().Int("entries", len(entries)).Msg("queue refreshed")
}
