/*
Copyright (C) 2026 Lorekeep Authors

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package refresher

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/lorekeep/lorekeep/internal/events"
)

// Election is the slice of leadership.Election the wrapper depends on.
type Election interface {
	Start(ctx context.Context)
	Stop() error
	IsLeader() bool
	LeaderCh() <-chan bool
}

// LeaderAware gates the refresh loop on a leadership lease so only one
// instance of a multi-replica deployment tops up the queue.
type LeaderAware struct {
	loop     *Loop
	election Election
	bus      *events.Bus
	logger   zerolog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewLeaderAware wraps loop so it only runs while election reports this
// instance as leader. Leadership transitions are published on bus.
func NewLeaderAware(loop *Loop, election Election, bus *events.Bus, logger zerolog.Logger) *LeaderAware {
	return &LeaderAware{
		loop:     loop,
		election: election,
		bus:      bus,
		logger:   logger.With().Str("component", "leader_aware_refresher").Logger(),
	}
}

// Start begins the election campaign and follows leadership transitions
// until the context is cancelled.
func (la *LeaderAware) Start(ctx context.Context) {
	la.election.Start(ctx)
	go la.follow(ctx)
}

// Stop halts a running loop and resigns the lease.
func (la *LeaderAware) Stop() error {
	la.stopLoop()
	return la.election.Stop()
}

// IsLeader reports whether this instance currently holds the lease.
func (la *LeaderAware) IsLeader() bool {
	return la.election.IsLeader()
}

func (la *LeaderAware) follow(ctx context.Context) {
	transitions := la.election.LeaderCh()

	if la.election.IsLeader() {
		la.startLoop(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			la.stopLoop()
			return
		case isLeader := <-transitions:
			if isLeader {
				la.startLoop(ctx)
			} else {
				la.stopLoop()
			}
		}
	}
}

func (la *LeaderAware) startLoop(ctx context.Context) {
	la.mu.Lock()
	defer la.mu.Unlock()
	if la.cancel != nil {
		return
	}

	la.logger.Info().Msg("leadership held, starting refresher")
	la.bus.Publish(events.EventLeaderElected, events.Payload{"component": "refresher"})
	loopCtx, cancel := context.WithCancel(ctx)
	la.cancel = cancel

	go func() {
		if err := la.loop.Run(loopCtx); err != nil && !errors.Is(err, context.Canceled) {
			la.logger.Error().Err(err).Msg("refresher exited")
		}
	}()
}

func (la *LeaderAware) stopLoop() {
	la.mu.Lock()
	defer la.mu.Unlock()
	if la.cancel == nil {
		return
	}

	la.logger.Info().Msg("leadership lost, stopping refresher")
	la.bus.Publish(events.EventLeaderLost, events.Payload{"component": "refresher"})
	la.cancel()
	la.cancel = nil
}
