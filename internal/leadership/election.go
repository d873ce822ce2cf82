/*
Copyright (C) 2026 Lorekeep Authors

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package leadership elects a single refresher among concurrent
// instances using a Redis lease. Only the lease holder runs the
// background queue top-up so multiple replicas do not hammer the
// question source in parallel. Losing the lease is safe at any point:
// the store's overlap guard keeps double-written slots out regardless.
package leadership

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/lorekeep/lorekeep/internal/telemetry"
)

const (
	defaultLeaseKey = "lorekeep:leader:refresher"

	// The leader must renew before the lease expires; followers probe
	// more often than the renewal cadence so a dead leader is replaced
	// within one lease duration.
	defaultLeaseDuration = 15 * time.Second
	defaultRetryInterval = 2 * time.Second
)

// releaseScript deletes the lease only while we still hold it, so a
// slow shutdown cannot evict a successor.
const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`

// Config tunes the election.
type Config struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// LeaseKey is the Redis key the lease lives under.
	LeaseKey string

	// LeaseDuration is how long a held lease stays valid without renewal.
	LeaseDuration time.Duration

	// RetryInterval is how often this instance campaigns or renews.
	RetryInterval time.Duration

	// InstanceID identifies this process; generated when empty.
	InstanceID string
}

// Election campaigns for the refresher lease and reports transitions.
type Election struct {
	client     *redis.Client
	logger     zerolog.Logger
	cfg        Config
	instanceID string

	mu       sync.RWMutex
	isLeader bool

	cancel   context.CancelFunc
	leaderCh chan bool
}

// New connects to Redis and prepares an election. The campaign does not
// begin until Start is called.
func New(cfg Config, logger zerolog.Logger) (*Election, error) {
	if cfg.LeaseKey == "" {
		cfg.LeaseKey = defaultLeaseKey
	}
	if cfg.LeaseDuration <= 0 {
		cfg.LeaseDuration = defaultLeaseDuration
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = defaultRetryInterval
	}
	if cfg.InstanceID == "" {
		cfg.InstanceID = uuid.NewString()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis for leader election: %w", err)
	}

	return &Election{
		client:     client,
		logger:     logger.With().Str("component", "leader_election").Logger(),
		cfg:        cfg,
		instanceID: cfg.InstanceID,
		leaderCh:   make(chan bool, 1),
	}, nil
}

// Start begins campaigning until the context is cancelled or Stop is
// called.
func (e *Election) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)

	e.logger.Info().
		Str("instance_id", e.instanceID).
		Dur("lease_duration", e.cfg.LeaseDuration).
		Msg("starting leader election")

	go e.campaign(ctx)
}

// Stop ends the campaign, releases a held lease, and closes the Redis
// connection.
func (e *Election) Stop() error {
	if e.cancel != nil {
		e.cancel()
	}

	if e.IsLeader() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.client.Eval(ctx, releaseScript, []string{e.cfg.LeaseKey}, e.instanceID).Err(); err != nil {
			e.logger.Error().Err(err).Msg("failed to release leadership lease")
		} else {
			e.logger.Info().Msg("released leadership lease")
		}
	}

	return e.client.Close()
}

// IsLeader reports whether this instance currently holds the lease.
func (e *Election) IsLeader() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.isLeader
}

// LeaderCh delivers leadership transitions. Only edges are sent, and
// delivery is best effort when the receiver lags.
func (e *Election) LeaderCh() <-chan bool {
	return e.leaderCh
}

// CurrentLeader returns the instance ID holding the lease, or empty
// when nobody does.
func (e *Election) CurrentLeader(ctx context.Context) (string, error) {
	holder, err := e.client.Get(ctx, e.cfg.LeaseKey).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read lease holder: %w", err)
	}
	return holder, nil
}

func (e *Election) campaign(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.RetryInterval)
	defer ticker.Stop()

	e.attempt(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.attempt(ctx)
		}
	}
}

// attempt acquires or renews the lease and records the resulting state.
func (e *Election) attempt(ctx context.Context) {
	held, err := e.acquireOrRenew(ctx)
	if err != nil {
		e.logger.Error().Err(err).Msg("leadership attempt failed")
		e.transition(false)
		return
	}
	e.transition(held)
}

func (e *Election) acquireOrRenew(ctx context.Context) (bool, error) {
	acquired, err := e.client.SetNX(ctx, e.cfg.LeaseKey, e.instanceID, e.cfg.LeaseDuration).Result()
	if err != nil {
		return false, fmt.Errorf("set lease: %w", err)
	}
	if acquired {
		return true, nil
	}

	holder, err := e.client.Get(ctx, e.cfg.LeaseKey).Result()
	if err == redis.Nil {
		// Lease expired between SETNX and GET. The next attempt will
		// race for it.
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read lease holder: %w", err)
	}

	if holder != e.instanceID {
		return false, nil
	}

	if err := e.client.Expire(ctx, e.cfg.LeaseKey, e.cfg.LeaseDuration).Err(); err != nil {
		return false, fmt.Errorf("renew lease: %w", err)
	}
	return true, nil
}

func (e *Election) transition(isLeader bool) {
	e.mu.Lock()
	changed := e.isLeader != isLeader
	e.isLeader = isLeader
	e.mu.Unlock()
	if !changed {
		return
	}

	if isLeader {
		e.logger.Info().Str("instance_id", e.instanceID).Msg("acquired leadership")
		telemetry.LeaderElectionStatus.WithLabelValues(e.instanceID).Set(1)
		telemetry.LeaderElectionChanges.WithLabelValues(e.instanceID, "acquired").Inc()
	} else {
		e.logger.Warn().Str("instance_id", e.instanceID).Msg("lost leadership")
		telemetry.LeaderElectionStatus.WithLabelValues(e.instanceID).Set(0)
		telemetry.LeaderElectionChanges.WithLabelValues(e.instanceID, "lost").Inc()
	}

	select {
	case e.leaderCh <- isLeader:
	default:
	}
}
