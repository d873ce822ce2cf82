/*
Copyright (C) 2026 Lorekeep Authors

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package cache provides the Redis fast path for the question queue. It
// holds two regions: a single bulk key with the full materialized queue,
// and one key per entry used to answer reveal lookups after the entry has
// left the bulk queue. Misses and Redis failures are never errors here;
// callers fall back to the store.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/lorekeep/lorekeep/internal/models"
	"github.com/lorekeep/lorekeep/internal/telemetry"
)

// Keys for the two cache regions.
const (
	KeyQueue       = "lorekeep:cache:queue"
	KeyEntryPrefix = "lorekeep:cache:entry:" // + entry_id
)

// Config contains cache configuration.
type Config struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// QueueTTL bounds staleness of the bulk queue key. Zero means no
	// expiry: the bulk key is overwritten wholesale on every recompute
	// and is not a source of truth.
	QueueTTL time.Duration

	// DisableOnError disables caching after a Redis failure instead of
	// retrying every request.
	DisableOnError bool
}

// DefaultConfig returns default cache configuration.
func DefaultConfig() Config {
	return Config{
		RedisAddr:      "localhost:6379",
		DisableOnError: true,
	}
}

// Cache provides Redis-backed caching with graceful fallback.
type Cache struct {
	client *redis.Client
	logger zerolog.Logger
	config Config

	mu       sync.RWMutex
	disabled bool // Circuit breaker state
}

// New creates a new cache instance. When Redis is unreachable the cache
// starts disabled and every read is a miss.
func New(cfg Config, logger zerolog.Logger) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn().Err(err).Msg("Redis cache unavailable, running without caching")
		return &Cache{
			logger:   logger.With().Str("component", "cache").Logger(),
			config:   cfg,
			disabled: true,
		}, nil
	}

	logger.Info().Str("addr", cfg.RedisAddr).Msg("Redis cache initialized")

	return &Cache{
		client: client,
		logger: logger.With().Str("component", "cache").Logger(),
		config: cfg,
	}, nil
}

// Close closes the Redis connection.
func (c *Cache) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// IsAvailable returns true if the cache is operational.
func (c *Cache) IsAvailable() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.disabled && c.client != nil
}

// handleError handles Redis errors with circuit breaker logic.
func (c *Cache) handleError(err error, operation string) {
	if err == nil || err == redis.Nil {
		return
	}

	c.logger.Debug().Err(err).Str("operation", operation).Msg("cache operation failed")
	telemetry.CacheOperationsTotal.WithLabelValues(operation, "error").Inc()

	if c.config.DisableOnError {
		c.mu.Lock()
		c.disabled = true
		c.mu.Unlock()
		c.logger.Warn().Msg("disabling cache due to Redis error")
	}
}

// get retrieves a value from cache and unmarshals it.
func (c *Cache) get(ctx context.Context, key string, dest any) (bool, error) {
	if !c.IsAvailable() {
		return false, nil
	}

	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		c.handleError(err, "get")
		return false, err
	}

	if err := json.Unmarshal(data, dest); err != nil {
		c.logger.Debug().Err(err).Str("key", key).Msg("failed to unmarshal cached value")
		return false, nil
	}

	return true, nil
}

// set stores a value in cache with TTL.
func (c *Cache) set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if !c.IsAvailable() {
		return nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache value: %w", err)
	}

	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		c.handleError(err, "set")
		return err
	}

	return nil
}

// delete removes a key from cache.
func (c *Cache) delete(ctx context.Context, key string) error {
	if !c.IsAvailable() {
		return nil
	}

	if err := c.client.Del(ctx, key).Err(); err != nil {
		c.handleError(err, "delete")
		return err
	}

	return nil
}

// GetQueue retrieves the cached bulk question queue.
func (c *Cache) GetQueue(ctx context.Context) ([]models.QueueEntry, bool) {
	var entries []models.QueueEntry
	found, err := c.get(ctx, KeyQueue, &entries)
	if err != nil || !found {
		telemetry.CacheOperationsTotal.WithLabelValues("get_queue", "miss").Inc()
		return nil, false
	}
	telemetry.CacheOperationsTotal.WithLabelValues("get_queue", "hit").Inc()
	c.logger.Debug().Int("count", len(entries)).Msg("queue cache hit")
	return entries, true
}

// SetQueue overwrites the bulk queue key with the given entries.
func (c *Cache) SetQueue(ctx context.Context, entries []models.QueueEntry) error {
	c.logger.Debug().Int("count", len(entries)).Msg("caching queue")
	return c.set(ctx, KeyQueue, entries, c.config.QueueTTL)
}

// InvalidateQueue removes the bulk queue key so the next reader
// recomputes from the store. Called when persistence fails and the
// cached queue would otherwise reference entries that do not durably
// exist.
func (c *Cache) InvalidateQueue(ctx context.Context) error {
	c.logger.Debug().Msg("invalidating queue cache")
	return c.delete(ctx, KeyQueue)
}

// GetEntry retrieves a single cached queue entry by ID.
func (c *Cache) GetEntry(ctx context.Context, entryID string) (*models.QueueEntry, bool) {
	var entry models.QueueEntry
	found, err := c.get(ctx, KeyEntryPrefix+entryID, &entry)
	if err != nil || !found {
		telemetry.CacheOperationsTotal.WithLabelValues("get_entry", "miss").Inc()
		return nil, false
	}
	telemetry.CacheOperationsTotal.WithLabelValues("get_entry", "hit").Inc()
	c.logger.Debug().Str("entry_id", entryID).Msg("entry cache hit")
	return &entry, true
}

// SetEntry caches one queue entry under its own key with the given
// expiry. The expiry is set well past the entry's end so reveal lookups
// keep working after the round has left the bulk queue.
func (c *Cache) SetEntry(ctx context.Context, entry *models.QueueEntry, expiry time.Duration) error {
	if expiry <= 0 {
		return nil
	}
	return c.set(ctx, KeyEntryPrefix+entry.ID, entry, expiry)
}
