/*
Copyright (C) 2026 Lorekeep Authors

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package store is the durable side of the question queue: ground truth
// for confirmed entries and the source of question content.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/lorekeep/lorekeep/internal/models"
)

// ErrOverlap is returned when an insert would produce two persisted
// entries with intersecting [starts_at, ends_at) windows. Under
// concurrent top-up this is an expected outcome, not a failure: it means
// another writer already claimed the slot.
var ErrOverlap = errors.New("queue entry overlaps an existing entry")

// QueueStore persists queue entries.
type QueueStore struct {
	db     *gorm.DB
	logger zerolog.Logger
}

// NewQueueStore creates a queue store backed by the given database.
func NewQueueStore(database *gorm.DB, logger zerolog.Logger) *QueueStore {
	return &QueueStore{
		db:     database,
		logger: logger.With().Str("component", "queue_store").Logger(),
	}
}

// ListUpcoming returns every entry starting at or after now, ordered by
// start time, with question content preloaded.
func (s *QueueStore) ListUpcoming(ctx context.Context, now time.Time) ([]models.QueueEntry, error) {
	var entries []models.QueueEntry
	err := s.db.WithContext(ctx).
		Where("starts_at >= ?", now.UTC()).
		Order("starts_at ASC").
		Preload("Question").
		Preload("Question.Answers").
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("list upcoming queue entries: %w", err)
	}
	return entries, nil
}

// Insert persists a queue entry, failing with ErrOverlap when its window
// intersects an existing row. The check runs inside the insert
// transaction; on Postgres the schema-level trigger backs it up across
// instances.
func (s *QueueStore) Insert(ctx context.Context, entry *models.QueueEntry) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		err := tx.Model(&models.QueueEntry{}).
			Where("(starts_at <= ? AND ends_at > ?) OR (starts_at < ? AND ends_at >= ?)",
				entry.StartsAt, entry.StartsAt, entry.EndsAt, entry.EndsAt).
			Count(&count).Error
		if err != nil {
			return fmt.Errorf("check queue entry overlap: %w", err)
		}
		if count > 0 {
			return ErrOverlap
		}

		// The question snapshot rides along on the entry for cache use;
		// only the entry row itself is written here.
		return tx.Omit("Question").Create(entry).Error
	})
	if err != nil {
		if errors.Is(err, ErrOverlap) || isOverlapViolation(err) {
			return ErrOverlap
		}
		return fmt.Errorf("insert queue entry: %w", err)
	}

	s.logger.Debug().
		Str("entry_id", entry.ID).
		Time("starts_at", entry.StartsAt).
		Msg("queue entry persisted")
	return nil
}

// isOverlapViolation recognises the Postgres trigger rejecting an
// overlapping insert that raced past the in-transaction check.
func isOverlapViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "23514") || strings.Contains(msg, "overlapping queue entries")
}
