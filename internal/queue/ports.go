/*
Copyright (C) 2026 Lorekeep Authors

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package queue

import (
	"context"
	"time"

	"github.com/lorekeep/lorekeep/internal/models"
)

// Cache is the fast path in front of the durable store. Misses are
// reported through the bool, never as errors, and writes are best
// effort.
type Cache interface {
	GetQueue(ctx context.Context) ([]models.QueueEntry, bool)
	SetQueue(ctx context.Context, entries []models.QueueEntry) error
	InvalidateQueue(ctx context.Context) error
	GetEntry(ctx context.Context, entryID string) (*models.QueueEntry, bool)
	SetEntry(ctx context.Context, entry *models.QueueEntry, expiry time.Duration) error
}

// Store is the durable ground truth for confirmed queue entries. Insert
// must reject window overlaps with store.ErrOverlap so concurrent
// writers can race safely.
type Store interface {
	ListUpcoming(ctx context.Context, now time.Time) ([]models.QueueEntry, error)
	Insert(ctx context.Context, entry *models.QueueEntry) error
}

// Source supplies random question content. Filtering out questions that
// are already queued is the coordinator's job.
type Source interface {
	RandomQuestions(ctx context.Context, count int) ([]models.Question, error)
}
