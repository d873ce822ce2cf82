/*
Copyright (C) 2026 Lorekeep Authors

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/lorekeep/lorekeep/internal/clock"
	"github.com/lorekeep/lorekeep/internal/events"
	"github.com/lorekeep/lorekeep/internal/models"
	"github.com/lorekeep/lorekeep/internal/random"
	"github.com/lorekeep/lorekeep/internal/store"
	"github.com/lorekeep/lorekeep/internal/telemetry"
)

const (
	// topUpAttempts bounds the generation loop so an exhausted or
	// misbehaving question source cannot spin a request forever.
	topUpAttempts = 10

	// driftBuffer compensates for clock skew between the server and
	// whatever enforces the countdown on the client side.
	driftBuffer = time.Second

	// revealRetention is how many question durations a per-entry reveal
	// cache record outlives its round.
	revealRetention = 5
)

var (
	// ErrNotFound reports that no queue entry exists for the requested ID.
	ErrNotFound = errors.New("queue entry not found")

	// ErrNotAvailableYet reports that the entry's round has not started,
	// so revealing its answer would leak it early.
	ErrNotAvailableYet = errors.New("answer not available yet")
)

// Service coordinates the rolling question queue: cache-first reads,
// store fallback, slot generation to cover shortfalls, and answer
// reveals with suspend-until-revealable semantics.
type Service struct {
	cache   Cache
	store   Store
	source  Source
	chooser *random.Chooser
	clk     clock.Clock
	bus     *events.Bus
	logger  zerolog.Logger

	questionDuration time.Duration
	answerDuration   time.Duration
}

// New constructs the queue coordinator.
func New(cache Cache, st Store, source Source, chooser *random.Chooser, clk clock.Clock, bus *events.Bus, questionDuration, answerDuration time.Duration, logger zerolog.Logger) *Service {
	return &Service{
		cache:            cache,
		store:            st,
		source:           source,
		chooser:          chooser,
		clk:              clk,
		bus:              bus,
		logger:           logger.With().Str("component", "queue").Logger(),
		questionDuration: questionDuration,
		answerDuration:   answerDuration,
	}
}

// roundDuration is the full slot width used for aligned starts: the
// question window plus the answer display gap that follows it.
func (s *Service) roundDuration() time.Duration {
	return s.questionDuration + s.answerDuration
}

// GetQueue returns up to desired upcoming entries ordered by start
// time. It serves from the cache when possible, falls back to the
// store, and generates fresh entries to cover any shortfall. A result
// shorter than desired means the question source ran out of unqueued
// content, which is a valid outcome rather than an error.
func (s *Service) GetQueue(ctx context.Context, desired int) ([]models.QueueEntry, error) {
	if desired <= 0 {
		return nil, nil
	}
	now := s.clk.Now()

	if cached, ok := s.cache.GetQueue(ctx); ok {
		fresh := dropStale(cached, now.Add(-s.answerDuration))
		if len(fresh) >= desired {
			telemetry.QueueRequestsTotal.WithLabelValues("cache").Inc()
			telemetry.QueueLength.Set(float64(len(fresh)))
			return fresh[:desired], nil
		}
	}

	queue, err := s.store.ListUpcoming(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("list upcoming queue entries: %w", err)
	}

	path := "store"
	if len(queue) >= desired {
		if err := s.cache.SetQueue(ctx, queue); err != nil {
			s.logger.Warn().Err(err).Msg("failed to write queue cache")
		}
	} else {
		path = "topup"
		started := time.Now()
		var added []models.QueueEntry
		queue, added = s.topUp(ctx, queue, desired, now)
		telemetry.QueueTopUpDuration.Observe(time.Since(started).Seconds())

		if len(added) > 0 {
			if err := s.cache.SetQueue(ctx, queue); err != nil {
				s.logger.Warn().Err(err).Msg("failed to write queue cache")
			}
			if err := s.persist(ctx, added, now); err != nil {
				// The caller still gets the computed queue, but the bulk
				// cache must not outlive entries that never became durable.
				s.logger.Warn().Err(err).Msg("queue persistence incomplete, invalidating queue cache")
				if cerr := s.cache.InvalidateQueue(ctx); cerr != nil {
					s.logger.Warn().Err(cerr).Msg("failed to invalidate queue cache")
				}
				s.bus.Publish(events.EventQueueInvalidated, events.Payload{
					"reason": "persist_failure",
				})
			}
		}
	}

	s.refreshRevealEntries(ctx, queue, now)

	telemetry.QueueRequestsTotal.WithLabelValues(path).Inc()
	telemetry.QueueLength.Set(float64(len(queue)))
	s.bus.Publish(events.EventQueueRefreshed, events.Payload{
		"entries": len(queue),
		"path":    path,
	})

	if len(queue) > desired {
		queue = queue[:desired]
	}
	return queue, nil
}

// topUp appends freshly generated entries until desired is reached, the
// attempt budget runs out, or the source stops yielding unqueued
// questions. Returns the grown queue and the entries it added.
func (s *Service) topUp(ctx context.Context, queue []models.QueueEntry, desired int, now time.Time) ([]models.QueueEntry, []models.QueueEntry) {
	queued := make(map[string]struct{}, len(queue))
	for _, entry := range queue {
		queued[entry.QuestionID] = struct{}{}
	}

	next := s.nextStart(queue, now)
	var added []models.QueueEntry

	for attempt := 0; attempt < topUpAttempts && len(queue) < desired; attempt++ {
		questions, err := s.source.RandomQuestions(ctx, desired-len(queue))
		if err != nil {
			s.logger.Warn().Err(err).Msg("question source unavailable during top-up")
			break
		}

		grew := false
		for _, question := range questions {
			if len(queue) >= desired {
				break
			}
			if _, ok := queued[question.ID]; ok {
				continue
			}
			queued[question.ID] = struct{}{}

			entry, err := models.NewQueueEntry(question, next, next.Add(s.questionDuration), s.chooser)
			if err != nil {
				s.logger.Warn().Err(err).Str("question_id", question.ID).
					Msg("skipping question unfit for queueing")
				continue
			}

			queue = append(queue, entry)
			added = append(added, entry)
			next = next.Add(s.roundDuration())
			grew = true
			telemetry.QueueEntriesCreatedTotal.Inc()
			s.bus.Publish(events.EventEntryCreated, events.Payload{
				"entry_id":    entry.ID,
				"question_id": entry.QuestionID,
				"starts_at":   entry.StartsAt,
			})
		}
		if !grew {
			// Nothing new to queue. Content exhaustion ends the loop with
			// a possibly short queue.
			break
		}
	}
	return queue, added
}

// nextStart computes the aligned start for the next generated entry:
// after the latest queued end, or after now for an empty queue.
func (s *Service) nextStart(queue []models.QueueEntry, now time.Time) time.Time {
	after := now
	for _, entry := range queue {
		if entry.EndsAt.After(after) {
			after = entry.EndsAt
		}
	}
	return clock.NextAlignedStart(s.roundDuration(), after)
}

// persist writes the newly generated future entries to the store.
// Overlap conflicts mean a concurrent writer won that slot and are
// absorbed; any other failure is reported so the caller can invalidate
// the bulk cache.
func (s *Service) persist(ctx context.Context, added []models.QueueEntry, now time.Time) error {
	var failures int
	for i := range added {
		entry := added[i]
		if !entry.StartsAt.After(now) {
			continue
		}

		err := s.store.Insert(ctx, &entry)
		switch {
		case err == nil:
			s.bus.Publish(events.EventEntryPersisted, events.Payload{"entry_id": entry.ID})
		case errors.Is(err, store.ErrOverlap):
			telemetry.QueuePersistConflictsTotal.Inc()
			s.logger.Debug().Str("entry_id", entry.ID).
				Msg("dropping entry, concurrent writer holds the slot")
			s.bus.Publish(events.EventEntryConflict, events.Payload{"entry_id": entry.ID})
		default:
			telemetry.QueuePersistFailuresTotal.Inc()
			s.logger.Error().Err(err).Str("entry_id", entry.ID).
				Msg("failed to persist queue entry")
			failures++
		}
	}
	if failures > 0 {
		return fmt.Errorf("%d queue entry inserts failed", failures)
	}
	return nil
}

// refreshRevealEntries rewrites the per-entry reveal cache records for
// every entry in the working queue so answer lookups keep working after
// the entry leaves the bulk queue.
func (s *Service) refreshRevealEntries(ctx context.Context, queue []models.QueueEntry, now time.Time) {
	for i := range queue {
		expiry := queue[i].EndsAt.Add(revealRetention * s.questionDuration).Sub(now)
		if expiry <= 0 {
			continue
		}
		if err := s.cache.SetEntry(ctx, &queue[i], expiry); err != nil {
			s.logger.Warn().Err(err).Str("entry_id", queue[i].ID).
				Msg("failed to write reveal cache entry")
		}
	}
}

// GetAnswer resolves the correct answer for a queue entry. Unknown IDs
// return ErrNotFound and entries whose round has not started return
// ErrNotAvailableYet. A currently live round suspends the caller until
// the reveal moment, honoring ctx cancellation.
func (s *Service) GetAnswer(ctx context.Context, entryID string) (*models.Answer, error) {
	entry, ok := s.cache.GetEntry(ctx, entryID)
	if !ok {
		telemetry.AnswerRequestsTotal.WithLabelValues("not_found").Inc()
		return nil, ErrNotFound
	}

	now := s.clk.Now()
	revealAt := entry.EndsAt.Add(-driftBuffer)

	switch {
	case now.Before(entry.StartsAt.Add(-driftBuffer)):
		telemetry.AnswerRequestsTotal.WithLabelValues("pending").Inc()
		return nil, ErrNotAvailableYet

	case now.Before(revealAt):
		wait := revealAt.Sub(now)
		s.logger.Debug().Str("entry_id", entry.ID).Dur("wait", wait).
			Msg("suspending answer request until reveal")

		timer := time.NewTimer(wait)
		defer timer.Stop()
		started := time.Now()
		select {
		case <-ctx.Done():
			telemetry.AnswerRequestsTotal.WithLabelValues("cancelled").Inc()
			return nil, ctx.Err()
		case <-timer.C:
		}
		telemetry.AnswerWaitDuration.Observe(time.Since(started).Seconds())
		telemetry.AnswerRequestsTotal.WithLabelValues("waited").Inc()

	default:
		telemetry.AnswerRequestsTotal.WithLabelValues("resolved").Inc()
	}

	answer := entry.CorrectAnswer()
	if answer == nil {
		// A reveal record without its question payload cannot be resolved.
		telemetry.AnswerRequestsTotal.WithLabelValues("not_found").Inc()
		return nil, ErrNotFound
	}

	s.bus.Publish(events.EventAnswerRevealed, events.Payload{"entry_id": entry.ID})
	return answer, nil
}

// dropStale filters out entries whose start is older than cutoff, the
// point past which a cached entry can no longer be "upcoming."
func dropStale(entries []models.QueueEntry, cutoff time.Time) []models.QueueEntry {
	fresh := make([]models.QueueEntry, 0, len(entries))
	for _, entry := range entries {
		if !entry.StartsAt.Before(cutoff) {
			fresh = append(fresh, entry)
		}
	}
	return fresh
}
