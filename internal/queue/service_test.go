/*
Copyright (C) 2026 Lorekeep Authors

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/lorekeep/lorekeep/internal/clock"
	"github.com/lorekeep/lorekeep/internal/events"
	"github.com/lorekeep/lorekeep/internal/models"
	"github.com/lorekeep/lorekeep/internal/random"
	"github.com/lorekeep/lorekeep/internal/store"
	"github.com/lorekeep/lorekeep/internal/telemetry"
)

const (
	testQuestionDuration = 30 * time.Second
	testAnswerDuration   = 10 * time.Second
)

type fakeCache struct {
	queue       []models.QueueEntry
	hasQueue    bool
	entries     map[string]models.QueueEntry
	invalidated bool
	queueWrites int
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string]models.QueueEntry)}
}

func (c *fakeCache) GetQueue(context.Context) ([]models.QueueEntry, bool) {
	if !c.hasQueue {
		return nil, false
	}
	return append([]models.QueueEntry(nil), c.queue...), true
}

func (c *fakeCache) SetQueue(_ context.Context, entries []models.QueueEntry) error {
	c.queue = append([]models.QueueEntry(nil), entries...)
	c.hasQueue = true
	c.queueWrites++
	return nil
}

func (c *fakeCache) InvalidateQueue(context.Context) error {
	c.queue = nil
	c.hasQueue = false
	c.invalidated = true
	return nil
}

func (c *fakeCache) GetEntry(_ context.Context, entryID string) (*models.QueueEntry, bool) {
	entry, ok := c.entries[entryID]
	if !ok {
		return nil, false
	}
	return &entry, true
}

func (c *fakeCache) SetEntry(_ context.Context, entry *models.QueueEntry, _ time.Duration) error {
	c.entries[entry.ID] = *entry
	return nil
}

type fakeStore struct {
	entries   []models.QueueEntry
	listCalls int
	inserted  []models.QueueEntry
	insertErr error
}

func (s *fakeStore) ListUpcoming(_ context.Context, now time.Time) ([]models.QueueEntry, error) {
	s.listCalls++
	var upcoming []models.QueueEntry
	for _, entry := range s.entries {
		if !entry.StartsAt.Before(now) {
			upcoming = append(upcoming, entry)
		}
	}
	return upcoming, nil
}

func (s *fakeStore) Insert(_ context.Context, entry *models.QueueEntry) error {
	if s.insertErr != nil {
		return s.insertErr
	}
	for _, existing := range s.entries {
		if existing.OverlapsWindow(entry.StartsAt, entry.EndsAt) {
			return store.ErrOverlap
		}
	}
	s.entries = append(s.entries, *entry)
	s.inserted = append(s.inserted, *entry)
	return nil
}

type fakeSource struct {
	questions []models.Question
	calls     int
}

func (s *fakeSource) RandomQuestions(_ context.Context, count int) ([]models.Question, error) {
	s.calls++
	if count > len(s.questions) {
		count = len(s.questions)
	}
	return append([]models.Question(nil), s.questions[:count]...), nil
}

func newQuestion(key string) models.Question {
	question := models.Question{
		ID:   uuid.NewString(),
		Key:  key,
		Text: "What does the shopkeeper sell?",
		Type: models.QuestionTypeLore,
	}
	question.Answers = append(question.Answers, models.Answer{
		ID: uuid.NewString(), QuestionID: question.ID, Text: "correct " + key, Correct: true,
	})
	for i := 0; i < 4; i++ {
		question.Answers = append(question.Answers, models.Answer{
			ID: uuid.NewString(), QuestionID: question.ID, Text: "wrong",
		})
	}
	return question
}

func newEntry(t *testing.T, question models.Question, start time.Time) models.QueueEntry {
	t.Helper()
	entry, err := models.NewQueueEntry(question, start, start.Add(testQuestionDuration), random.NewSeeded(7))
	if err != nil {
		t.Fatalf("failed to build entry: %v", err)
	}
	return entry
}

func newService(cache Cache, st Store, source Source, clk clock.Clock) *Service {
	return newServiceWithBus(cache, st, source, clk, events.NewBus())
}

func newServiceWithBus(cache Cache, st Store, source Source, clk clock.Clock, bus *events.Bus) *Service {
	return New(cache, st, source, random.NewSeeded(7), clk, bus,
		testQuestionDuration, testAnswerDuration, zerolog.Nop())
}

// alignedTime returns a timestamp sitting exactly on a round boundary
// offset by delta.
func alignedTime(delta time.Duration) time.Time {
	base := time.Unix(0, 0).UTC().Add(1000 * (testQuestionDuration + testAnswerDuration))
	return base.Add(delta)
}

func TestGetQueueServesFromCacheWithoutIO(t *testing.T) {
	now := alignedTime(3 * time.Second)
	clk := clock.NewFixed(now)

	cache := newFakeCache()
	for i := 0; i < 3; i++ {
		entry := newEntry(t, newQuestion("q"+string(rune('0'+i))), now.Add(time.Duration(i+1)*time.Minute))
		cache.queue = append(cache.queue, entry)
	}
	cache.hasQueue = true

	st := &fakeStore{}
	source := &fakeSource{}
	service := newService(cache, st, source, clk)

	entries, err := service.GetQueue(context.Background(), 3)
	if err != nil {
		t.Fatalf("GetQueue() error = %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("GetQueue() returned %d entries, want 3", len(entries))
	}
	if st.listCalls != 0 {
		t.Errorf("store was consulted %d times on a warm cache, want 0", st.listCalls)
	}
	if source.calls != 0 {
		t.Errorf("source was consulted %d times on a warm cache, want 0", source.calls)
	}
}

func TestGetQueueIsIdempotentOnWarmCache(t *testing.T) {
	now := alignedTime(0)
	clk := clock.NewFixed(now)

	cache := newFakeCache()
	for i := 0; i < 3; i++ {
		cache.queue = append(cache.queue,
			newEntry(t, newQuestion("q"+string(rune('0'+i))), now.Add(time.Duration(i+1)*time.Minute)))
	}
	cache.hasQueue = true
	service := newService(cache, &fakeStore{}, &fakeSource{}, clk)

	first, err := service.GetQueue(context.Background(), 3)
	if err != nil {
		t.Fatalf("GetQueue() error = %v", err)
	}
	second, err := service.GetQueue(context.Background(), 3)
	if err != nil {
		t.Fatalf("GetQueue() error = %v", err)
	}
	for i := range first {
		if first[i].ID != second[i].ID {
			t.Errorf("entry %d changed between calls: %s vs %s", i, first[i].ID, second[i].ID)
		}
	}
}

func TestGetQueueFallsBackToStore(t *testing.T) {
	now := alignedTime(0)
	clk := clock.NewFixed(now)

	st := &fakeStore{}
	for i := 0; i < 3; i++ {
		st.entries = append(st.entries,
			newEntry(t, newQuestion("q"+string(rune('0'+i))), now.Add(time.Duration(i+1)*time.Minute)))
	}
	cache := newFakeCache()
	source := &fakeSource{}
	service := newService(cache, st, source, clk)

	entries, err := service.GetQueue(context.Background(), 3)
	if err != nil {
		t.Fatalf("GetQueue() error = %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("GetQueue() returned %d entries, want 3", len(entries))
	}
	if source.calls != 0 {
		t.Errorf("source consulted %d times when the store sufficed, want 0", source.calls)
	}
	if !cache.hasQueue {
		t.Error("store-served queue was not written back to the cache")
	}
	if len(cache.entries) != 3 {
		t.Errorf("%d reveal cache entries written, want 3", len(cache.entries))
	}
}

func TestGetQueueTopsUpAndPersists(t *testing.T) {
	now := alignedTime(-3 * time.Second)
	clk := clock.NewFixed(now)

	existing := newEntry(t, newQuestion("stored"), alignedTime(0))
	st := &fakeStore{entries: []models.QueueEntry{existing}}
	source := &fakeSource{questions: []models.Question{
		newQuestion("fresh-a"), newQuestion("fresh-b"), newQuestion("fresh-c"),
	}}
	cache := newFakeCache()
	service := newService(cache, st, source, clk)

	entries, err := service.GetQueue(context.Background(), 3)
	if err != nil {
		t.Fatalf("GetQueue() error = %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("GetQueue() returned %d entries, want 3", len(entries))
	}
	if len(st.inserted) != 2 {
		t.Fatalf("%d entries persisted, want 2", len(st.inserted))
	}

	round := testQuestionDuration + testAnswerDuration
	for i, entry := range entries {
		if rem := entry.StartsAt.UnixNano() % int64(round); rem != 0 {
			t.Errorf("entry %d start %v is not round aligned", i, entry.StartsAt)
		}
		if i > 0 {
			if !entries[i].StartsAt.After(entries[i-1].StartsAt) {
				t.Errorf("entries not sorted by start: %v then %v", entries[i-1].StartsAt, entries[i].StartsAt)
			}
			if entries[i].OverlapsWindow(entries[i-1].StartsAt, entries[i-1].EndsAt) {
				t.Errorf("entries %d and %d overlap", i-1, i)
			}
		}
	}

	// Generated entries slot in after the stored one.
	wantStarts := []time.Time{alignedTime(round), alignedTime(2 * round)}
	for i, inserted := range st.inserted {
		if !inserted.StartsAt.Equal(wantStarts[i]) {
			t.Errorf("inserted entry %d starts at %v, want %v", i, inserted.StartsAt, wantStarts[i])
		}
	}
}

func TestGetQueueInvalidatesCacheOnPersistFailure(t *testing.T) {
	now := alignedTime(3 * time.Second)
	clk := clock.NewFixed(now)

	st := &fakeStore{insertErr: errors.New("database gone")}
	source := &fakeSource{questions: []models.Question{newQuestion("fresh-a"), newQuestion("fresh-b")}}
	cache := newFakeCache()
	bus := events.NewBus()
	invalidated := bus.Subscribe(events.EventQueueInvalidated)
	service := newServiceWithBus(cache, st, source, clk, bus)

	entries, err := service.GetQueue(context.Background(), 2)
	if err != nil {
		t.Fatalf("GetQueue() error = %v, want best-effort success", err)
	}
	if len(entries) != 2 {
		t.Fatalf("GetQueue() returned %d entries, want 2", len(entries))
	}
	if !cache.invalidated {
		t.Error("bulk cache not invalidated after persist failure")
	}

	select {
	case payload := <-invalidated:
		if payload["reason"] != "persist_failure" {
			t.Errorf("invalidation event reason = %v, want persist_failure", payload["reason"])
		}
	default:
		t.Error("no invalidation event published after persist failure")
	}
}

func TestGetQueueAbsorbsOverlapConflicts(t *testing.T) {
	now := alignedTime(3 * time.Second)
	clk := clock.NewFixed(now)

	st := &fakeStore{insertErr: store.ErrOverlap}
	source := &fakeSource{questions: []models.Question{newQuestion("fresh-a"), newQuestion("fresh-b")}}
	cache := newFakeCache()
	service := newService(cache, st, source, clk)

	entries, err := service.GetQueue(context.Background(), 2)
	if err != nil {
		t.Fatalf("GetQueue() error = %v, conflicts must be absorbed", err)
	}
	if len(entries) != 2 {
		t.Fatalf("GetQueue() returned %d entries, want 2", len(entries))
	}
	if cache.invalidated {
		t.Error("bulk cache invalidated on an overlap conflict, want it kept")
	}
}

func TestGetQueueShortQueueOnContentExhaustion(t *testing.T) {
	now := alignedTime(3 * time.Second)
	clk := clock.NewFixed(now)

	st := &fakeStore{}
	source := &fakeSource{questions: []models.Question{newQuestion("only")}}
	cache := newFakeCache()
	service := newService(cache, st, source, clk)

	entries, err := service.GetQueue(context.Background(), 5)
	if err != nil {
		t.Fatalf("GetQueue() error = %v, exhaustion is not an error", err)
	}
	if len(entries) != 1 {
		t.Fatalf("GetQueue() returned %d entries, want 1", len(entries))
	}
	// The attempt budget bounds the loop even when the source keeps
	// returning the same already-queued question.
	if source.calls > topUpAttempts {
		t.Errorf("source consulted %d times, budget is %d", source.calls, topUpAttempts)
	}
}

func TestGetQueueLengthGaugeTracksFullQueue(t *testing.T) {
	now := alignedTime(0)
	clk := clock.NewFixed(now)

	st := &fakeStore{}
	for i := 0; i < 3; i++ {
		st.entries = append(st.entries,
			newEntry(t, newQuestion("q"+string(rune('0'+i))), now.Add(time.Duration(i+1)*time.Minute)))
	}
	cache := newFakeCache()
	service := newService(cache, st, &fakeSource{}, clk)

	// Cold read goes through the store and warms the cache.
	if _, err := service.GetQueue(context.Background(), 2); err != nil {
		t.Fatalf("GetQueue() error = %v", err)
	}
	if got := testutil.ToFloat64(telemetry.QueueLength); got != 3 {
		t.Errorf("queue length gauge = %v after store read, want 3", got)
	}

	// A warm cache hit reports the same thing: the full materialized
	// queue, not the truncated slice handed to the caller.
	if _, err := service.GetQueue(context.Background(), 2); err != nil {
		t.Fatalf("GetQueue() error = %v", err)
	}
	if st.listCalls != 1 {
		t.Fatalf("store consulted %d times, second read should hit the cache", st.listCalls)
	}
	if got := testutil.ToFloat64(telemetry.QueueLength); got != 3 {
		t.Errorf("queue length gauge = %v after cache read, want 3", got)
	}
}

func TestGetQueueZeroDesired(t *testing.T) {
	service := newService(newFakeCache(), &fakeStore{}, &fakeSource{}, clock.NewFixed(alignedTime(0)))
	entries, err := service.GetQueue(context.Background(), 0)
	if err != nil || entries != nil {
		t.Errorf("GetQueue(0) = %v, %v, want nil, nil", entries, err)
	}
}

func TestGetAnswerUnknownEntry(t *testing.T) {
	service := newService(newFakeCache(), &fakeStore{}, &fakeSource{}, clock.NewFixed(alignedTime(0)))

	done := make(chan error, 1)
	go func() {
		_, err := service.GetAnswer(context.Background(), uuid.NewString())
		done <- err
	}()
	select {
	case err := <-done:
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("GetAnswer() error = %v, want ErrNotFound", err)
		}
	case <-time.After(time.Second):
		t.Fatal("GetAnswer() blocked on an unknown entry")
	}
}

func TestGetAnswerPendingRound(t *testing.T) {
	now := alignedTime(0)
	clk := clock.NewFixed(now)

	cache := newFakeCache()
	entry := newEntry(t, newQuestion("later"), now.Add(time.Minute))
	cache.entries[entry.ID] = entry

	service := newService(cache, &fakeStore{}, &fakeSource{}, clk)
	_, err := service.GetAnswer(context.Background(), entry.ID)
	if !errors.Is(err, ErrNotAvailableYet) {
		t.Errorf("GetAnswer() error = %v, want ErrNotAvailableYet", err)
	}
}

func TestGetAnswerResolvedRound(t *testing.T) {
	now := alignedTime(0)
	clk := clock.NewFixed(now)

	cache := newFakeCache()
	question := newQuestion("done")
	entry := newEntry(t, question, now.Add(-2*testQuestionDuration))
	cache.entries[entry.ID] = entry

	service := newService(cache, &fakeStore{}, &fakeSource{}, clk)
	answer, err := service.GetAnswer(context.Background(), entry.ID)
	if err != nil {
		t.Fatalf("GetAnswer() error = %v", err)
	}
	if answer.Text != "correct done" {
		t.Errorf("GetAnswer() text = %q, want %q", answer.Text, "correct done")
	}
	if !answer.Correct {
		t.Error("GetAnswer() returned a non-correct answer")
	}
}

func TestGetAnswerSuspendsUntilReveal(t *testing.T) {
	now := alignedTime(0)
	clk := clock.NewFixed(now)

	cache := newFakeCache()
	question := newQuestion("live")
	// Round is live now; reveal lands driftBuffer before EndsAt, 150ms
	// from the pinned now.
	start := now.Add(-time.Second)
	entry, err := models.NewQueueEntry(question, start, now.Add(driftBuffer+150*time.Millisecond), random.NewSeeded(7))
	if err != nil {
		t.Fatalf("failed to build entry: %v", err)
	}
	cache.entries[entry.ID] = entry

	service := newService(cache, &fakeStore{}, &fakeSource{}, clk)

	began := time.Now()
	answer, err := service.GetAnswer(context.Background(), entry.ID)
	elapsed := time.Since(began)
	if err != nil {
		t.Fatalf("GetAnswer() error = %v", err)
	}
	if answer.Text != "correct live" {
		t.Errorf("GetAnswer() text = %q, want %q", answer.Text, "correct live")
	}
	if elapsed < 100*time.Millisecond {
		t.Errorf("GetAnswer() returned after %v, want a suspend of about 150ms", elapsed)
	}
	if elapsed > 2*time.Second {
		t.Errorf("GetAnswer() took %v, suspend should end at reveal time", elapsed)
	}
}

func TestGetAnswerSuspendHonorsCancellation(t *testing.T) {
	now := alignedTime(0)
	clk := clock.NewFixed(now)

	cache := newFakeCache()
	entry, err := models.NewQueueEntry(newQuestion("live"), now.Add(-time.Second), now.Add(time.Minute), random.NewSeeded(7))
	if err != nil {
		t.Fatalf("failed to build entry: %v", err)
	}
	cache.entries[entry.ID] = entry

	service := newService(cache, &fakeStore{}, &fakeSource{}, clk)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = service.GetAnswer(ctx, entry.ID)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("GetAnswer() error = %v, want context.DeadlineExceeded", err)
	}
}
