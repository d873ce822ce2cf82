/*
Copyright (C) 2026 Lorekeep Authors

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/lorekeep/lorekeep/internal/models"
	"github.com/lorekeep/lorekeep/internal/random"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	database, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite db: %v", err)
	}
	if err := database.AutoMigrate(&models.Question{}, &models.Answer{}, &models.QueueEntry{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	return database
}

func createTestQuestion(t *testing.T, database *gorm.DB, key string) models.Question {
	t.Helper()

	question := models.Question{
		ID:   uuid.NewString(),
		Key:  key,
		Text: "Which rune opens the vault?",
		Type: models.QuestionTypeLore,
	}
	question.Answers = append(question.Answers, models.Answer{
		ID: uuid.NewString(), QuestionID: question.ID, Text: "the right one", Correct: true,
	})
	for i := 0; i < 5; i++ {
		question.Answers = append(question.Answers, models.Answer{
			ID: uuid.NewString(), QuestionID: question.ID, Text: "a wrong one",
		})
	}
	if err := database.Create(&question).Error; err != nil {
		t.Fatalf("failed to create question: %v", err)
	}
	return question
}

func buildEntry(t *testing.T, question models.Question, start time.Time, dur time.Duration) models.QueueEntry {
	t.Helper()

	entry, err := models.NewQueueEntry(question, start, start.Add(dur), random.NewSeeded(1))
	if err != nil {
		t.Fatalf("failed to build queue entry: %v", err)
	}
	return entry
}

func TestQueueStoreInsertAndListUpcoming(t *testing.T) {
	database := newTestDB(t)
	queueStore := NewQueueStore(database, zerolog.Nop())
	ctx := context.Background()

	question := createTestQuestion(t, database, "q1")
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	first := buildEntry(t, question, now.Add(40*time.Second), 30*time.Second)
	second := buildEntry(t, question, now.Add(80*time.Second), 30*time.Second)
	past := buildEntry(t, question, now.Add(-time.Hour), 30*time.Second)

	for _, e := range []models.QueueEntry{second, first, past} {
		entry := e
		if err := queueStore.Insert(ctx, &entry); err != nil {
			t.Fatalf("Insert() error = %v", err)
		}
	}

	entries, err := queueStore.ListUpcoming(ctx, now)
	if err != nil {
		t.Fatalf("ListUpcoming() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("ListUpcoming() returned %d entries, want 2", len(entries))
	}
	if entries[0].ID != first.ID || entries[1].ID != second.ID {
		t.Errorf("entries not ordered by start time: got %s, %s", entries[0].ID, entries[1].ID)
	}

	// Question content must ride along for cache materialization.
	if entries[0].Question.ID != question.ID {
		t.Errorf("preloaded question ID = %s, want %s", entries[0].Question.ID, question.ID)
	}
	if len(entries[0].Question.Answers) != 6 {
		t.Errorf("preloaded %d answers, want 6", len(entries[0].Question.Answers))
	}
}

func TestQueueStoreInsertRejectsOverlap(t *testing.T) {
	database := newTestDB(t)
	queueStore := NewQueueStore(database, zerolog.Nop())
	ctx := context.Background()

	question := createTestQuestion(t, database, "q1")
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	settled := buildEntry(t, question, base, 40*time.Second)
	if err := queueStore.Insert(ctx, &settled); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	tests := []struct {
		name    string
		start   time.Time
		dur     time.Duration
		wantErr bool
	}{
		{"identical window", base, 40 * time.Second, true},
		{"starts inside", base.Add(10 * time.Second), 40 * time.Second, true},
		{"ends inside", base.Add(-10 * time.Second), 20 * time.Second, true},
		{"abuts after", base.Add(40 * time.Second), 40 * time.Second, false},
		{"well clear", base.Add(2 * time.Minute), 40 * time.Second, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry := buildEntry(t, question, tt.start, tt.dur)
			err := queueStore.Insert(ctx, &entry)
			if tt.wantErr {
				if !errors.Is(err, ErrOverlap) {
					t.Errorf("Insert() error = %v, want ErrOverlap", err)
				}
				return
			}
			if err != nil {
				t.Errorf("Insert() error = %v, want nil", err)
			}
		})
	}
}

func TestQuestionStoreRandomQuestions(t *testing.T) {
	database := newTestDB(t)
	questionStore := NewQuestionStore(database, zerolog.Nop())
	ctx := context.Background()

	for _, key := range []string{"q1", "q2", "q3"} {
		createTestQuestion(t, database, key)
	}

	questions, err := questionStore.RandomQuestions(ctx, 2)
	if err != nil {
		t.Fatalf("RandomQuestions() error = %v", err)
	}
	if len(questions) != 2 {
		t.Fatalf("RandomQuestions(2) returned %d questions", len(questions))
	}
	for _, q := range questions {
		if len(q.Answers) == 0 {
			t.Errorf("question %s returned without answers", q.Key)
		}
	}

	// Asking for more than exist returns everything without error.
	questions, err = questionStore.RandomQuestions(ctx, 10)
	if err != nil {
		t.Fatalf("RandomQuestions() error = %v", err)
	}
	if len(questions) != 3 {
		t.Errorf("RandomQuestions(10) returned %d questions, want 3", len(questions))
	}

	if got, err := questionStore.RandomQuestions(ctx, 0); err != nil || got != nil {
		t.Errorf("RandomQuestions(0) = %v, %v, want nil, nil", got, err)
	}
}

func TestSeedFromFile(t *testing.T) {
	database := newTestDB(t)
	questionStore := NewQuestionStore(database, zerolog.Nop())
	ctx := context.Background()

	fixture := `[
		{
			"key": "vault-rune",
			"text": "Which rune opens the vault?",
			"type": "lore",
			"answers": [
				{"text": "Ansuz", "correct": true},
				{"text": "Fehu"},
				{"text": "Uruz"},
				{"text": "Kenaz"}
			]
		}
	]`

	path := filepath.Join(t.TempDir(), "questions.json")
	if err := os.WriteFile(path, []byte(fixture), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	inserted, err := questionStore.SeedFromFile(ctx, path)
	if err != nil {
		t.Fatalf("SeedFromFile() error = %v", err)
	}
	if inserted != 1 {
		t.Errorf("SeedFromFile() inserted %d, want 1", inserted)
	}

	// Seeding again is a no-op keyed on question key.
	inserted, err = questionStore.SeedFromFile(ctx, path)
	if err != nil {
		t.Fatalf("SeedFromFile() second run error = %v", err)
	}
	if inserted != 0 {
		t.Errorf("SeedFromFile() second run inserted %d, want 0", inserted)
	}

	count, err := questionStore.Count(ctx)
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if count != 1 {
		t.Errorf("Count() = %d, want 1", count)
	}
}
