/*
Copyright (C) 2026 Lorekeep Authors

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/lorekeep/lorekeep/internal/random"
)

func testQuestion(t *testing.T, incorrectCount int) Question {
	t.Helper()

	q := Question{
		ID:   uuid.NewString(),
		Key:  "test-question",
		Text: "What is kept in the lore vault?",
		Type: QuestionTypeLore,
	}
	q.Answers = append(q.Answers, Answer{
		ID:         uuid.NewString(),
		QuestionID: q.ID,
		Text:       "the correct answer",
		Correct:    true,
	})
	for i := 0; i < incorrectCount; i++ {
		q.Answers = append(q.Answers, Answer{
			ID:         uuid.NewString(),
			QuestionID: q.ID,
			Text:       "a wrong answer",
		})
	}
	return q
}

func TestNewQueueEntry(t *testing.T) {
	chooser := random.NewSeeded(1)
	question := testQuestion(t, 6)
	start := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	end := start.Add(30 * time.Second)

	entry, err := NewQueueEntry(question, start, end, chooser)
	if err != nil {
		t.Fatalf("NewQueueEntry() error = %v", err)
	}

	if entry.ID == "" {
		t.Error("entry ID is empty")
	}
	if entry.QuestionID != question.ID {
		t.Errorf("QuestionID = %s, want %s", entry.QuestionID, question.ID)
	}
	if len(entry.IncorrectAnswerIDs) != IncorrectAnswerCount {
		t.Fatalf("chose %d incorrect answers, want %d", len(entry.IncorrectAnswerIDs), IncorrectAnswerCount)
	}

	correct := entry.CorrectAnswer()
	if correct == nil {
		t.Fatal("CorrectAnswer() = nil")
	}
	seen := map[string]bool{}
	for _, id := range entry.IncorrectAnswerIDs {
		if id == correct.ID {
			t.Error("incorrect answer set contains the correct answer")
		}
		if seen[id] {
			t.Errorf("incorrect answer %s chosen twice", id)
		}
		seen[id] = true
	}

	if got := len(entry.AllAnswers()); got != IncorrectAnswerCount+1 {
		t.Errorf("AllAnswers() returned %d answers, want %d", got, IncorrectAnswerCount+1)
	}
}

func TestNewQueueEntryRejectsThinPool(t *testing.T) {
	chooser := random.NewSeeded(1)
	question := testQuestion(t, IncorrectAnswerCount-1)
	start := time.Now().UTC()

	if _, err := NewQueueEntry(question, start, start.Add(time.Minute), chooser); err == nil {
		t.Error("expected error for question with too few incorrect answers")
	}
}

func TestNewQueueEntryRejectsInvertedWindow(t *testing.T) {
	chooser := random.NewSeeded(1)
	question := testQuestion(t, 5)
	start := time.Now().UTC()

	if _, err := NewQueueEntry(question, start, start, chooser); err == nil {
		t.Error("expected error for zero-length window")
	}
	if _, err := NewQueueEntry(question, start, start.Add(-time.Second), chooser); err == nil {
		t.Error("expected error for inverted window")
	}
}

func TestNewQueueEntryRejectsMissingCorrectAnswer(t *testing.T) {
	chooser := random.NewSeeded(1)
	question := testQuestion(t, 5)
	for i := range question.Answers {
		question.Answers[i].Correct = false
	}
	start := time.Now().UTC()

	if _, err := NewQueueEntry(question, start, start.Add(time.Minute), chooser); err == nil {
		t.Error("expected error for question without a correct answer")
	}
}

func TestOverlapsWindow(t *testing.T) {
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	entry := QueueEntry{StartsAt: base, EndsAt: base.Add(40 * time.Second)}

	tests := []struct {
		name  string
		start time.Time
		end   time.Time
		want  bool
	}{
		{"identical window", base, base.Add(40 * time.Second), true},
		{"candidate starts inside", base.Add(10 * time.Second), base.Add(50 * time.Second), true},
		{"candidate ends inside", base.Add(-10 * time.Second), base.Add(10 * time.Second), true},
		{"candidate abuts before", base.Add(-40 * time.Second), base, false},
		{"candidate abuts after", base.Add(40 * time.Second), base.Add(80 * time.Second), false},
		{"candidate well before", base.Add(-time.Hour), base.Add(-30 * time.Minute), false},
		{"candidate well after", base.Add(time.Hour), base.Add(2 * time.Hour), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := entry.OverlapsWindow(tt.start, tt.end); got != tt.want {
				t.Errorf("OverlapsWindow(%v, %v) = %v, want %v", tt.start, tt.end, got, tt.want)
			}
		})
	}
}

func TestOverlapsAny(t *testing.T) {
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	existing := []QueueEntry{
		{StartsAt: base, EndsAt: base.Add(40 * time.Second)},
		{StartsAt: base.Add(40 * time.Second), EndsAt: base.Add(80 * time.Second)},
	}

	clash := QueueEntry{StartsAt: base.Add(20 * time.Second), EndsAt: base.Add(60 * time.Second)}
	if !OverlapsAny(clash, existing) {
		t.Error("OverlapsAny() = false for overlapping candidate")
	}

	clean := QueueEntry{StartsAt: base.Add(80 * time.Second), EndsAt: base.Add(120 * time.Second)}
	if OverlapsAny(clean, existing) {
		t.Error("OverlapsAny() = true for adjacent candidate")
	}
}

func TestIncorrectAnswersStableAcrossViews(t *testing.T) {
	chooser := random.NewSeeded(99)
	question := testQuestion(t, 8)
	start := time.Now().UTC()

	entry, err := NewQueueEntry(question, start, start.Add(time.Minute), chooser)
	if err != nil {
		t.Fatalf("NewQueueEntry() error = %v", err)
	}

	first := entry.IncorrectAnswers()
	second := entry.IncorrectAnswers()
	if len(first) != len(second) {
		t.Fatalf("answer set size changed between views: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].ID != second[i].ID {
			t.Errorf("answer %d changed between views: %s vs %s", i, first[i].ID, second[i].ID)
		}
	}
}
