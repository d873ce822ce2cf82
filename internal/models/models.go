/*
Copyright (C) 2026 Lorekeep Authors

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lorekeep/lorekeep/internal/random"
)

// IncorrectAnswerCount is the number of wrong choices frozen into each
// queue entry at construction time.
const IncorrectAnswerCount = 3

// QuestionType labels how a question's answer was derived. The queue core
// treats it as opaque; it only matters to clients rendering the round.
type QuestionType string

const (
	QuestionTypeLore    QuestionType = "lore"
	QuestionTypeNumeric QuestionType = "numeric"
)

// Question is a trivia question with its full answer pool. The queue core
// treats questions as immutable snapshots owned by the content subsystem.
type Question struct {
	ID        string       `gorm:"type:uuid;primaryKey" json:"id"`
	Key       string       `gorm:"index" json:"key"`
	Text      string       `gorm:"type:text" json:"text"`
	Type      QuestionType `gorm:"type:varchar(32)" json:"type"`
	ImageURL  string       `json:"image_url,omitempty"`
	Answers   []Answer     `gorm:"foreignKey:QuestionID" json:"answers"`
	CreatedAt time.Time    `json:"-"`
	UpdatedAt time.Time    `json:"-"`
}

// CorrectAnswer returns the question's single correct answer, or nil when
// the question is malformed.
func (q *Question) CorrectAnswer() *Answer {
	for i := range q.Answers {
		if q.Answers[i].Correct {
			return &q.Answers[i]
		}
	}
	return nil
}

// IncorrectPool returns every answer flagged incorrect.
func (q *Question) IncorrectPool() []Answer {
	pool := make([]Answer, 0, len(q.Answers))
	for _, a := range q.Answers {
		if !a.Correct {
			pool = append(pool, a)
		}
	}
	return pool
}

// Answer is one option in a question's answer pool. The correct flag
// does marshal here: cached entries round-trip through JSON and must
// keep it. The API layer maps to DTOs that omit it.
type Answer struct {
	ID         string    `gorm:"type:uuid;primaryKey" json:"id"`
	QuestionID string    `gorm:"type:uuid;index" json:"question_id"`
	Text       string    `gorm:"type:text" json:"text"`
	Correct    bool      `json:"correct"`
	CreatedAt  time.Time `json:"-"`
	UpdatedAt  time.Time `json:"-"`
}

// QueueEntry is one scheduled question occurrence: a question pinned to a
// [StartsAt, EndsAt) window with a frozen set of incorrect choices.
// Entries are never mutated after construction; they leave the system
// through cache and store expiry, not deletion.
type QueueEntry struct {
	ID                 string    `gorm:"type:uuid;primaryKey" json:"id"`
	QuestionID         string    `gorm:"type:uuid;index" json:"question_id"`
	StartsAt           time.Time `gorm:"index" json:"starts_at"`
	EndsAt             time.Time `json:"ends_at"`
	IncorrectAnswerIDs []string  `gorm:"serializer:json" json:"incorrect_answer_ids"`
	Question           Question  `gorm:"foreignKey:QuestionID" json:"question"`
	CreatedAt          time.Time `json:"-"`
}

// NewQueueEntry builds a queue entry for question over the given window,
// choosing IncorrectAnswerCount distinct wrong answers from the
// question's pool. The chosen set never changes for the life of the
// entry, so repeated views of the same round show the same options.
func NewQueueEntry(question Question, startsAt, endsAt time.Time, chooser *random.Chooser) (QueueEntry, error) {
	if !endsAt.After(startsAt) {
		return QueueEntry{}, fmt.Errorf("queue entry end %v must be after start %v", endsAt, startsAt)
	}
	if question.CorrectAnswer() == nil {
		return QueueEntry{}, fmt.Errorf("question %s has no correct answer", question.ID)
	}

	pool := question.IncorrectPool()
	if len(pool) < IncorrectAnswerCount {
		return QueueEntry{}, fmt.Errorf(
			"question %s supplies %d incorrect answers but at least %d are required",
			question.ID, len(pool), IncorrectAnswerCount)
	}

	chosen := random.Sample(chooser, pool, IncorrectAnswerCount)
	ids := make([]string, len(chosen))
	for i, a := range chosen {
		ids[i] = a.ID
	}

	return QueueEntry{
		ID:                 uuid.NewString(),
		QuestionID:         question.ID,
		StartsAt:           startsAt.UTC(),
		EndsAt:             endsAt.UTC(),
		IncorrectAnswerIDs: ids,
		Question:           question,
	}, nil
}

// CorrectAnswer returns the entry's correct answer.
func (e *QueueEntry) CorrectAnswer() *Answer {
	return e.Question.CorrectAnswer()
}

// IncorrectAnswers resolves the frozen incorrect-answer IDs against the
// question's pool.
func (e *QueueEntry) IncorrectAnswers() []Answer {
	out := make([]Answer, 0, len(e.IncorrectAnswerIDs))
	for _, id := range e.IncorrectAnswerIDs {
		for _, a := range e.Question.Answers {
			if a.ID == id {
				out = append(out, a)
				break
			}
		}
	}
	return out
}

// AllAnswers returns the frozen incorrect answers plus the correct one.
func (e *QueueEntry) AllAnswers() []Answer {
	all := e.IncorrectAnswers()
	if correct := e.CorrectAnswer(); correct != nil {
		all = append(all, *correct)
	}
	return all
}

// OverlapsWindow reports whether the entry's [StartsAt, EndsAt) interval
// intersects the candidate [start, end) interval.
func (e *QueueEntry) OverlapsWindow(start, end time.Time) bool {
	startsInside := !e.StartsAt.After(start) && e.EndsAt.After(start)
	endsInside := e.StartsAt.Before(end) && !e.EndsAt.Before(end)
	return startsInside || endsInside
}

// OverlapsAny reports whether candidate overlaps any of existing.
func OverlapsAny(candidate QueueEntry, existing []QueueEntry) bool {
	for i := range existing {
		if existing[i].OverlapsWindow(candidate.StartsAt, candidate.EndsAt) {
			return true
		}
	}
	return false
}
