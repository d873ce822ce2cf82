/*
Copyright (C) 2026 Lorekeep Authors

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package store

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/lorekeep/lorekeep/internal/models"
)

// QuestionStore reads question content. The queue core never writes
// questions; content arrives through seeding or an external pipeline.
type QuestionStore struct {
	db     *gorm.DB
	logger zerolog.Logger
}

// NewQuestionStore creates a question store backed by the given database.
func NewQuestionStore(database *gorm.DB, logger zerolog.Logger) *QuestionStore {
	return &QuestionStore{
		db:     database,
		logger: logger.With().Str("component", "question_store").Logger(),
	}
}

// RandomQuestions returns up to count questions in random order with
// their answer pools preloaded. Filtering out already-queued questions is
// the caller's job.
func (s *QuestionStore) RandomQuestions(ctx context.Context, count int) ([]models.Question, error) {
	if count <= 0 {
		return nil, nil
	}

	var questions []models.Question
	err := s.db.WithContext(ctx).
		Order(s.randomOrder()).
		Limit(count).
		Preload("Answers").
		Find(&questions).Error
	if err != nil {
		return nil, fmt.Errorf("load random questions: %w", err)
	}
	return questions, nil
}

// Count returns the number of stored questions.
func (s *QuestionStore) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Question{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("count questions: %w", err)
	}
	return count, nil
}

func (s *QuestionStore) randomOrder() string {
	if s.db.Dialector.Name() == "mysql" {
		return "RAND()"
	}
	return "RANDOM()"
}
