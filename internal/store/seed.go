/*
Copyright (C) 2026 Lorekeep Authors

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lorekeep/lorekeep/internal/models"
)

// FixtureQuestion is the JSON shape of one seeded question.
type FixtureQuestion struct {
	Key      string              `json:"key"`
	Text     string              `json:"text"`
	Type     models.QuestionType `json:"type"`
	ImageURL string              `json:"image_url,omitempty"`
	Answers  []FixtureAnswer     `json:"answers"`
}

// FixtureAnswer is the JSON shape of one seeded answer option.
type FixtureAnswer struct {
	Text    string `json:"text"`
	Correct bool   `json:"correct,omitempty"`
}

// SeedFromFile loads a question fixture file and inserts any questions
// whose key is not already present. Returns the number of questions
// inserted.
func (s *QuestionStore) SeedFromFile(ctx context.Context, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read fixture file: %w", err)
	}

	var fixtures []FixtureQuestion
	if err := json.Unmarshal(data, &fixtures); err != nil {
		return 0, fmt.Errorf("parse fixture file: %w", err)
	}

	inserted := 0
	for _, fixture := range fixtures {
		ok, err := s.seedOne(ctx, fixture)
		if err != nil {
			return inserted, err
		}
		if ok {
			inserted++
		}
	}

	s.logger.Info().Int("inserted", inserted).Int("total", len(fixtures)).Msg("question seed complete")
	return inserted, nil
}

func (s *QuestionStore) seedOne(ctx context.Context, fixture FixtureQuestion) (bool, error) {
	if fixture.Key == "" || fixture.Text == "" {
		return false, fmt.Errorf("fixture question missing key or text")
	}

	correct := 0
	for _, a := range fixture.Answers {
		if a.Correct {
			correct++
		}
	}
	if correct != 1 {
		return false, fmt.Errorf("fixture question %q must have exactly one correct answer, has %d", fixture.Key, correct)
	}
	if len(fixture.Answers)-1 < models.IncorrectAnswerCount {
		return false, fmt.Errorf("fixture question %q needs at least %d incorrect answers", fixture.Key, models.IncorrectAnswerCount)
	}

	var existing int64
	err := s.db.WithContext(ctx).
		Model(&models.Question{}).
		Where("key = ?", fixture.Key).
		Count(&existing).Error
	if err != nil {
		return false, fmt.Errorf("check existing question %q: %w", fixture.Key, err)
	}
	if existing > 0 {
		return false, nil
	}

	question := models.Question{
		ID:       uuid.NewString(),
		Key:      fixture.Key,
		Text:     fixture.Text,
		Type:     fixture.Type,
		ImageURL: fixture.ImageURL,
	}
	for _, a := range fixture.Answers {
		question.Answers = append(question.Answers, models.Answer{
			ID:         uuid.NewString(),
			QuestionID: question.ID,
			Text:       a.Text,
			Correct:    a.Correct,
		})
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&question).Error
	})
	if err != nil {
		return false, fmt.Errorf("insert question %q: %w", fixture.Key, err)
	}
	return true, nil
}
