/*
Copyright (C) 2026 Lorekeep Authors

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lorekeep/lorekeep/internal/models"
	"github.com/lorekeep/lorekeep/internal/queue"
	"github.com/lorekeep/lorekeep/internal/random"
)

// AnswerOption is one selectable choice. Which option is correct is
// deliberately absent from the shape.
type AnswerOption struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// QuestionDTO is the public question payload for one queue entry.
type QuestionDTO struct {
	ID       string              `json:"id"`
	Key      string              `json:"key"`
	Text     string              `json:"text"`
	Type     models.QuestionType `json:"type"`
	ImageURL string              `json:"image_url,omitempty"`
	StartsAt time.Time           `json:"starts_at"`
	EndsAt   time.Time           `json:"ends_at"`
	Answers  []AnswerOption      `json:"answers"`
}

// AnswerDTO is the revealed correct answer.
type AnswerDTO struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// handleQuestions returns the upcoming question rounds.
func (a *API) handleQuestions(w http.ResponseWriter, r *http.Request) {
	entries, err := a.queue.GetQueue(r.Context(), a.preload)
	if err != nil {
		a.logger.Error().Err(err).Msg("failed to load question queue")
		writeError(w, http.StatusInternalServerError, "queue_unavailable")
		return
	}

	payload := make([]QuestionDTO, 0, len(entries))
	for i := range entries {
		payload = append(payload, a.toDTO(&entries[i]))
	}
	writeJSON(w, http.StatusOK, payload)
}

// handleAnswer resolves a round's correct answer, suspending while the
// round is live. Both unknown IDs and not-yet-started rounds are 404s
// with distinct codes, so clients cannot probe for future answers.
func (a *API) handleAnswer(w http.ResponseWriter, r *http.Request) {
	entryID := chi.URLParam(r, "id")

	answer, err := a.queue.GetAnswer(r.Context(), entryID)
	switch {
	case errors.Is(err, queue.ErrNotFound):
		writeError(w, http.StatusNotFound, "answer_not_found")
		return
	case errors.Is(err, queue.ErrNotAvailableYet):
		writeError(w, http.StatusNotFound, "answer_not_available_yet")
		return
	case err != nil:
		// Cancellation while suspended lands here. The client has
		// usually gone away, but answer with a timeout status anyway.
		a.logger.Debug().Err(err).Str("entry_id", entryID).Msg("answer request aborted")
		writeError(w, http.StatusGatewayTimeout, "answer_request_aborted")
		return
	}

	writeJSON(w, http.StatusOK, AnswerDTO{ID: answer.ID, Text: answer.Text})
}

// toDTO maps an entry to its public shape, shuffling the answer options
// per request so ordering never leaks which one is correct.
func (a *API) toDTO(entry *models.QueueEntry) QuestionDTO {
	options := entry.AllAnswers()
	random.Shuffle(a.chooser, options)

	answers := make([]AnswerOption, 0, len(options))
	for _, option := range options {
		answers = append(answers, AnswerOption{ID: option.ID, Text: option.Text})
	}

	return QuestionDTO{
		ID:       entry.ID,
		Key:      entry.Question.Key,
		Text:     entry.Question.Text,
		Type:     entry.Question.Type,
		ImageURL: entry.Question.ImageURL,
		StartsAt: entry.StartsAt,
		EndsAt:   entry.EndsAt,
		Answers:  answers,
	}
}
