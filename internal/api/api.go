/*
Copyright (C) 2026 Lorekeep Authors

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/lorekeep/lorekeep/internal/models"
	"github.com/lorekeep/lorekeep/internal/random"
)

// QueueService is the slice of the queue coordinator the HTTP layer
// consumes.
type QueueService interface {
	GetQueue(ctx context.Context, desired int) ([]models.QueueEntry, error)
	GetAnswer(ctx context.Context, entryID string) (*models.Answer, error)
}

// API exposes HTTP handlers.
type API struct {
	queue   QueueService
	chooser *random.Chooser
	preload int
	logger  zerolog.Logger
}

// New creates the API handler set.
func New(queue QueueService, chooser *random.Chooser, preload int, logger zerolog.Logger) *API {
	return &API{
		queue:   queue,
		chooser: chooser,
		preload: preload,
		logger:  logger.With().Str("component", "api").Logger(),
	}
}

// Routes mounts the public API under /api/v1.
func (a *API) Routes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/questions", a.handleQuestions)
		r.Get("/questions/{id}/answer", a.handleAnswer)
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
