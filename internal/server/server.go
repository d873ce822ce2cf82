/*
Copyright (C) 2026 Lorekeep Authors

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/lorekeep/lorekeep/internal/api"
	"github.com/lorekeep/lorekeep/internal/cache"
	"github.com/lorekeep/lorekeep/internal/clock"
	"github.com/lorekeep/lorekeep/internal/config"
	"github.com/lorekeep/lorekeep/internal/db"
	"github.com/lorekeep/lorekeep/internal/events"
	"github.com/lorekeep/lorekeep/internal/leadership"
	"github.com/lorekeep/lorekeep/internal/queue"
	"github.com/lorekeep/lorekeep/internal/random"
	"github.com/lorekeep/lorekeep/internal/refresher"
	"github.com/lorekeep/lorekeep/internal/store"
	"github.com/lorekeep/lorekeep/internal/telemetry"
)

// Server bundles the HTTP surface and supporting services.
type Server struct {
	cfg           *config.Config
	logger        zerolog.Logger
	router        chi.Router
	httpServer    *http.Server
	metricsServer *http.Server
	closers       []func() error

	db          *gorm.DB
	cache       *cache.Cache
	bus         *events.Bus
	queue       *queue.Service
	refresher   *refresher.Loop
	leaderAware *refresher.LeaderAware
	api         *api.API

	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// New constructs the server and wires dependencies.
func New(cfg *config.Config, logger zerolog.Logger) (*Server, error) {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(telemetry.TracingMiddleware("lorekeep-api"))
	router.Use(telemetry.MetricsMiddleware)
	router.Use(middleware.Timeout(60 * time.Second))

	srv := &Server{
		cfg:    cfg,
		logger: logger,
		router: router,
		bus:    events.NewBus(),
	}

	if err := srv.initDependencies(); err != nil {
		srv.runClosers()
		return nil, err
	}

	srv.configureRoutes()
	srv.startBackgroundWorkers()

	srv.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.HTTPBind, cfg.HTTPPort),
		Handler:           srv.router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", telemetry.Handler())
	srv.metricsServer = &http.Server{
		Addr:              cfg.MetricsBind,
		Handler:           metricsMux,
		ReadHeaderTimeout: 15 * time.Second,
	}

	return srv, nil
}

func (s *Server) initDependencies() error {
	database, err := db.Connect(s.cfg)
	if err != nil {
		return err
	}
	if err := db.RegisterCallbacks(database); err != nil {
		return err
	}
	if err := db.Migrate(database); err != nil {
		return err
	}
	s.db = database
	s.DeferClose(func() error { return db.Close(database) })

	cacheCfg := cache.DefaultConfig()
	cacheCfg.RedisAddr = s.cfg.RedisAddr
	cacheCfg.RedisPassword = s.cfg.RedisPassword
	cacheCfg.RedisDB = s.cfg.RedisDB
	queueCache, err := cache.New(cacheCfg, s.logger)
	if err != nil {
		return fmt.Errorf("initialize queue cache: %w", err)
	}
	s.cache = queueCache
	s.DeferClose(func() error { return s.cache.Close() })

	chooser := random.New()
	s.queue = queue.New(
		s.cache,
		store.NewQueueStore(database, s.logger),
		store.NewQuestionStore(database, s.logger),
		chooser,
		clock.System{},
		s.bus,
		s.cfg.QuestionDuration,
		s.cfg.AnswerDuration,
		s.logger,
	)

	s.refresher = refresher.New(s.queue, s.cfg.PreloadedQuestionCount, s.cfg.RefreshInterval, s.logger)

	if s.cfg.LeaderElectionEnabled {
		election, err := leadership.New(leadership.Config{
			RedisAddr:     s.cfg.RedisAddr,
			RedisPassword: s.cfg.RedisPassword,
			RedisDB:       s.cfg.RedisDB,
			InstanceID:    s.cfg.InstanceID,
		}, s.logger)
		if err != nil {
			return fmt.Errorf("create leader election: %w", err)
		}
		s.leaderAware = refresher.NewLeaderAware(s.refresher, election, s.bus, s.logger)
		s.DeferClose(func() error { return s.leaderAware.Stop() })
		s.logger.Info().Str("redis_addr", s.cfg.RedisAddr).
			Msg("leader election enabled for refresher")
	}

	s.api = api.New(s.queue, chooser, s.cfg.PreloadedQuestionCount, s.logger)
	return nil
}

func (s *Server) configureRoutes() {
	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)

		response := `{"status":"ok"`
		if s.leaderAware != nil {
			if s.leaderAware.IsLeader() {
				response += `,"leader":true`
			} else {
				response += `,"leader":false`
			}
		}
		response += `}`
		_, _ = w.Write([]byte(response))
	})

	s.api.Routes(s.router)
}

func (s *Server) startBackgroundWorkers() {
	ctx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel

	if s.leaderAware != nil {
		s.leaderAware.Start(ctx)
	} else {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			if err := s.refresher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error().Err(err).Msg("refresher exited")
			}
		}()
	}

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		s.runEventLogger(ctx)
	}()
}

// runEventLogger surfaces queue lifecycle events in the debug log.
func (s *Server) runEventLogger(ctx context.Context) {
	refreshed := s.bus.Subscribe(events.EventQueueRefreshed)
	conflicts := s.bus.Subscribe(events.EventEntryConflict)
	invalidated := s.bus.Subscribe(events.EventQueueInvalidated)
	elected := s.bus.Subscribe(events.EventLeaderElected)
	lost := s.bus.Subscribe(events.EventLeaderLost)
	defer func() {
		s.bus.Unsubscribe(events.EventQueueRefreshed, refreshed)
		s.bus.Unsubscribe(events.EventEntryConflict, conflicts)
		s.bus.Unsubscribe(events.EventQueueInvalidated, invalidated)
		s.bus.Unsubscribe(events.EventLeaderElected, elected)
		s.bus.Unsubscribe(events.EventLeaderLost, lost)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case payload := <-refreshed:
			s.logger.Debug().Interface("payload", payload).Msg("queue refreshed")
		case payload := <-conflicts:
			s.logger.Debug().Interface("payload", payload).Msg("queue entry lost slot race")
		case payload := <-invalidated:
			s.logger.Warn().Interface("payload", payload).Msg("queue cache invalidated")
		case payload := <-elected:
			s.logger.Info().Interface("payload", payload).Msg("leadership gained")
		case payload := <-lost:
			s.logger.Info().Interface("payload", payload).Msg("leadership lost")
		}
	}
}

// Start serves HTTP and metrics until Shutdown is called. It blocks on
// the main listener.
func (s *Server) Start() error {
	go func() {
		s.logger.Info().Str("addr", s.metricsServer.Addr).Msg("metrics listener started")
		if err := s.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("metrics listener failed")
		}
	}()

	s.logger.Info().Str("addr", s.httpServer.Addr).Msg("http listener started")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains the listeners, stops background workers, and releases
// resources.
func (s *Server) Shutdown(ctx context.Context) error {
	var firstErr error
	if err := s.httpServer.Shutdown(ctx); err != nil {
		firstErr = err
	}
	if err := s.metricsServer.Shutdown(ctx); err != nil && firstErr == nil {
		firstErr = err
	}

	if s.bgCancel != nil {
		s.bgCancel()
		s.bgWG.Wait()
		s.bgCancel = nil
	}

	if err := s.runClosers(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// DeferClose registers a cleanup hook run during Shutdown in reverse
// registration order.
func (s *Server) DeferClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

func (s *Server) runClosers() error {
	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			s.logger.Error().Err(err).Msg("cleanup hook failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	s.closers = nil
	return firstErr
}

// Queue exposes the coordinator for CLI subcommands.
func (s *Server) Queue() *queue.Service {
	return s.queue
}

// DB exposes the database handle for CLI subcommands.
func (s *Server) DB() *gorm.DB {
	return s.db
}
