// Copyright (C) 2026 Engram Labs (dev@engramlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package worker assembles the observation worker: store, queue,
// session pipelines, metrics, live stream, vector mirror, and the HTTP
// surface that fronts them.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/sync/errgroup"

	"github.com/engramlabs/engram/pkg/pubsub"
	"github.com/engramlabs/engram/services/worker/analyzer"
	"github.com/engramlabs/engram/services/worker/events"
	"github.com/engramlabs/engram/services/worker/handlers"
	"github.com/engramlabs/engram/services/worker/metrics"
	"github.com/engramlabs/engram/services/worker/observability"
	"github.com/engramlabs/engram/services/worker/perf"
	"github.com/engramlabs/engram/services/worker/routes"
	"github.com/engramlabs/engram/services/worker/session"
	"github.com/engramlabs/engram/services/worker/store"
	"github.com/engramlabs/engram/services/worker/vector"
)

// Defaults for Config's zero values.
const (
	DefaultPort            = 37777
	DefaultAnalyzerCommand = "claude"

	// shutdownGrace bounds each stage of the teardown sequence.
	shutdownGrace = 5 * time.Second
)

// Config is the daemon's full configuration, normally read from the
// environment by cmd/engramd.
type Config struct {
	// Port is the loopback TCP port for the HTTP surface.
	Port int

	// DBPath locates the SQLite file. Required.
	DBPath string

	// AnalyzerCommand is the analyzer binary. Defaults to "claude".
	AnalyzerCommand string

	// AnalyzerModel, when set, is passed to the analyzer as --model.
	AnalyzerModel string

	// WeaviateScheme and WeaviateHost locate the vector index. An
	// empty host disables mirroring and /api/search.
	WeaviateScheme string
	WeaviateHost   string

	// WeaviateVectorizer selects the vectorizer module for created
	// classes. Empty means none: search falls back to BM25 ranking.
	WeaviateVectorizer string

	// KeepProcessed is how many processed queue rows are retained for
	// inspection, across all sessions.
	KeepProcessed int

	// Tracing enables the OTLP gin middleware. The exporter itself is
	// installed by the entrypoint.
	Tracing bool
}

func (c Config) withDefaults() Config {
	if c.Port <= 0 {
		c.Port = DefaultPort
	}
	if c.AnalyzerCommand == "" {
		c.AnalyzerCommand = DefaultAnalyzerCommand
	}
	if c.KeepProcessed <= 0 {
		c.KeepProcessed = session.DefaultKeepProcessed
	}
	return c
}

// Service is the assembled worker. Build with New, drive with Run.
type Service struct {
	cfg Config
}

// New validates cfg and returns an un-started Service.
func New(cfg Config) (*Service, error) {
	cfg = cfg.withDefaults()
	if cfg.DBPath == "" {
		return nil, errors.New("worker: DBPath is required")
	}
	if cfg.Port > 65535 {
		return nil, fmt.Errorf("worker: invalid port %d", cfg.Port)
	}
	return &Service{cfg: cfg}, nil
}

// Run assembles every component, serves until ctx is cancelled, then
// tears the stack down in dependency order. It blocks for the life of
// the daemon.
func (s *Service) Run(ctx context.Context) error {
	st, err := store.Open(store.Config{Path: s.cfg.DBPath})
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if cErr := st.Close(); cErr != nil {
			slog.Warn("close store", "error", cErr)
		}
	}()

	// The vector index is optional equipment: a dead Weaviate demotes
	// the worker to store-only instead of keeping it from starting.
	index, err := vector.Connect(ctx, vector.Config{
		Scheme:     s.cfg.WeaviateScheme,
		Host:       s.cfg.WeaviateHost,
		Vectorizer: s.cfg.WeaviateVectorizer,
	})
	if err != nil {
		slog.Warn("vector index unavailable, running store-only", "error", err)
		index = vector.Disabled()
	}

	broker := pubsub.NewBroker[any]()

	var publisher *events.Publisher
	engine := metrics.NewEngine(st, func(ts metrics.TokenSummary) {
		publisher.PublishTokenUpdate(ts)
	})
	publisher = events.NewPublisher(broker, engine)

	tracker := perf.NewTracker()
	sink := &instrumentedSink{tracker: tracker}

	factory := func(sess *session.ActiveSession) analyzer.Runner {
		return analyzer.NewClient(analyzer.Config{
			Command: s.cfg.AnalyzerCommand,
			Model:   s.cfg.AnalyzerModel,
		})
	}

	manager := session.NewManager(session.ManagerConfig{
		KeepProcessed: s.cfg.KeepProcessed,
	}, st, factory, publisher, sink, index)
	publisher.BindStatus(manager)

	router := s.buildRouter(&handlers.Handlers{
		Store:     st,
		Manager:   manager,
		Engine:    engine,
		Tracker:   tracker,
		Broker:    broker,
		Publisher: publisher,
		Index:     index,
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf("127.0.0.1:%d", s.cfg.Port),
		Handler: router,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("worker listening", "addr", srv.Addr, "db", s.cfg.DBPath,
			"vector", index.Enabled())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("worker shutting down")

		httpCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := srv.Shutdown(httpCtx); err != nil {
			slog.Warn("http shutdown", "error", err)
		}

		drainCtx, cancelDrain := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancelDrain()
		if err := manager.Shutdown(drainCtx); err != nil {
			slog.Warn("session drain", "error", err)
		}

		broker.Shutdown()

		syncCtx, cancelSync := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancelSync()
		if err := index.Close(syncCtx); err != nil {
			slog.Warn("vector drain", "error", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (s *Service) buildRouter(h *handlers.Handlers) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), routes.RequestLogger())
	if s.cfg.Tracing {
		router.Use(otelgin.Middleware("engram-worker"))
	}
	routes.SetupRoutes(router, h)
	return router
}

// instrumentedSink forwards pipeline samples to the in-memory tracker
// and mirrors them into Prometheus.
type instrumentedSink struct {
	tracker *perf.Tracker
}

func (s *instrumentedSink) RecordProcessing(d time.Duration, observations int, discoveryTokens int64) {
	s.tracker.RecordProcessing(d, observations, discoveryTokens)
	observability.ObserveReplyProcessing(d)
}

func (s *instrumentedSink) RecordQueueDepth(depth, activeSessions int) {
	s.tracker.RecordQueueDepth(depth, activeSessions)
}
