// Command analytics starts the standalone analytics aggregation service.
//
// It consumes search and index-build events from Kafka, aggregates them in
// memory (query counts, latency percentiles, cache hit rate, zero-result
// queries per collection, recent builds), snapshots the totals into the
// records database and exposes GET /api/v1/analytics for dashboards.
//
// Usage:
//
//	go run ./cmd/analytics [-config configs/development.yaml]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ippousyuga/search-lucene/internal/analytics"
	"github.com/ippousyuga/search-lucene/internal/analytics/aggregator"
	"github.com/ippousyuga/search-lucene/internal/records"
	"github.com/ippousyuga/search-lucene/pkg/config"
	"github.com/ippousyuga/search-lucene/pkg/health"
	"github.com/ippousyuga/search-lucene/pkg/kafka"
	"github.com/ippousyuga/search-lucene/pkg/logger"
	"github.com/ippousyuga/search-lucene/pkg/middleware"
)

const snapshotInterval = time.Minute

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging)
	if !cfg.Kafka.Enabled {
		slog.Error("analytics service needs kafka.enabled")
		os.Exit(1)
	}
	slog.Info("starting analytics service", "port", cfg.Server.Port)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	agg := analytics.NewAggregator()
	checker := health.NewChecker()

	db, err := records.Open(ctx, cfg)
	if err != nil {
		slog.Warn("records database unavailable, analytics will not persist", "error", err)
	} else {
		defer db.Close()
		checker.Register("database", health.PingCheck(db, false))
		store, err := aggregator.NewStore(ctx, db)
		if err != nil {
			slog.Error("failed to prepare analytics store", "error", err)
			os.Exit(1)
		}
		if latest, err := store.LatestSnapshot(ctx); err != nil {
			slog.Warn("failed to load analytics snapshot", "error", err)
		} else if latest != nil {
			agg.Restore(*latest)
			slog.Info("analytics restored", "total_searches", latest.TotalSearches)
		}
		go store.Run(ctx, agg, snapshotInterval)
	}

	consumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.AnalyticsEvents, analytics.HandleEvent(agg))
	go func() {
		if err := consumer.Start(ctx); err != nil {
			slog.Error("analytics consumer error", "error", err)
		}
	}()
	slog.Info("analytics aggregator started", "topic", cfg.Kafka.Topics.AnalyticsEvents)

	mux := http.NewServeMux()
	analytics.NewHandler(agg).Register(mux)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      middleware.RequestID(mux),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("analytics service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("analytics service stopped")
}
