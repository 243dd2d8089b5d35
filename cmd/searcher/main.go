// Command searcher serves keyword search over the collection indexes.
//
// It hot-swaps index snapshots as new commits land, optionally caches result
// pages in Redis, reloads on index.complete events from Kafka, and exposes
// search analytics, health probes and Prometheus metrics.
//
// Usage:
//
//	go run ./cmd/searcher [-config configs/development.yaml]
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

	"github.com/google/uuid"
	"github.com/ippousyuga/search-lucene/internal/analytics"
	"github.com/ippousyuga/search-lucene/internal/collection"
	"github.com/ippousyuga/search-lucene/internal/events"
	"github.com/ippousyuga/search-lucene/internal/searcher"
	"github.com/ippousyuga/search-lucene/internal/searcher/cache"
	"github.com/ippousyuga/search-lucene/internal/searcher/handler"
	"github.com/ippousyuga/search-lucene/pkg/config"
	apperrors "github.com/ippousyuga/search-lucene/pkg/errors"
	"github.com/ippousyuga/search-lucene/pkg/health"
	"github.com/ippousyuga/search-lucene/pkg/kafka"
	"github.com/ippousyuga/search-lucene/pkg/logger"
	"github.com/ippousyuga/search-lucene/pkg/metrics"
	"github.com/ippousyuga/search-lucene/pkg/middleware"
	pkgredis "github.com/ippousyuga/search-lucene/pkg/redis"
	"github.com/ippousyuga/search-lucene/pkg/tracing"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging)
	slog.Info("starting search service", "port", cfg.Server.Port, "collections", len(cfg.Collections))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("search service failed", "error", err)
		os.Exit(1)
	}
	slog.Info("search service stopped")
}

func run(ctx context.Context, cfg *config.Config) error {
	registry, err := collection.NewRegistry(cfg.Collections)
	if err != nil {
		return err
	}
	m := metrics.New(prometheus.DefaultRegisterer)
	checker := health.NewChecker()

	opts, err := searcher.OptionsFromConfig(cfg.Search)
	if err != nil {
		return err
	}
	opts.Tracer = tracing.NewTracer(cfg.Tracing.Enabled, cfg.Tracing.SampleRate)

	if cfg.Redis.Enabled {
		redisClient, err := pkgredis.NewClient(ctx, cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, search caching disabled", "error", err)
		} else {
			defer redisClient.Close()
			opts.Cache = cache.New[searcher.Page](redisClient, cfg.Redis.CacheTTL)
			opts.Cache.OnLookup = func(hit bool) {
				result := "miss"
				if hit {
					result = "hit"
				}
				m.CacheLookupsTotal.WithLabelValues(result).Inc()
			}
			checker.Register("redis", health.PingCheck(redisClient, false))
			slog.Info("search cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
		}
	}

	agg := analytics.NewAggregator()
	var tracker analytics.Tracker = agg
	if cfg.Kafka.Enabled {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.AnalyticsEvents)
		defer producer.Close()
		collector := analytics.NewCollector(producer, 100, 5*time.Second)
		collector.Start(ctx)
		defer collector.Close()
		tracker = fanOut{agg, collector}
	}
	opts.OnSearch = func(ctx context.Context, o searcher.Outcome) {
		observeSearch(m, registry, o)
		tracker.Track(analytics.NewSearchEvent(o, logger.RequestID(ctx)))
	}
	opts.OnSwap = func(name string, generation int64, docs int) {
		m.IndexGeneration.WithLabelValues(name).Set(float64(generation))
		m.IndexDocCount.WithLabelValues(name).Set(float64(docs))
	}

	svc := searcher.New(registry, opts)
	if err := svc.Open(ctx); err != nil {
		return err
	}
	defer svc.Close()
	go func() {
		if err := svc.Watch(ctx); err != nil && ctx.Err() == nil {
			slog.Error("index watcher stopped", "error", err)
		}
	}()

	if cfg.Kafka.Enabled {
		// Every searcher must see every commit, so each joins its own group.
		kcfg := cfg.Kafka
		kcfg.ConsumerGroup = fmt.Sprintf("%s-searcher-%s", cfg.Kafka.ConsumerGroup, uuid.NewString())
		c := kafka.NewConsumer(kcfg, cfg.Kafka.Topics.IndexComplete, reloadOnCommit(svc))
		go func() {
			if err := c.Start(ctx); err != nil {
				slog.Error("index.complete consumer stopped", "error", err)
			}
		}()
	}

	checker.Register("indexes", indexCheck(svc))

	limiter := middleware.NewLimiter(cfg.Search.RateLimit, cfg.Search.RateBurst)
	go limiter.Run(ctx)

	mux := http.NewServeMux()
	handler.New(svc, cfg.Search.DefaultLimit, cfg.Search.MaxResults).Register(mux)
	analytics.NewHandler(agg).Register(mux)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())
	mux.Handle("GET /metrics", m.Handler())

	mws := []func(http.Handler) http.Handler{middleware.RequestID}
	if len(cfg.Server.AllowOrigins) > 0 {
		mws = append(mws, middleware.CORS(cfg.Server.AllowOrigins, 86400))
	}
	mws = append(mws,
		middleware.RateLimit(limiter, m),
		middleware.Timeout(cfg.Search.Timeout),
		middleware.Metrics(m),
	)
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      middleware.Chain(mux, mws...),
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

	slog.Info("search service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type fanOut []analytics.Tracker

func (f fanOut) Track(event any) {
	for _, t := range f {
		t.Track(event)
	}
}

// observeSearch records o. Unknown collection names share one label so
// callers cannot grow the series set.
func observeSearch(m *metrics.Metrics, registry *collection.Registry, o searcher.Outcome) {
	name := "unknown"
	if c, err := registry.Get(o.Collection); err == nil {
		name = c.Name
	}
	outcome := "hit"
	switch {
	case errors.Is(o.Err, apperrors.ErrParse):
		outcome = "parse_error"
	case o.Err != nil:
		outcome = "error"
	case o.TotalHits == 0:
		outcome = "zero_result"
	}
	m.SearchQueriesTotal.WithLabelValues(name, outcome).Inc()
	if o.Err != nil {
		return
	}
	cacheStatus := "miss"
	if o.Cached {
		cacheStatus = "hit"
	}
	m.SearchLatency.WithLabelValues(name, cacheStatus).Observe(o.Latency.Seconds())
	m.SearchResultsCount.WithLabelValues(name).Observe(float64(o.TotalHits))
}

// reloadOnCommit swaps in the announced commit and drops cached pages of
// the collection.
func reloadOnCommit(svc *searcher.Service) kafka.MessageHandler {
	return func(ctx context.Context, _ []byte, value []byte) error {
		msg, err := kafka.DecodeJSON[events.IndexComplete](value)
		if err != nil {
			return err
		}
		swapped, err := svc.Reload(ctx, msg.Collection)
		if errors.Is(err, apperrors.ErrNotFound) {
			return fmt.Errorf("%w: %w", kafka.ErrPoison, err)
		}
		if err != nil {
			return err
		}
		if n, err := svc.InvalidateCache(ctx, msg.Collection); err != nil {
			slog.Warn("cache invalidation failed", "collection", msg.Collection, "error", err)
		} else {
			slog.Info("index commit applied",
				"collection", msg.Collection,
				"generation", msg.Generation,
				"swapped", swapped,
				"cache_keys_deleted", n,
			)
		}
		return nil
	}
}

// indexCheck reports degraded while any collection has no committed index.
func indexCheck(svc *searcher.Service) health.Check {
	return func(ctx context.Context) health.ComponentHealth {
		var missing []string
		for _, name := range svc.Collections() {
			if _, err := svc.Stats(name); err != nil {
				missing = append(missing, name)
			}
		}
		if len(missing) > 0 {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: fmt.Sprintf("not built: %v", missing)}
		}
		return health.ComponentHealth{Status: health.StatusUp}
	}
}
