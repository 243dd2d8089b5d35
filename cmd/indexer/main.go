// Command indexer builds the collection indexes from the records database.
//
// With -collection it rebuilds that collection (or "all") once and exits.
// Otherwise it runs as a worker consuming rebuild requests and record-change
// events from Kafka, announcing every commit on the index.complete topic.
//
// Usage:
//
//	go run ./cmd/indexer [-config configs/development.yaml] [-collection Question]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ippousyuga/search-lucene/internal/analytics"
	"github.com/ippousyuga/search-lucene/internal/collection"
	"github.com/ippousyuga/search-lucene/internal/indexer/builder"
	"github.com/ippousyuga/search-lucene/internal/indexer/consumer"
	"github.com/ippousyuga/search-lucene/internal/records"
	"github.com/ippousyuga/search-lucene/pkg/config"
	"github.com/ippousyuga/search-lucene/pkg/kafka"
	"github.com/ippousyuga/search-lucene/pkg/logger"
	"github.com/ippousyuga/search-lucene/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	only := flag.String("collection", "", `rebuild this collection ("all" for every collection) and exit`)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *only); err != nil {
		slog.Error("indexer failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, only string) error {
	registry, err := collection.NewRegistry(cfg.Collections)
	if err != nil {
		return err
	}
	db, err := records.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("opening records database: %w", err)
	}
	defer db.Close()
	sources := func(c collection.Collection) (records.Source, error) {
		return db.Source(c.Table)
	}
	b := builder.New(builder.OptionsFromConfig(cfg.Indexer))

	if only != "" {
		return rebuildOnce(ctx, registry, consumer.New(registry, sources, b, consumer.Options{}), only)
	}
	if !cfg.Kafka.Enabled {
		return fmt.Errorf("worker mode needs kafka.enabled; use -collection for a one-shot build")
	}

	m := metrics.New(prometheus.DefaultRegisterer)
	if cfg.Metrics.Enabled {
		shutdown := m.StartServer(cfg.Metrics.Port)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			shutdown(shutdownCtx)
		}()
	}

	completed := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.IndexComplete)
	defer completed.Close()
	analyticsProducer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.AnalyticsEvents)
	defer analyticsProducer.Close()
	collector := analytics.NewCollector(analyticsProducer, 100, 5*time.Second)
	collector.Start(ctx)
	defer collector.Close()

	worker := consumer.New(registry, sources, b, consumer.Options{
		Completed: completed,
		Tracker:   collector,
		Metrics:   m,
	})

	slog.Info("indexer worker consuming",
		"rebuild_topic", cfg.Kafka.Topics.IndexRebuild,
		"changes_topic", cfg.Kafka.Topics.RecordChanges,
		"group", cfg.Kafka.ConsumerGroup,
	)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.IndexRebuild, worker.HandleRebuild()).Start(ctx)
	})
	g.Go(func() error {
		return kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.RecordChanges, worker.HandleChanges()).Start(ctx)
	})
	err = g.Wait()
	slog.Info("indexer worker stopped")
	return err
}

func rebuildOnce(ctx context.Context, registry *collection.Registry, worker *consumer.Worker, only string) error {
	var names []string
	if strings.EqualFold(only, "all") {
		for _, c := range registry.All() {
			names = append(names, c.Name)
		}
	} else {
		names = strings.Split(only, ",")
	}
	for _, name := range names {
		report, err := worker.Rebuild(ctx, strings.TrimSpace(name), "")
		if err != nil {
			return err
		}
		fmt.Printf("%s: %d documents indexed, %d skipped, generation %d in %s\n",
			report.Collection, report.DocCount, len(report.Skipped), report.Generation, report.Duration.Round(time.Millisecond))
	}
	return nil
}
