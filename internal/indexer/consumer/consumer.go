// Package consumer runs the index worker: it turns rebuild requests and
// record-change events from Kafka into index builds, and announces every
// commit on the index.complete topic.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ippousyuga/search-lucene/internal/analytics"
	"github.com/ippousyuga/search-lucene/internal/collection"
	"github.com/ippousyuga/search-lucene/internal/events"
	"github.com/ippousyuga/search-lucene/internal/indexer"
	"github.com/ippousyuga/search-lucene/internal/indexer/builder"
	"github.com/ippousyuga/search-lucene/internal/records"
	apperrors "github.com/ippousyuga/search-lucene/pkg/errors"
	"github.com/ippousyuga/search-lucene/pkg/kafka"
	"github.com/ippousyuga/search-lucene/pkg/metrics"
)

// SourceFunc returns the record source of a collection.
type SourceFunc func(c collection.Collection) (records.Source, error)

type Options struct {
	// Completed receives an events.IndexComplete after every commit.
	Completed kafka.Publisher
	Tracker   analytics.Tracker
	Metrics   *metrics.Metrics
}

// Worker builds collection indexes one at a time per collection.
type Worker struct {
	registry *collection.Registry
	sources  SourceFunc
	builder  *builder.Builder
	opts     Options

	mu     sync.Mutex
	locks  map[string]*sync.Mutex
	logger *slog.Logger
}

func New(registry *collection.Registry, sources SourceFunc, b *builder.Builder, opts Options) *Worker {
	return &Worker{
		registry: registry,
		sources:  sources,
		builder:  b,
		opts:     opts,
		locks:    make(map[string]*sync.Mutex),
		logger:   slog.Default().With("component", "index-worker"),
	}
}

func (w *Worker) lock(name string) func() {
	w.mu.Lock()
	l, ok := w.locks[name]
	if !ok {
		l = &sync.Mutex{}
		w.locks[name] = l
	}
	w.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// Rebuild replaces the index of the named collection from its source.
func (w *Worker) Rebuild(ctx context.Context, name, jobID string) (*builder.Report, error) {
	return w.run(ctx, name, jobID, indexer.ModeCreate, func(c collection.Collection, src records.Source) (*builder.Report, error) {
		return w.builder.Rebuild(ctx, c, src)
	})
}

// Apply applies record changes to the committed index of the named
// collection.
func (w *Worker) Apply(ctx context.Context, name string, changes []builder.Change) (*builder.Report, error) {
	return w.run(ctx, name, "", indexer.ModeAppend, func(c collection.Collection, src records.Source) (*builder.Report, error) {
		return w.builder.Apply(ctx, c, src, changes)
	})
}

func (w *Worker) run(ctx context.Context, name, jobID string, mode indexer.Mode, build func(collection.Collection, records.Source) (*builder.Report, error)) (*builder.Report, error) {
	c, err := w.registry.Get(name)
	if err != nil {
		return nil, err
	}
	src, err := w.sources(c)
	if err != nil {
		return nil, fmt.Errorf("record source of %s: %w", c.Name, err)
	}

	unlock := w.lock(c.Name)
	start := time.Now()
	report, err := build(c, src)
	unlock()

	w.observe(c.Name, mode.String(), report, err, time.Since(start))
	if err != nil {
		w.logger.Error("build failed", "collection", c.Name, "mode", mode.String(), "job_id", jobID, "error", err)
		return nil, err
	}
	w.announce(ctx, jobID, report)
	return report, nil
}

func (w *Worker) observe(name, mode string, report *builder.Report, err error, elapsed time.Duration) {
	if w.opts.Tracker != nil {
		w.opts.Tracker.Track(analytics.NewBuildEvent(name, mode, report, err))
	}
	m := w.opts.Metrics
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "failure"
	}
	m.IndexBuildsTotal.WithLabelValues(name, mode, status).Inc()
	m.IndexBuildDuration.WithLabelValues(name, mode).Observe(elapsed.Seconds())
	if report != nil {
		m.DocsIndexedTotal.WithLabelValues(name).Add(float64(report.Indexed))
		m.IndexDocCount.WithLabelValues(name).Set(float64(report.DocCount))
		m.IndexGeneration.WithLabelValues(name).Set(float64(report.Generation))
	}
}

// announce publishes the commit. Searchers also watch the index directory,
// so a failed publish only delays their reload.
func (w *Worker) announce(ctx context.Context, jobID string, report *builder.Report) {
	if w.opts.Completed == nil {
		return
	}
	err := w.opts.Completed.Publish(ctx, kafka.Event{
		Key: report.Collection,
		Value: events.IndexComplete{
			JobID:      jobID,
			Collection: report.Collection,
			Generation: report.Generation,
			DocCount:   report.DocCount,
			Report:     report,
		},
	})
	if err != nil {
		w.logger.Warn("failed to announce commit", "collection", report.Collection, "generation", report.Generation, "error", err)
	}
}

// HandleRebuild consumes events.RebuildRequest messages.
func (w *Worker) HandleRebuild() kafka.MessageHandler {
	return func(ctx context.Context, _ []byte, value []byte) error {
		req, err := kafka.DecodeJSON[events.RebuildRequest](value)
		if err != nil {
			return err
		}
		w.logger.Info("rebuild requested", "collection", req.Collection, "job_id", req.JobID)
		_, err = w.Rebuild(ctx, req.Collection, req.JobID)
		return poison(err)
	}
}

// HandleChanges consumes events.RecordChanges messages.
func (w *Worker) HandleChanges() kafka.MessageHandler {
	return func(ctx context.Context, _ []byte, value []byte) error {
		msg, err := kafka.DecodeJSON[events.RecordChanges](value)
		if err != nil {
			return err
		}
		if len(msg.Changes) == 0 {
			return nil
		}
		_, err = w.Apply(ctx, msg.Collection, msg.Changes)
		return poison(err)
	}
}

// poison marks failures that redelivery cannot fix.
func poison(err error) error {
	if errors.Is(err, apperrors.ErrNotFound) || errors.Is(err, apperrors.ErrInvalidInput) {
		return fmt.Errorf("%w: %w", kafka.ErrPoison, err)
	}
	return err
}
