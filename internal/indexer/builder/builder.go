// Package builder fills a collection's index from its record source, either
// as a full rebuild or by applying record changes to the committed index.
package builder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ippousyuga/search-lucene/internal/collection"
	"github.com/ippousyuga/search-lucene/internal/indexer"
	"github.com/ippousyuga/search-lucene/internal/records"
	"github.com/ippousyuga/search-lucene/pkg/config"
	apperrors "github.com/ippousyuga/search-lucene/pkg/errors"
	"github.com/ippousyuga/search-lucene/pkg/resilience"
)

const defaultBatchSize = 1000

type Options struct {
	BatchSize      int
	LockTimeout    time.Duration
	SegmentMaxDocs int
	// SourceTimeout bounds each read from the record source.
	SourceTimeout time.Duration
	Retry         resilience.RetryConfig
}

// OptionsFromConfig maps the indexer section of the configuration.
func OptionsFromConfig(cfg config.IndexerConfig) Options {
	return Options{
		BatchSize:      cfg.BatchSize,
		LockTimeout:    cfg.LockTimeout,
		SegmentMaxDocs: cfg.SegmentMaxDocs,
		SourceTimeout:  cfg.SourceTimeout,
	}
}

// Failure is a record that could not be indexed.
type Failure struct {
	ID     int64  `json:"id"`
	Reason string `json:"reason"`
}

// Report summarizes one build.
type Report struct {
	Collection string        `json:"collection"`
	Mode       string        `json:"mode"`
	Indexed    int           `json:"indexed"`
	Deleted    int           `json:"deleted"`
	Skipped    []Failure     `json:"skipped,omitempty"`
	DocCount   int           `json:"doc_count"`
	Generation int64         `json:"generation"`
	Duration   time.Duration `json:"duration"`
}

type Builder struct {
	opts   Options
	logger *slog.Logger
}

func New(opts Options) *Builder {
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.Retry.Retryable == nil {
		opts.Retry.Retryable = retryable
	}
	return &Builder{
		opts:   opts,
		logger: slog.Default().With("component", "index-builder"),
	}
}

// retryable treats caller mistakes and cancellation as final.
func retryable(err error) bool {
	return !errors.Is(err, apperrors.ErrInvalidInput) &&
		!errors.Is(err, apperrors.ErrNotFound) &&
		!errors.Is(err, context.Canceled)
}

// Rebuild replaces the index of c with one document per record of src.
// Records that cannot be converted are skipped and listed in the report.
// Until the commit succeeds the previous index stays visible; any storage,
// lock or source failure leaves it untouched.
func (b *Builder) Rebuild(ctx context.Context, c collection.Collection, src records.Source) (*Report, error) {
	start := time.Now()
	w, err := b.open(ctx, c, indexer.ModeCreate)
	if err != nil {
		return nil, err
	}
	defer w.Close()

	report := &Report{Collection: c.Name, Mode: indexer.ModeCreate.String()}
	total, err := b.count(ctx, src)
	if err != nil {
		return nil, err
	}
	b.logger.Info("rebuild started", "collection", c.Name, "records", total, "batch_size", b.opts.BatchSize)

	for offset := 0; ; offset += b.opts.BatchSize {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("rebuilding %s: %w", c.Name, err)
		}
		page, err := b.list(ctx, src, offset)
		if err != nil {
			return nil, err
		}
		for _, r := range page {
			if err := b.add(w, c, r, report); err != nil {
				return nil, err
			}
		}
		if len(page) < b.opts.BatchSize {
			break
		}
		b.logger.Debug("rebuild progress", "collection", c.Name, "offset", offset+len(page), "records", total)
	}

	return b.commit(w, report, start)
}

// Op is the kind of a record change.
type Op string

const (
	OpUpsert Op = "upsert"
	OpDelete Op = "delete"
)

// Change says that the record with ID was created, updated or deleted.
type Change struct {
	ID int64 `json:"id"`
	Op Op    `json:"op"`
}

// Apply updates the committed index of c with changes. An upsert replaces
// the document of the record with its current contents in src; an upsert
// of a record src no longer has deletes it. Later changes to the same id
// win.
func (b *Builder) Apply(ctx context.Context, c collection.Collection, src records.Source, changes []Change) (*Report, error) {
	start := time.Now()
	latest := make(map[int64]Op, len(changes))
	order := make([]int64, 0, len(changes))
	for _, ch := range changes {
		if ch.Op != OpUpsert && ch.Op != OpDelete {
			return nil, apperrors.Op(apperrors.ErrInvalidInput, "apply changes", "record %d: unknown op %q", ch.ID, ch.Op)
		}
		if _, seen := latest[ch.ID]; !seen {
			order = append(order, ch.ID)
		}
		latest[ch.ID] = ch.Op
	}

	w, err := b.open(ctx, c, indexer.ModeAppend)
	if err != nil {
		return nil, err
	}
	defer w.Close()

	report := &Report{Collection: c.Name, Mode: indexer.ModeAppend.String()}
	for _, id := range order {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("applying changes to %s: %w", c.Name, err)
		}
		n, err := w.DeleteDocuments(c.IDField, id)
		if err != nil {
			return nil, err
		}
		report.Deleted += n
		if latest[id] == OpDelete {
			continue
		}
		var r records.Record
		err = b.read(ctx, "get record", func(ctx context.Context) error {
			var err error
			r, err = src.Get(ctx, id)
			return err
		})
		if errors.Is(err, apperrors.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if err := b.add(w, c, r, report); err != nil {
			return nil, err
		}
	}
	return b.commit(w, report, start)
}

func (b *Builder) open(ctx context.Context, c collection.Collection, mode indexer.Mode) (*indexer.Writer, error) {
	w, err := indexer.OpenWriter(ctx, c.Dir, indexer.WriterOptions{
		Mode:           mode,
		Schema:         c.Schema,
		LockTimeout:    b.opts.LockTimeout,
		SegmentMaxDocs: b.opts.SegmentMaxDocs,
	})
	if err != nil {
		return nil, fmt.Errorf("opening %s index: %w", c.Name, err)
	}
	return w, nil
}

// add indexes r, recording it as skipped when it is invalid.
func (b *Builder) add(w *indexer.Writer, c collection.Collection, r records.Record, report *Report) error {
	doc, err := c.Document(r)
	if err == nil {
		err = w.AddDocument(doc)
	}
	switch {
	case err == nil:
		report.Indexed++
		return nil
	case errors.Is(err, apperrors.ErrInvalidInput):
		b.logger.Warn("skipping record", "collection", c.Name, "id", r.ID, "error", err)
		report.Skipped = append(report.Skipped, Failure{ID: r.ID, Reason: err.Error()})
		return nil
	default:
		return fmt.Errorf("indexing %s %d: %w", c.Name, r.ID, err)
	}
}

func (b *Builder) commit(w *indexer.Writer, report *Report, start time.Time) (*Report, error) {
	report.Generation = w.Generation()
	n, err := w.Commit()
	if err != nil {
		return nil, fmt.Errorf("committing %s index: %w", report.Collection, err)
	}
	report.DocCount = n
	report.Duration = time.Since(start)
	b.logger.Info("build finished",
		"collection", report.Collection,
		"mode", report.Mode,
		"indexed", report.Indexed,
		"deleted", report.Deleted,
		"skipped", len(report.Skipped),
		"doc_count", report.DocCount,
		"generation", report.Generation,
		"duration_ms", report.Duration.Milliseconds(),
	)
	return report, nil
}

func (b *Builder) count(ctx context.Context, src records.Source) (int64, error) {
	var n int64
	err := b.read(ctx, "count records", func(ctx context.Context) error {
		var err error
		n, err = src.Count(ctx)
		return err
	})
	return n, err
}

func (b *Builder) list(ctx context.Context, src records.Source, offset int) ([]records.Record, error) {
	var page []records.Record
	err := b.read(ctx, "list records", func(ctx context.Context) error {
		var err error
		page, err = src.List(ctx, offset, b.opts.BatchSize)
		return err
	})
	return page, err
}

// read runs one source call under the source timeout, retrying transient
// failures.
func (b *Builder) read(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	return resilience.Retry(ctx, name, b.opts.Retry, func() error {
		return resilience.WithTimeout(ctx, b.opts.SourceTimeout, name, fn)
	})
}
