// Package searcher answers keyword queries over the collection indexes. A
// search parses the query, ranks one page of hits on a leased snapshot,
// loads each hit's stored text and highlights it.
package searcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ippousyuga/search-lucene/internal/collection"
	"github.com/ippousyuga/search-lucene/internal/indexer"
	"github.com/ippousyuga/search-lucene/internal/searcher/cache"
	"github.com/ippousyuga/search-lucene/internal/searcher/executor"
	"github.com/ippousyuga/search-lucene/internal/searcher/highlight"
	"github.com/ippousyuga/search-lucene/internal/searcher/parser"
	"github.com/ippousyuga/search-lucene/internal/searcher/ranker"
	"github.com/ippousyuga/search-lucene/internal/searcher/snapshot"
	"github.com/ippousyuga/search-lucene/pkg/config"
	apperrors "github.com/ippousyuga/search-lucene/pkg/errors"
	"github.com/ippousyuga/search-lucene/pkg/logger"
	"github.com/ippousyuga/search-lucene/pkg/tracing"
	"golang.org/x/sync/errgroup"
)

// Hit is one search result: the record id, its highlighted text and its
// relevance score.
type Hit struct {
	ID        int64   `json:"id"`
	Highlight string  `json:"highlight"`
	Score     float64 `json:"score"`
}

type Page struct {
	Collection string `json:"collection"`
	Query      string `json:"query"`
	Hits       []Hit  `json:"hits"`
	TotalHits  int    `json:"total_hits"`
	Page       int    `json:"page"`
	Limit      int    `json:"limit"`
	Generation int64  `json:"generation"`
	Cached     bool   `json:"cached"`
}

// Outcome describes a finished search, for analytics and metrics.
type Outcome struct {
	Collection string
	Query      string
	TotalHits  int
	Returned   int
	Page       int
	Cached     bool
	Latency    time.Duration
	Err        error
}

type Options struct {
	DefaultOperator parser.Operator
	Similarity      ranker.Similarity
	Highlighter     *highlight.Highlighter
	// MaxLimit caps the page size; 0 means no cap.
	MaxLimit int
	Cache    *cache.QueryCache[Page]
	Tracer   *tracing.Tracer
	// OnSearch, when set, is called after every search.
	OnSearch func(ctx context.Context, o Outcome)
	// OnSwap, when set, is called when a collection's snapshot changes.
	OnSwap func(collection string, generation int64, docs int)
}

// OptionsFromConfig maps the search section of the configuration. Hooks,
// cache and tracer are left for the caller to set.
func OptionsFromConfig(cfg config.SearchConfig) (Options, error) {
	op, err := parser.ParseOperator(cfg.DefaultOperator)
	if err != nil {
		return Options{}, apperrors.Op(apperrors.ErrInvalidInput, "search config", "%v", err)
	}
	sim, err := ranker.Lookup(cfg.Similarity)
	if err != nil {
		return Options{}, apperrors.Op(apperrors.ErrInvalidInput, "search config", "%v", err)
	}
	hl := highlight.New()
	if cfg.Highlight.Pre != "" || cfg.Highlight.Post != "" {
		hl.Pre, hl.Post = cfg.Highlight.Pre, cfg.Highlight.Post
	}
	if cfg.Highlight.FragmentSize > 0 {
		hl.FragmentSize = cfg.Highlight.FragmentSize
	}
	hl.Escape = cfg.Highlight.Escape
	return Options{
		DefaultOperator: op,
		Similarity:      sim,
		Highlighter:     hl,
		MaxLimit:        cfg.MaxResults,
	}, nil
}

type Service struct {
	registry *collection.Registry
	opts     Options
	exec     *executor.Executor
	mu       sync.RWMutex
	managers map[string]*snapshot.Manager
	logger   *slog.Logger
}

func New(registry *collection.Registry, opts Options) *Service {
	if opts.Highlighter == nil {
		opts.Highlighter = highlight.New()
	}
	return &Service{
		registry: registry,
		opts:     opts,
		exec:     executor.New(opts.Similarity),
		managers: make(map[string]*snapshot.Manager),
		logger:   slog.Default().With("component", "search-service"),
	}
}

// Open loads the committed index of every collection. A collection that
// has never been built is served as not found until its first commit.
func (s *Service) Open(ctx context.Context) error {
	managers := make(map[string]*snapshot.Manager)
	for _, c := range s.registry.All() {
		m, err := snapshot.NewManager(ctx, c.Dir)
		if err != nil {
			for _, opened := range managers {
				opened.Close()
			}
			return fmt.Errorf("opening %s index: %w", c.Name, err)
		}
		name := c.Name
		m.OnSwap = func(generation int64) { s.swapped(name, generation) }
		managers[name] = m
	}
	s.mu.Lock()
	s.managers = managers
	s.mu.Unlock()

	for name, m := range managers {
		s.logger.Info("collection opened", "collection", name, "generation", m.Generation())
		if gen := m.Generation(); gen > 0 {
			s.swapped(name, gen)
		}
	}
	return nil
}

func (s *Service) swapped(name string, generation int64) {
	if s.opts.OnSwap == nil {
		return
	}
	docs := 0
	if stats, err := s.Stats(name); err == nil {
		docs = stats.DocCount
	}
	s.opts.OnSwap(name, generation, docs)
}

// Watch reloads collection snapshots as new commits land, until ctx is
// done.
func (s *Service) Watch(ctx context.Context) error {
	s.mu.RLock()
	g, ctx := errgroup.WithContext(ctx)
	for _, m := range s.managers {
		g.Go(func() error { return m.Watch(ctx) })
	}
	s.mu.RUnlock()
	return g.Wait()
}

// Reload picks up the latest commit of collection and reports whether the
// served snapshot changed.
func (s *Service) Reload(ctx context.Context, name string) (bool, error) {
	m, _, err := s.manager(name)
	if err != nil {
		return false, err
	}
	return m.Reload(ctx)
}

func (s *Service) manager(name string) (*snapshot.Manager, collection.Collection, error) {
	c, err := s.registry.Get(name)
	if err != nil {
		return nil, collection.Collection{}, err
	}
	s.mu.RLock()
	m, ok := s.managers[c.Name]
	s.mu.RUnlock()
	if !ok {
		return nil, c, apperrors.Op(apperrors.ErrInvalidState, "search", "service is not open")
	}
	return m, c, nil
}

// Search returns hits [page*limit, page*limit+limit) of query over
// collection, best first, ties broken by ascending document id.
func (s *Service) Search(ctx context.Context, name, query string, page, limit int) (*Page, error) {
	start := time.Now()
	ctx, span := s.opts.Tracer.Start(ctx, "search", logger.RequestID(ctx))
	span.SetAttr("collection", name)
	defer s.opts.Tracer.Finish(span)

	result, err := s.search(ctx, name, query, page, limit)

	outcome := Outcome{Collection: name, Query: query, Page: page, Latency: time.Since(start), Err: err}
	if result != nil {
		outcome.Collection = result.Collection
		outcome.TotalHits = result.TotalHits
		outcome.Returned = len(result.Hits)
		outcome.Cached = result.Cached
		span.SetAttr("total_hits", result.TotalHits)
	}
	if s.opts.OnSearch != nil {
		s.opts.OnSearch(ctx, outcome)
	}
	if err != nil {
		level := slog.LevelError
		if errors.Is(err, apperrors.ErrParse) || errors.Is(err, apperrors.ErrInvalidInput) || errors.Is(err, apperrors.ErrNotFound) {
			level = slog.LevelDebug
		}
		logger.FromContext(ctx).Log(ctx, level, "search failed", "collection", name, "query", query, "error", err)
		return nil, err
	}
	return result, nil
}

func (s *Service) search(ctx context.Context, name, query string, page, limit int) (*Page, error) {
	if page < 0 {
		return nil, apperrors.Op(apperrors.ErrInvalidInput, "search", "page must not be negative, got %d", page)
	}
	if limit <= 0 || (s.opts.MaxLimit > 0 && limit > s.opts.MaxLimit) {
		return nil, apperrors.Op(apperrors.ErrInvalidInput, "search", "limit must be between 1 and %d, got %d", s.opts.MaxLimit, limit)
	}
	m, c, err := s.manager(name)
	if err != nil {
		return nil, err
	}
	lease, err := m.Acquire()
	if err != nil {
		return nil, err
	}
	defer lease.Release()
	reader := lease.Reader

	_, parseSpan := tracing.StartChild(ctx, "parse")
	q, err := parser.Parse(query, parser.Options{
		DefaultField:    c.TextField,
		Schema:          reader.Schema(),
		DefaultOperator: s.opts.DefaultOperator,
	})
	parseSpan.End()
	if err != nil {
		return nil, err
	}

	// A shared cache computation may outlive this call, so it takes over a
	// reference to the snapshot unless this call has already returned.
	held := lease.Retain()
	var handedOff atomic.Bool
	defer func() {
		if handedOff.CompareAndSwap(false, true) {
			held.Release()
		}
	}()
	compute := func(ctx context.Context) (Page, error) {
		snap := held
		if !handedOff.CompareAndSwap(false, true) {
			var err error
			if snap, err = m.Acquire(); err != nil {
				return Page{}, err
			}
		}
		defer snap.Release()
		return s.execute(ctx, c, snap.Reader, q, page, limit)
	}
	if s.opts.Cache == nil {
		p, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		return &p, nil
	}
	key := cache.Key{
		Collection: c.Name,
		Generation: reader.Generation(),
		Query:      q.String(),
		Page:       page,
		Limit:      limit,
	}
	p, hit, err := s.opts.Cache.GetOrCompute(ctx, key, compute)
	if err != nil {
		return nil, err
	}
	p.Cached = hit
	return &p, nil
}

func (s *Service) execute(ctx context.Context, c collection.Collection, reader *indexer.Reader, q parser.Query, page, limit int) (Page, error) {
	_, execSpan := tracing.StartChild(ctx, "execute")
	res, err := s.exec.Execute(ctx, reader, q, page, limit)
	execSpan.End()
	if err != nil {
		return Page{}, err
	}

	_, hlSpan := tracing.StartChild(ctx, "highlight")
	defer hlSpan.End()
	analyzer, err := reader.Schema().Analyzer(c.TextField)
	if err != nil {
		return Page{}, err
	}
	hits := make([]Hit, 0, len(res.Results))
	for _, sd := range res.Results {
		doc, err := reader.StoredFields(sd.DocID)
		if err != nil {
			return Page{}, fmt.Errorf("loading hit %d: %w", sd.DocID, err)
		}
		text := doc[c.TextField].Text
		hits = append(hits, Hit{
			ID:        doc[c.IDField].Int,
			Highlight: s.opts.Highlighter.Highlight(q, c.TextField, text, analyzer.Analyze(text)),
			Score:     sd.Score,
		})
	}
	return Page{
		Collection: c.Name,
		Query:      q.String(),
		Hits:       hits,
		TotalHits:  res.TotalHits,
		Page:       page,
		Limit:      limit,
		Generation: reader.Generation(),
	}, nil
}

// Stats describes the snapshot served for a collection.
type Stats struct {
	Collection  string    `json:"collection"`
	Dir         string    `json:"dir"`
	Generation  int64     `json:"generation"`
	DocCount    int       `json:"doc_count"`
	MaxDoc      int       `json:"max_doc"`
	Segments    int       `json:"segments"`
	CommittedAt time.Time `json:"committed_at"`
}

func (s *Service) Stats(name string) (Stats, error) {
	m, c, err := s.manager(name)
	if err != nil {
		return Stats{}, err
	}
	lease, err := m.Acquire()
	if err != nil {
		return Stats{}, err
	}
	defer lease.Release()
	r := lease.Reader
	return Stats{
		Collection:  c.Name,
		Dir:         c.Dir,
		Generation:  r.Generation(),
		DocCount:    r.DocCount(),
		MaxDoc:      r.MaxDoc(),
		Segments:    len(r.Segments()),
		CommittedAt: r.CommittedAt(),
	}, nil
}

// Collections lists the collection names served.
func (s *Service) Collections() []string {
	all := s.registry.All()
	names := make([]string, len(all))
	for i, c := range all {
		names[i] = c.Name
	}
	return names
}

// InvalidateCache drops cached pages of collection, or of all collections
// when name is empty. Without a cache it does nothing.
func (s *Service) InvalidateCache(ctx context.Context, name string) (int64, error) {
	if s.opts.Cache == nil {
		return 0, nil
	}
	if name != "" {
		c, err := s.registry.Get(name)
		if err != nil {
			return 0, err
		}
		name = c.Name
	}
	return s.opts.Cache.Invalidate(ctx, name)
}

func (s *Service) CacheStats() (cache.Stats, bool) {
	if s.opts.Cache == nil {
		return cache.Stats{}, false
	}
	return s.opts.Cache.Stats(), true
}

func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, m := range s.managers {
		m.Close()
		delete(s.managers, name)
	}
	return nil
}
