// Package executor runs parsed queries against an index snapshot and
// returns one ranked page of hits.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/ippousyuga/search-lucene/internal/indexer"
	"github.com/ippousyuga/search-lucene/internal/searcher/merger"
	"github.com/ippousyuga/search-lucene/internal/searcher/parser"
	"github.com/ippousyuga/search-lucene/internal/searcher/ranker"
	apperrors "github.com/ippousyuga/search-lucene/pkg/errors"
	"golang.org/x/sync/errgroup"
)

type SearchResult struct {
	Query     string             `json:"query"`
	TotalHits int                `json:"total_hits"`
	Page      int                `json:"page"`
	Limit     int                `json:"limit"`
	Results   []ranker.ScoredDoc `json:"results"`
	TermStats map[string]int     `json:"term_stats,omitempty"`
}

type Executor struct {
	similarity ranker.Similarity
	logger     *slog.Logger
}

// New returns an executor scoring with sim; nil selects TF-IDF.
func New(sim ranker.Similarity) *Executor {
	if sim == nil {
		sim = ranker.TFIDF{}
	}
	return &Executor{
		similarity: sim,
		logger:     slog.Default().With("component", "query-executor"),
	}
}

// Execute returns hits [page*limit, page*limit+limit) of the ranking of q
// over reader. Only the best (page+1)*limit hits of each segment are kept.
// A page past the last hit is empty.
func (e *Executor) Execute(ctx context.Context, reader *indexer.Reader, q parser.Query, page, limit int) (*SearchResult, error) {
	if page < 0 {
		return nil, apperrors.Op(apperrors.ErrInvalidInput, "execute query", "page must not be negative, got %d", page)
	}
	if limit <= 0 {
		return nil, apperrors.Op(apperrors.ErrInvalidInput, "execute query", "limit must be positive, got %d", limit)
	}
	k := math.MaxInt
	if page < math.MaxInt/limit-1 {
		k = (page + 1) * limit
	}

	start := time.Now()
	top, total, termStats, err := e.TopDocs(ctx, reader, q, k)
	if err != nil {
		return nil, err
	}

	from := page * limit
	if page >= math.MaxInt/limit {
		from = len(top)
	}
	results := []ranker.ScoredDoc{}
	if from < len(top) {
		results = top[from:min(from+limit, len(top))]
	}

	e.logger.Debug("query executed",
		"query", q.String(),
		"segments", len(reader.Segments()),
		"total_hits", total,
		"page", page,
		"returned", len(results),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return &SearchResult{
		Query:     q.String(),
		TotalHits: total,
		Page:      page,
		Limit:     limit,
		Results:   results,
		TermStats: termStats,
	}, nil
}

// TopDocs ranks q over reader and returns the best k hits, best first, with
// the total number of matching documents.
func (e *Executor) TopDocs(ctx context.Context, reader *indexer.Reader, q parser.Query, k int) ([]ranker.ScoredDoc, int, map[string]int, error) {
	if err := reader.CheckOpen("execute query"); err != nil {
		return nil, 0, nil, err
	}
	stats := collectStats(reader, q, e.similarity)
	segments := reader.Segments()
	perSegment := make([][]ranker.ScoredDoc, len(segments))
	hits := make([]int, len(segments))

	g, gctx := errgroup.WithContext(ctx)
	for i, seg := range segments {
		eval := &segmentEval{ctx: gctx, seg: seg, stats: stats, sim: e.similarity}
		run := func() error {
			top, n, err := eval.topDocs(q, k)
			if err != nil {
				return fmt.Errorf("segment %s: %w", seg.Name(), err)
			}
			perSegment[i] = top
			hits[i] = n
			return nil
		}
		if len(segments) == 1 {
			if err := run(); err != nil {
				return nil, 0, nil, err
			}
			continue
		}
		g.Go(run)
	}
	if err := g.Wait(); err != nil {
		return nil, 0, nil, err
	}

	total := 0
	for _, n := range hits {
		total += n
	}
	var top []ranker.ScoredDoc
	if len(perSegment) == 1 {
		top = perSegment[0]
	} else {
		top = merger.Merge(perSegment, min(k, total))
	}
	if top == nil {
		top = []ranker.ScoredDoc{}
	}
	return top, total, stats.termStats(), nil
}

// collectionStats are the index-wide statistics shared by every segment so
// that a document scores the same whichever segment holds it.
type collectionStats struct {
	params map[string]ranker.FieldParams
	idf    map[termKey]float64
	df     map[termKey]int
}

type termKey struct {
	field string
	term  string
}

func collectStats(reader *indexer.Reader, q parser.Query, sim ranker.Similarity) *collectionStats {
	s := &collectionStats{
		params: make(map[string]ranker.FieldParams),
		idf:    make(map[termKey]float64),
		df:     make(map[termKey]int),
	}
	addField := func(field string) ranker.FieldParams {
		if p, ok := s.params[field]; ok {
			return p
		}
		fs := reader.FieldStats(field)
		p := ranker.FieldParams{TotalDocs: int64(reader.DocCount())}
		if fs.DocCount > 0 {
			p.AvgDocLength = float64(fs.SumLength) / float64(fs.DocCount)
		}
		s.params[field] = p
		return p
	}
	addTerm := func(field, term string) {
		key := termKey{field, term}
		if _, ok := s.idf[key]; ok {
			return
		}
		p := addField(field)
		df := reader.DocFreq(field, term)
		s.df[key] = df
		s.idf[key] = sim.IDF(int64(df), p)
	}
	var walk func(parser.Query)
	walk = func(q parser.Query) {
		switch q := q.(type) {
		case *parser.TermQuery:
			addTerm(q.Field, q.Term)
		case *parser.PhraseQuery:
			for _, term := range q.Terms {
				addTerm(q.Field, term)
			}
		case *parser.BooleanQuery:
			for _, c := range q.Clauses {
				walk(c.Query)
			}
		}
	}
	walk(q)
	return s
}

func (s *collectionStats) termStats() map[string]int {
	if len(s.df) == 0 {
		return nil
	}
	out := make(map[string]int, len(s.df))
	for key, df := range s.df {
		out[key.field+":"+key.term] = df
	}
	return out
}
