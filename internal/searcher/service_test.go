package searcher

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ippousyuga/search-lucene/internal/collection"
	"github.com/ippousyuga/search-lucene/internal/indexer/builder"
	"github.com/ippousyuga/search-lucene/internal/records"
	"github.com/ippousyuga/search-lucene/internal/searcher/cache"
	"github.com/ippousyuga/search-lucene/internal/searcher/highlight"
	"github.com/ippousyuga/search-lucene/internal/searcher/parser"
	"github.com/ippousyuga/search-lucene/pkg/config"
	apperrors "github.com/ippousyuga/search-lucene/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	registry *collection.Registry
	question collection.Collection
	answer   collection.Collection
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	reg, err := collection.NewRegistry([]config.CollectionConfig{
		{
			Name: "Question", Dir: filepath.Join(root, "QuestionIndex"), IDField: "questionId", TextField: "question",
			Source: config.SourceTable{Table: "question", IDColumn: "id", TextColumn: "title"},
		},
		{
			Name: "Answer", Dir: filepath.Join(root, "AnswerIndex"), IDField: "answerId", TextField: "answer",
			Source: config.SourceTable{Table: "answer", IDColumn: "id", TextColumn: "content"},
		},
	})
	require.NoError(t, err)
	q, err := reg.Get("Question")
	require.NoError(t, err)
	a, err := reg.Get("Answer")
	require.NoError(t, err)
	return &fixture{registry: reg, question: q, answer: a}
}

func (f *fixture) buildQuestions(t *testing.T, titles map[int64]string) {
	t.Helper()
	src := records.NewMemorySource()
	for id, title := range titles {
		src.Put(records.Record{ID: id, Fields: map[string]string{"title": title}})
	}
	_, err := builder.New(builder.Options{}).Rebuild(context.Background(), f.question, src)
	require.NoError(t, err)
}

func open(t *testing.T, f *fixture, opts Options) *Service {
	t.Helper()
	s := New(f.registry, opts)
	require.NoError(t, s.Open(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func hitIDs(p *Page) []int64 {
	out := make([]int64, len(p.Hits))
	for i, h := range p.Hits {
		out[i] = h.ID
	}
	return out
}

func TestSearchReturnsDomainIDsAndHighlights(t *testing.T) {
	f := newFixture(t)
	f.buildQuestions(t, map[int64]string{101: "cats and dogs", 205: "dogs in space"})
	s := open(t, f, Options{Highlighter: &highlight.Highlighter{Pre: "<b>", Post: "</b>", FragmentSize: 100}})

	p, err := s.Search(context.Background(), "question", "dogs", 0, 10)
	require.NoError(t, err)
	assert.Equal(t, "Question", p.Collection)
	assert.Equal(t, 2, p.TotalHits)
	assert.Equal(t, []int64{101, 205}, hitIDs(p))
	assert.Equal(t, "cats and <b>dogs</b>", p.Hits[0].Highlight)
	assert.Equal(t, p.Hits[0].Score, p.Hits[1].Score)

	p, err = s.Search(context.Background(), "Question", "cats -space", 0, 10)
	require.NoError(t, err)
	assert.Equal(t, []int64{101}, hitIDs(p))
}

func TestSearchPagination(t *testing.T) {
	f := newFixture(t)
	titles := map[int64]string{}
	for i := int64(1); i <= 5; i++ {
		titles[i] = "golang question"
	}
	f.buildQuestions(t, titles)
	s := open(t, f, Options{MaxLimit: 50})

	p, err := s.Search(context.Background(), "question", "golang", 1, 2)
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 4}, hitIDs(p))
	assert.Equal(t, 5, p.TotalHits)

	p, err = s.Search(context.Background(), "question", "golang", 3, 2)
	require.NoError(t, err)
	assert.Empty(t, p.Hits)
	assert.NotNil(t, p.Hits)

	_, err = s.Search(context.Background(), "question", "golang", 0, 51)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	_, err = s.Search(context.Background(), "question", "golang", -1, 5)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestSearchErrors(t *testing.T) {
	f := newFixture(t)
	f.buildQuestions(t, map[int64]string{1: "anything"})
	s := open(t, f, Options{})

	_, err := s.Search(context.Background(), "question", "(cats", 0, 10)
	require.ErrorIs(t, err, apperrors.ErrParse)
	var pe *parser.ParseError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, 5, pe.Pos)

	_, err = s.Search(context.Background(), "answer", "cats", 0, 10)
	assert.ErrorIs(t, err, apperrors.ErrNotFound, "answers were never indexed")

	_, err = s.Search(context.Background(), "comments", "cats", 0, 10)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	unopened := New(f.registry, Options{})
	_, err = unopened.Search(context.Background(), "question", "cats", 0, 10)
	assert.ErrorIs(t, err, apperrors.ErrInvalidState)
}

func TestReloadServesNewCommit(t *testing.T) {
	f := newFixture(t)
	f.buildQuestions(t, map[int64]string{1: "old title"})

	var mu sync.Mutex
	swaps := map[string]int64{}
	s := open(t, f, Options{OnSwap: func(name string, gen int64, docs int) {
		mu.Lock()
		swaps[name] = gen
		mu.Unlock()
	}})
	assert.Equal(t, int64(1), swaps["Question"])

	f.buildQuestions(t, map[int64]string{2: "new title", 3: "another new title"})
	swapped, err := s.Reload(context.Background(), "question")
	require.NoError(t, err)
	require.True(t, swapped)
	assert.Equal(t, int64(2), swaps["Question"])

	p, err := s.Search(context.Background(), "question", "title", 0, 10)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{2, 3}, hitIDs(p))
	assert.Equal(t, int64(2), p.Generation)

	stats, err := s.Stats("question")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.DocCount)
	assert.Equal(t, int64(2), stats.Generation)
	assert.Equal(t, []string{"Answer", "Question"}, s.Collections())
}

type mapStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (m *mapStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *mapStore) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *mapStore) FlushByPattern(_ context.Context, _ string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := int64(len(m.data))
	m.data = map[string][]byte{}
	return n, nil
}

func TestSearchUsesCacheAndReportsOutcome(t *testing.T) {
	f := newFixture(t)
	f.buildQuestions(t, map[int64]string{1: "cats and dogs", 2: "dogs in space"})

	var outcomes []Outcome
	s := open(t, f, Options{
		Cache:    cache.New[Page](&mapStore{data: map[string][]byte{}}, time.Minute),
		OnSearch: func(_ context.Context, o Outcome) { outcomes = append(outcomes, o) },
	})

	first, err := s.Search(context.Background(), "question", "dogs  cats", 0, 10)
	require.NoError(t, err)
	assert.False(t, first.Cached)

	second, err := s.Search(context.Background(), "question", "dogs OR cats", 0, 10)
	require.NoError(t, err)
	assert.True(t, second.Cached, "equivalent queries share an entry")
	assert.Equal(t, hitIDs(first), hitIDs(second))

	stats, ok := s.CacheStats()
	require.True(t, ok)
	assert.Equal(t, int64(1), stats.Hits)

	n, err := s.InvalidateCache(context.Background(), "question")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	require.Len(t, outcomes, 2)
	assert.Equal(t, 2, outcomes[0].TotalHits)
	assert.True(t, outcomes[1].Cached)
}

func TestOptionsFromConfig(t *testing.T) {
	opts, err := OptionsFromConfig(config.SearchConfig{
		DefaultOperator: "and",
		Similarity:      "bm25",
		MaxResults:      25,
		Highlight:       config.HighlightConfig{Pre: "[", Post: "]", Escape: true},
	})
	require.NoError(t, err)
	assert.Equal(t, parser.OperatorAND, opts.DefaultOperator)
	assert.Equal(t, "bm25", opts.Similarity.Name())
	assert.Equal(t, 25, opts.MaxLimit)
	assert.Equal(t, "[", opts.Highlighter.Pre)
	assert.Equal(t, highlight.DefaultFragmentSize, opts.Highlighter.FragmentSize)
	assert.True(t, opts.Highlighter.Escape)

	_, err = OptionsFromConfig(config.SearchConfig{DefaultOperator: "XOR"})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	_, err = OptionsFromConfig(config.SearchConfig{Similarity: "lm-dirichlet"})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}
