package executor

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/ippousyuga/search-lucene/internal/indexer"
	"github.com/ippousyuga/search-lucene/internal/indexer/index"
	"github.com/ippousyuga/search-lucene/internal/searcher/parser"
	"github.com/ippousyuga/search-lucene/internal/searcher/ranker"
	apperrors "github.com/ippousyuga/search-lucene/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func titleSchema(t testing.TB) index.Schema {
	t.Helper()
	s, err := index.NewSchema(
		index.FieldSpec{Name: "id", Type: index.FieldInt64, Indexed: true, Stored: true},
		index.FieldSpec{Name: "title", Type: index.FieldText, Indexed: true, Stored: true},
	)
	require.NoError(t, err)
	return s
}

func buildIndex(t testing.TB, segmentMaxDocs int, titles ...string) *indexer.Reader {
	t.Helper()
	dir := t.TempDir()
	w, err := indexer.OpenWriter(context.Background(), dir, indexer.WriterOptions{
		Schema:         titleSchema(t),
		SegmentMaxDocs: segmentMaxDocs,
	})
	require.NoError(t, err)
	for i, title := range titles {
		require.NoError(t, w.AddDocument(index.Document{"id": index.Int(int64(i + 1)), "title": index.Text(title)}))
	}
	_, err = w.Commit()
	require.NoError(t, err)
	r, err := indexer.OpenReader(context.Background(), dir)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func parse(t testing.TB, r *indexer.Reader, query string) parser.Query {
	t.Helper()
	q, err := parser.Parse(query, parser.Options{DefaultField: "title", Schema: r.Schema()})
	require.NoError(t, err)
	return q
}

func ids(docs []ranker.ScoredDoc) []int {
	out := make([]int, len(docs))
	for i, d := range docs {
		out[i] = d.DocID
	}
	return out
}

func search(t testing.TB, r *indexer.Reader, query string, page, limit int) *SearchResult {
	t.Helper()
	res, err := New(nil).Execute(context.Background(), r, parse(t, r, query), page, limit)
	require.NoError(t, err)
	return res
}

func TestCatsAndDogs(t *testing.T) {
	r := buildIndex(t, 0, "cats and dogs", "dogs in space")

	res := search(t, r, "dogs", 0, 10)
	assert.Equal(t, []int{0, 1}, ids(res.Results))
	assert.Equal(t, res.Results[0].Score, res.Results[1].Score)
	assert.Equal(t, 2, res.TotalHits)

	assert.Equal(t, []int{0}, ids(search(t, r, "cats", 0, 10).Results))
	assert.Equal(t, []int{0}, ids(search(t, r, "dogs AND cats", 0, 10).Results))
	assert.Equal(t, []int{0, 1}, ids(search(t, r, "cats OR space", 0, 10).Results))
}

func TestBooleanNot(t *testing.T) {
	r := buildIndex(t, 0, "cats and dogs", "dogs in space", "birds")

	assert.Equal(t, []int{1, 2}, ids(search(t, r, "NOT cats", 0, 10).Results))
	assert.Equal(t, []int{0}, ids(search(t, r, "dogs -space", 0, 10).Results))
	assert.Empty(t, search(t, r, "cats AND space", 0, 10).Results)
	assert.Empty(t, search(t, r, "unicorns", 0, 10).Results)
	assert.Empty(t, search(t, r, "the", 0, 10).Results)
}

func TestPrefixesIgnoreWordOrder(t *testing.T) {
	r := buildIndex(t, 0, "cats and dogs", "dogs in space", "cats only here")

	assert.Equal(t, []int{1}, ids(search(t, r, "+space cats", 0, 10).Results))
	assert.Equal(t, []int{1}, ids(search(t, r, "cats +space", 0, 10).Results))
	assert.Equal(t, []int{0, 2}, ids(search(t, r, "+cats dogs", 0, 10).Results))
	assert.Equal(t, []int{0, 2}, ids(search(t, r, "dogs +cats", 0, 10).Results))

	for _, q := range []string{"cats -dogs", "-dogs cats", "NOT dogs cats", "cats NOT dogs"} {
		assert.Equal(t, []int{2}, ids(search(t, r, q, 0, 10).Results), q)
	}
}

// fixedLength gives doc i tf=i+1 for "fox" in a field of constant length,
// so the ranking is the reverse of insertion order.
func fixedLength(n int) []string {
	titles := make([]string, n)
	for i := range titles {
		words := make([]string, n)
		for j := range words {
			if j <= i {
				words[j] = "fox"
			} else {
				words[j] = "wolf"
			}
		}
		titles[i] = strings.Join(words, " ")
	}
	return titles
}

func TestPagination(t *testing.T) {
	r := buildIndex(t, 0, fixedLength(5)...)

	assert.Equal(t, []int{4, 3, 2, 1, 0}, ids(search(t, r, "fox", 0, 10).Results))

	res := search(t, r, "fox", 1, 2)
	assert.Equal(t, []int{2, 1}, ids(res.Results))
	assert.Equal(t, 5, res.TotalHits)
	assert.Equal(t, 1, res.Page)
	assert.Equal(t, 2, res.Limit)

	assert.Equal(t, []int{0}, ids(search(t, r, "fox", 2, 2).Results))
	beyond := search(t, r, "fox", 3, 2)
	assert.NotNil(t, beyond.Results)
	assert.Empty(t, beyond.Results)
	assert.Equal(t, 5, beyond.TotalHits)
}

func TestPagesConcatenateToPrefix(t *testing.T) {
	titles := make([]string, 37)
	for i := range titles {
		titles[i] = fmt.Sprintf("go question %d about %s", i, strings.Repeat("channels ", i%5+1))
	}
	r := buildIndex(t, 8, titles...)
	q := parse(t, r, "channels OR question")

	full, _, _, err := New(nil).TopDocs(context.Background(), r, q, 1000)
	require.NoError(t, err)
	require.Len(t, full, len(titles))

	const limit = 4
	var paged []ranker.ScoredDoc
	for page := 0; page < 10; page++ {
		res, err := New(nil).Execute(context.Background(), r, q, page, limit)
		require.NoError(t, err)
		paged = append(paged, res.Results...)
	}
	assert.Equal(t, full, paged)

	for i := 1; i < len(full); i++ {
		assert.True(t, ranker.Better(full[i-1], full[i]) || full[i-1] == full[i])
	}
}

func TestSegmentsScoreLikeOneIndex(t *testing.T) {
	titles := []string{
		"how to reverse a linked list",
		"reverse a string in go",
		"linked list vs slice",
		"go channels explained",
		"list comprehension in go",
	}
	single := buildIndex(t, 0, titles...)
	split := buildIndex(t, 2, titles...)
	require.Len(t, split.Segments(), 3)

	for _, query := range []string{"list", "reverse OR go", `"linked list"`, "go -channels", "*:*"} {
		a := search(t, single, query, 0, 10)
		b := search(t, split, query, 0, 10)
		assert.Equal(t, a.Results, b.Results, query)
		assert.Equal(t, a.TotalHits, b.TotalHits, query)
	}
}

func TestPhraseQuery(t *testing.T) {
	r := buildIndex(t, 0, "quick brown fox", "brown quick fox", "the quick and brown")

	assert.Equal(t, []int{0}, ids(search(t, r, `"quick brown"`, 0, 10).Results))
	assert.Equal(t, []int{1}, ids(search(t, r, `"brown quick"`, 0, 10).Results))
	assert.Equal(t, []int{2}, ids(search(t, r, `"quick the brown"`, 0, 10).Results))
	assert.Empty(t, search(t, r, `"quick unicorn"`, 0, 10).Results)
}

func TestRangeAndMatchAll(t *testing.T) {
	r := buildIndex(t, 2, "a1", "b2", "c3", "d4", "e5")

	assert.Equal(t, []int{1, 2, 3}, ids(search(t, r, "id:[2 TO 4]", 0, 10).Results))
	assert.Equal(t, []int{4}, ids(search(t, r, "id:5", 0, 10).Results))
	assert.Equal(t, []int{0, 1, 2, 3, 4}, ids(search(t, r, "*:*", 0, 10).Results))
	assert.Equal(t, []int{0, 4}, ids(search(t, r, "*:* -id:[2 TO 4]", 0, 10).Results))
}

func TestDeletedDocumentsNeverMatch(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	w, err := indexer.OpenWriter(ctx, dir, indexer.WriterOptions{Schema: titleSchema(t)})
	require.NoError(t, err)
	require.NoError(t, w.AddDocument(index.Document{"id": index.Int(1), "title": index.Text("golang generics")}))
	require.NoError(t, w.AddDocument(index.Document{"id": index.Int(2), "title": index.Text("golang maps")}))
	_, err = w.Commit()
	require.NoError(t, err)

	w, err = indexer.OpenWriter(ctx, dir, indexer.WriterOptions{Mode: indexer.ModeAppend, Schema: titleSchema(t)})
	require.NoError(t, err)
	_, err = w.DeleteDocuments("id", 1)
	require.NoError(t, err)
	_, err = w.Commit()
	require.NoError(t, err)

	r, err := indexer.OpenReader(ctx, dir)
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, []int{1}, ids(search(t, r, "golang", 0, 10).Results))
	assert.Empty(t, search(t, r, "generics", 0, 10).Results)
	assert.Equal(t, []int{1}, ids(search(t, r, "NOT maps OR golang", 0, 10).Results))
}

func TestRankingIsRepeatableAcrossRebuilds(t *testing.T) {
	titles := []string{"error handling in go", "go errors wrap", "handling panics", "errors are values"}
	a := buildIndex(t, 0, titles...)
	b := buildIndex(t, 0, titles...)
	for _, query := range []string{"errors", "handling OR go", "errors -wrap"} {
		assert.Equal(t, search(t, a, query, 0, 10).Results, search(t, b, query, 0, 10).Results, query)
		assert.Equal(t, search(t, a, query, 0, 10).Results, search(t, a, query, 0, 10).Results, query)
	}
}

func TestBM25Similarity(t *testing.T) {
	r := buildIndex(t, 0, "cats and dogs", "dogs in space")
	res, err := New(ranker.BM25{K1: 1.2, B: 0.75}).Execute(context.Background(), r, parse(t, r, "dogs"), 0, 10)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, ids(res.Results))
}

func TestExecuteValidatesPaging(t *testing.T) {
	r := buildIndex(t, 0, "x y")
	q := parse(t, r, "x")
	_, err := New(nil).Execute(context.Background(), r, q, -1, 10)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	_, err = New(nil).Execute(context.Background(), r, q, 0, 0)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestExecuteHonoursCancellation(t *testing.T) {
	r := buildIndex(t, 0, "x y")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(nil).Execute(ctx, r, parse(t, r, "x"), 0, 10)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExecuteOnClosedReader(t *testing.T) {
	r := buildIndex(t, 0, "cats and dogs", "dogs in space")
	q := parse(t, r, "dogs")
	require.NoError(t, r.Close())

	res, err := New(nil).Execute(context.Background(), r, q, 0, 10)
	assert.ErrorIs(t, err, apperrors.ErrInvalidState)
	assert.Nil(t, res)
	_, _, _, err = New(nil).TopDocs(context.Background(), r, q, 10)
	assert.ErrorIs(t, err, apperrors.ErrInvalidState)
}

func BenchmarkExecute(b *testing.B) {
	titles := make([]string, 2000)
	for i := range titles {
		titles[i] = fmt.Sprintf("question %d about goroutines channels and select statements %d", i, i%17)
	}
	r := buildIndex(b, 500, titles...)
	q := parse(b, r, "goroutines AND channels")
	exec := New(nil)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := exec.Execute(context.Background(), r, q, 0, 10); err != nil {
			b.Fatal(err)
		}
	}
}
