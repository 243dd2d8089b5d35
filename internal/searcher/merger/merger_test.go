package merger

import (
	"math/rand"
	"testing"

	"github.com/ippousyuga/search-lucene/internal/searcher/ranker"
	"github.com/stretchr/testify/assert"
)

func TestMergeKeepsBestAcrossSegments(t *testing.T) {
	got := Merge([][]ranker.ScoredDoc{
		{{DocID: 0, Score: 1.5}, {DocID: 1, Score: 0.2}},
		{{DocID: 2, Score: 3}, {DocID: 3, Score: 1.5}},
		{{DocID: 4, Score: 0.1}},
	}, 3)
	assert.Equal(t, []ranker.ScoredDoc{{DocID: 2, Score: 3}, {DocID: 0, Score: 1.5}, {DocID: 3, Score: 1.5}}, got)
}

func TestTopKMatchesFullSort(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	all := make([]ranker.ScoredDoc, 500)
	for i := range all {
		all[i] = ranker.ScoredDoc{DocID: i, Score: float64(rng.Intn(20))}
	}
	for _, k := range []int{1, 7, 50, 499, 500, 600} {
		top := NewTopK(k)
		for _, d := range all {
			top.Offer(d)
		}
		want := append([]ranker.ScoredDoc(nil), all...)
		ranker.Sort(want)
		if k < len(want) {
			want = want[:k]
		}
		assert.Equal(t, want, top.Sorted(), "k=%d", k)
	}
}

func TestTopKZero(t *testing.T) {
	top := NewTopK(0)
	top.Offer(ranker.ScoredDoc{DocID: 1, Score: 1})
	assert.Zero(t, top.Len())
	assert.Empty(t, top.Sorted())
}
