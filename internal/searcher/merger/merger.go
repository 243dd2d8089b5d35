// Package merger selects the best hits from per-segment result lists.
package merger

import (
	"container/heap"

	"github.com/ippousyuga/search-lucene/internal/searcher/ranker"
)

// TopK keeps the k best docs offered to it without sorting everything.
type TopK struct {
	k int
	h scoredDocHeap
}

func NewTopK(k int) *TopK {
	if k < 0 {
		k = 0
	}
	return &TopK{k: k, h: make(scoredDocHeap, 0, min(k, 1024))}
}

// Offer adds doc if it beats the current worst of the k kept.
func (t *TopK) Offer(doc ranker.ScoredDoc) {
	if t.k == 0 {
		return
	}
	if t.h.Len() < t.k {
		heap.Push(&t.h, doc)
		return
	}
	if ranker.Better(doc, t.h[0]) {
		t.h[0] = doc
		heap.Fix(&t.h, 0)
	}
}

func (t *TopK) Len() int { return t.h.Len() }

// Sorted drains the kept docs, best first.
func (t *TopK) Sorted() []ranker.ScoredDoc {
	result := make([]ranker.ScoredDoc, t.h.Len())
	for i := len(result) - 1; i >= 0; i-- {
		result[i] = heap.Pop(&t.h).(ranker.ScoredDoc)
	}
	return result
}

// Merge returns the best limit docs across segment results, best first.
func Merge(segmentResults [][]ranker.ScoredDoc, limit int) []ranker.ScoredDoc {
	if limit <= 0 {
		limit = 10
	}
	top := NewTopK(limit)
	for _, results := range segmentResults {
		for _, doc := range results {
			top.Offer(doc)
		}
	}
	return top.Sorted()
}

// scoredDocHeap is a min-heap: the root is the worst kept doc.
type scoredDocHeap []ranker.ScoredDoc

func (h scoredDocHeap) Len() int { return len(h) }

func (h scoredDocHeap) Less(i, j int) bool {
	return ranker.Better(h[j], h[i])
}

func (h scoredDocHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *scoredDocHeap) Push(x interface{}) {
	*h = append(*h, x.(ranker.ScoredDoc))
}

func (h *scoredDocHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
