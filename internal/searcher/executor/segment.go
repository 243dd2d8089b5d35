package executor

import (
	"context"
	"sort"

	"github.com/RoaringBitmap/roaring"
	"github.com/ippousyuga/search-lucene/internal/indexer"
	"github.com/ippousyuga/search-lucene/internal/indexer/index"
	"github.com/ippousyuga/search-lucene/internal/searcher/merger"
	"github.com/ippousyuga/search-lucene/internal/searcher/parser"
	"github.com/ippousyuga/search-lucene/internal/searcher/ranker"
)

// constantScore is what range and match-all clauses contribute.
const constantScore = 1.0

// matches is the result of evaluating a query node on one segment: the
// matching local ids and the score of each of them.
type matches struct {
	docs   *roaring.Bitmap
	scores map[uint32]float64
}

func emptyMatches() *matches {
	return &matches{docs: roaring.New(), scores: map[uint32]float64{}}
}

func (m *matches) constant(docs *roaring.Bitmap) *matches {
	m.docs = docs
	m.scores = make(map[uint32]float64, docs.GetCardinality())
	it := docs.Iterator()
	for it.HasNext() {
		m.scores[it.Next()] = constantScore
	}
	return m
}

type segmentEval struct {
	ctx   context.Context
	seg   *indexer.SegmentView
	stats *collectionStats
	sim   ranker.Similarity
}

func (e *segmentEval) topDocs(q parser.Query, k int) ([]ranker.ScoredDoc, int, error) {
	m, err := e.eval(q)
	if err != nil {
		return nil, 0, err
	}
	if !e.seg.Deleted.IsEmpty() {
		m.docs.AndNot(e.seg.Deleted)
	}
	top := merger.NewTopK(min(k, int(m.docs.GetCardinality())))
	it := m.docs.Iterator()
	for n := 0; it.HasNext(); n++ {
		if n%4096 == 0 {
			if err := e.ctx.Err(); err != nil {
				return nil, 0, err
			}
		}
		local := it.Next()
		top.Offer(ranker.ScoredDoc{
			DocID: e.seg.Base + int(local),
			Score: ranker.Round(m.scores[local]),
		})
	}
	return top.Sorted(), int(m.docs.GetCardinality()), nil
}

func (e *segmentEval) eval(q parser.Query) (*matches, error) {
	if err := e.ctx.Err(); err != nil {
		return nil, err
	}
	switch q := q.(type) {
	case *parser.TermQuery:
		return e.term(q)
	case *parser.PhraseQuery:
		return e.phrase(q)
	case *parser.BooleanQuery:
		return e.boolean(q)
	case *parser.RangeQuery:
		return emptyMatches().constant(e.seg.NumericRange(q.Field, q.Min, q.Max)), nil
	case *parser.MatchAllQuery:
		return emptyMatches().constant(e.allDocs()), nil
	}
	return emptyMatches(), nil
}

func (e *segmentEval) allDocs() *roaring.Bitmap {
	all := roaring.New()
	all.AddRange(0, uint64(e.seg.DocCount()))
	return all
}

func (e *segmentEval) term(q *parser.TermQuery) (*matches, error) {
	postings, err := e.seg.Postings(q.Field, q.Term)
	if err != nil {
		return nil, err
	}
	m := emptyMatches()
	if len(postings) == 0 {
		return m, nil
	}
	idf := e.stats.idf[termKey{q.Field, q.Term}]
	params := e.stats.params[q.Field]
	for _, p := range postings {
		m.docs.Add(p.DocID)
		m.scores[p.DocID] = e.sim.Score(float64(p.Frequency), idf, float64(e.seg.FieldLength(q.Field, p.DocID)), params)
	}
	return m, nil
}

// phrase intersects the postings of all terms and keeps documents where
// the terms occur at the phrase's relative positions.
func (e *segmentEval) phrase(q *parser.PhraseQuery) (*matches, error) {
	m := emptyMatches()
	lists := make([]index.PostingList, len(q.Terms))
	idf := 0.0
	for i, term := range q.Terms {
		postings, err := e.seg.Postings(q.Field, term)
		if err != nil {
			return nil, err
		}
		if len(postings) == 0 {
			return m, nil
		}
		lists[i] = postings
		idf += e.stats.idf[termKey{q.Field, term}]
	}

	candidates := docSet(lists[0])
	for _, l := range lists[1:] {
		candidates.And(docSet(l))
	}
	params := e.stats.params[q.Field]
	it := candidates.Iterator()
	for it.HasNext() {
		doc := it.Next()
		freq := phraseFreq(lists, q.Positions, doc)
		if freq == 0 {
			continue
		}
		m.docs.Add(doc)
		m.scores[doc] = e.sim.Score(float64(freq), idf, float64(e.seg.FieldLength(q.Field, doc)), params)
	}
	return m, nil
}

func docSet(postings index.PostingList) *roaring.Bitmap {
	bm := roaring.New()
	for _, p := range postings {
		bm.Add(p.DocID)
	}
	return bm
}

func findPosting(postings index.PostingList, doc uint32) *index.Posting {
	i := sort.Search(len(postings), func(i int) bool { return postings[i].DocID >= doc })
	if i < len(postings) && postings[i].DocID == doc {
		return &postings[i]
	}
	return nil
}

// phraseFreq counts the start positions of the first term from which every
// other term is found at its relative offset.
func phraseFreq(lists []index.PostingList, rel []int, doc uint32) int {
	positions := make([][]int, len(lists))
	for i, l := range lists {
		p := findPosting(l, doc)
		if p == nil {
			return 0
		}
		positions[i] = p.Positions
	}
	freq := 0
	for _, start := range positions[0] {
		matched := true
		for i := 1; i < len(positions); i++ {
			want := start + rel[i] - rel[0]
			j := sort.SearchInts(positions[i], want)
			if j >= len(positions[i]) || positions[i][j] != want {
				matched = false
				break
			}
		}
		if matched {
			freq++
		}
	}
	return freq
}

// boolean combines clause results with bitmap algebra. Scores of the
// positive clauses a document matches are summed.
func (e *segmentEval) boolean(q *parser.BooleanQuery) (*matches, error) {
	var must, should []*matches
	excluded := roaring.New()
	for _, c := range q.Clauses {
		m, err := e.eval(c.Query)
		if err != nil {
			return nil, err
		}
		switch c.Occur {
		case parser.Must:
			must = append(must, m)
		case parser.Should:
			should = append(should, m)
		case parser.MustNot:
			excluded.Or(m.docs)
		}
	}

	var docs *roaring.Bitmap
	switch {
	case len(must) > 0:
		docs = must[0].docs.Clone()
		for _, m := range must[1:] {
			docs.And(m.docs)
		}
	case len(should) > 0:
		docs = roaring.New()
		for _, m := range should {
			docs.Or(m.docs)
		}
	case !excluded.IsEmpty() || len(q.Clauses) > 0:
		// only negative clauses: everything that is not excluded
		base := emptyMatches().constant(e.allDocs())
		must = append(must, base)
		docs = base.docs.Clone()
	default:
		return emptyMatches(), nil
	}
	docs.AndNot(excluded)

	result := &matches{docs: docs, scores: make(map[uint32]float64, docs.GetCardinality())}
	it := docs.Iterator()
	for it.HasNext() {
		doc := it.Next()
		score := 0.0
		for _, m := range must {
			score += m.scores[doc]
		}
		for _, m := range should {
			score += m.scores[doc]
		}
		result.scores[doc] = score
	}
	return result, nil
}
