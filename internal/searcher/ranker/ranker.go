// Package ranker holds the relevance models used to score matches.
package ranker

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

const (
	k1 = 1.2
	b  = 0.75
)

const (
	SimilarityTFIDF = "tfidf"
	SimilarityBM25  = "bm25"
)

type ScoredDoc struct {
	DocID int     `json:"doc_id"`
	Score float64 `json:"score"`
}

// Better reports whether a ranks before b: higher score first, then the
// lower internal id.
func Better(a, b ScoredDoc) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.DocID < b.DocID
}

// Sort orders docs best first.
func Sort(docs []ScoredDoc) {
	sort.Slice(docs, func(i, j int) bool { return Better(docs[i], docs[j]) })
}

// Round keeps four decimals so that scores computed in different orders
// compare equal.
func Round(score float64) float64 {
	return math.Round(score*10000) / 10000
}

// FieldParams are the collection-wide statistics a field score depends on.
type FieldParams struct {
	TotalDocs    int64
	AvgDocLength float64
}

// Similarity scores one query term, or one phrase, in one document.
type Similarity interface {
	Name() string
	IDF(docFreq int64, params FieldParams) float64
	Score(termFreq float64, idf float64, docLength float64, params FieldParams) float64
}

// Lookup returns the similarity registered under name; empty selects TF-IDF.
func Lookup(name string) (Similarity, error) {
	switch strings.ToLower(name) {
	case "", SimilarityTFIDF:
		return TFIDF{}, nil
	case SimilarityBM25:
		return BM25{K1: k1, B: b}, nil
	}
	return nil, fmt.Errorf("unknown similarity %q", name)
}

// TFIDF is the classic vector-space weighting: sqrt(tf) * idf^2 scaled by
// 1/sqrt(field length).
type TFIDF struct{}

func (TFIDF) Name() string { return SimilarityTFIDF }

func (TFIDF) IDF(docFreq int64, params FieldParams) float64 {
	return 1 + math.Log(float64(params.TotalDocs+1)/float64(docFreq+1))
}

func (TFIDF) Score(termFreq, idf, docLength float64, _ FieldParams) float64 {
	if termFreq <= 0 {
		return 0
	}
	norm := 1.0
	if docLength > 0 {
		norm = 1 / math.Sqrt(docLength)
	}
	return math.Sqrt(termFreq) * idf * idf * norm
}

// BM25 is Okapi BM25.
type BM25 struct {
	K1 float64
	B  float64
}

func (BM25) Name() string { return SimilarityBM25 }

func (BM25) IDF(docFreq int64, params FieldParams) float64 {
	return computeIDF(params.TotalDocs, docFreq)
}

func (s BM25) Score(termFreq, idf, docLength float64, params FieldParams) float64 {
	return idf * s.tfNorm(termFreq, docLength, params.AvgDocLength)
}

func computeIDF(totalDocs int64, docFreq int64) float64 {
	numerator := float64(totalDocs) - float64(docFreq)
	if numerator < 0 {
		numerator = 0
	}
	denominator := float64(docFreq) + 0.5
	return math.Log(numerator/denominator + 1)
}

func (s BM25) tfNorm(termFreq float64, docLength float64, avgDocLength float64) float64 {
	if avgDocLength == 0 {
		return 0
	}
	lengthRatio := docLength / avgDocLength
	denominator := termFreq + s.K1*(1-s.B+s.B*lengthRatio)
	return (termFreq * (s.K1 + 1)) / denominator
}
