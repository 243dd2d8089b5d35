package index

import (
	"sort"
	"sync"

	"github.com/ippousyuga/search-lucene/internal/indexer/tokenizer"
)

// MemoryIndex buffers documents for one pending segment. Document ids are
// assigned densely from zero in insertion order, so every posting list is
// built already sorted.
type MemoryIndex struct {
	mu        sync.RWMutex
	schema    Schema
	analyzers map[string]tokenizer.Analyzer
	terms     map[string]map[string]*PostingList
	stored    []Document
	lengths   map[string][]uint32
	points    map[string][]Point
	docCount  int
	size      int64
}

func NewMemoryIndex(schema Schema) (*MemoryIndex, error) {
	if err := schema.Validate(); err != nil {
		return nil, err
	}
	analyzers := make(map[string]tokenizer.Analyzer)
	for _, f := range schema.Fields {
		if f.Type == FieldText && f.Indexed {
			a, err := tokenizer.Lookup(f.Analyzer)
			if err != nil {
				return nil, err
			}
			analyzers[f.Name] = a
		}
	}
	m := &MemoryIndex{schema: schema, analyzers: analyzers}
	m.reset()
	return m, nil
}

// AddDocument analyses doc and appends it, returning its local id.
func (m *MemoryIndex) AddDocument(doc Document) (uint32, error) {
	if err := m.schema.Check(doc); err != nil {
		return 0, err
	}

	type fieldTerms struct {
		field  string
		length uint32
		terms  map[string]*Posting
	}
	analysed := make([]fieldTerms, 0, len(m.analyzers))
	for field, analyzer := range m.analyzers {
		v, ok := doc[field]
		if !ok {
			continue
		}
		tokens := analyzer.Analyze(v.Text)
		termData := make(map[string]*Posting, len(tokens))
		for _, token := range tokens {
			p, exists := termData[token.Term]
			if !exists {
				p = &Posting{
					Positions: make([]int, 0, 2),
					Offsets:   make([]Span, 0, 2),
				}
				termData[token.Term] = p
			}
			p.Frequency++
			p.Positions = append(p.Positions, token.Position)
			p.Offsets = append(p.Offsets, Span{Start: token.Start, End: token.End})
		}
		analysed = append(analysed, fieldTerms{field: field, length: uint32(len(tokens)), terms: termData})
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	docID := uint32(m.docCount)
	for _, ft := range analysed {
		byTerm, ok := m.terms[ft.field]
		if !ok {
			byTerm = make(map[string]*PostingList)
			m.terms[ft.field] = byTerm
		}
		for term, posting := range ft.terms {
			posting.DocID = docID
			list, exists := byTerm[term]
			if !exists {
				list = &PostingList{}
				byTerm[term] = list
				m.size += int64(len(ft.field) + len(term) + 48)
			}
			*list = append(*list, *posting)
			m.size += int64(len(posting.Positions)*24 + 32)
		}
	}
	for field := range m.analyzers {
		var length uint32
		for _, ft := range analysed {
			if ft.field == field {
				length = ft.length
			}
		}
		m.lengths[field] = append(m.lengths[field], length)
	}

	stored := make(Document)
	for _, f := range m.schema.Fields {
		v, ok := doc[f.Name]
		if !ok {
			continue
		}
		if f.Stored {
			stored[f.Name] = v
			m.size += int64(len(v.Text) + 16)
		}
		if f.Type == FieldInt64 && f.Indexed {
			m.points[f.Name] = append(m.points[f.Name], Point{Value: v.Int, DocID: docID})
			m.size += 16
		}
	}
	m.stored = append(m.stored, stored)
	m.docCount++
	return docID, nil
}

// Search returns the buffered postings of (field, term).
func (m *MemoryIndex) Search(field, term string) PostingList {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list, ok := m.terms[field][term]
	if !ok {
		return nil
	}
	result := make(PostingList, len(*list))
	copy(result, *list)
	return result
}

// Snapshot returns the buffered content in segment order: terms sorted by
// (field, term) and points sorted by (value, doc).
func (m *MemoryIndex) Snapshot() *SegmentData {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := make([]TermEntry, 0)
	for field, byTerm := range m.terms {
		for term, list := range byTerm {
			postings := make(PostingList, len(*list))
			copy(postings, *list)
			entries = append(entries, TermEntry{Field: field, Term: term, Postings: postings})
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Field != entries[j].Field {
			return entries[i].Field < entries[j].Field
		}
		return entries[i].Term < entries[j].Term
	})

	lengths := make(map[string][]uint32, len(m.lengths))
	for field, l := range m.lengths {
		lengths[field] = append([]uint32(nil), l...)
	}
	points := make(map[string][]Point, len(m.points))
	for field, p := range m.points {
		sorted := append([]Point(nil), p...)
		sort.Slice(sorted, func(i, j int) bool {
			if sorted[i].Value != sorted[j].Value {
				return sorted[i].Value < sorted[j].Value
			}
			return sorted[i].DocID < sorted[j].DocID
		})
		points[field] = sorted
	}
	stored := append([]Document(nil), m.stored...)

	return &SegmentData{
		Schema:   m.schema,
		DocCount: m.docCount,
		Terms:    entries,
		Stored:   stored,
		Lengths:  lengths,
		Points:   points,
	}
}

func (m *MemoryIndex) Size() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.size
}

func (m *MemoryIndex) DocCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.docCount
}

func (m *MemoryIndex) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reset()
}

func (m *MemoryIndex) reset() {
	m.terms = make(map[string]map[string]*PostingList)
	m.stored = nil
	m.lengths = make(map[string][]uint32)
	m.points = make(map[string][]Point)
	m.docCount = 0
	m.size = 0
}
