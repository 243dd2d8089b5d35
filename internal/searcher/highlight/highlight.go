// Package highlight extracts the best fragment of a hit's text and marks the
// tokens that matched the query.
package highlight

import (
	"html"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/ippousyuga/search-lucene/internal/indexer/tokenizer"
	"github.com/ippousyuga/search-lucene/internal/searcher/parser"
)

const (
	DefaultPre          = "<span style='color:red'>"
	DefaultPost         = "</span>"
	DefaultFragmentSize = 100
)

// Highlighter wraps matched tokens in Pre and Post. When Escape is set the
// text is HTML-escaped, the markers are written as given.
type Highlighter struct {
	Pre          string
	Post         string
	FragmentSize int
	Escape       bool
}

func New() *Highlighter {
	return &Highlighter{Pre: DefaultPre, Post: DefaultPost, FragmentSize: DefaultFragmentSize}
}

// Highlight returns the window of text, at most FragmentSize bytes, holding
// the most distinct query terms, then the most matches, the earliest window
// winning ties. Text no longer than FragmentSize is returned whole. When
// nothing matches the text is returned without markers.
func (h *Highlighter) Highlight(q parser.Query, field, text string, tokens []tokenizer.Token) string {
	marked := matchTokens(q, field, tokens)
	if len(marked) == 0 {
		return h.escape(text)
	}

	size := h.FragmentSize
	if size <= 0 {
		size = DefaultFragmentSize
	}
	from, to := 0, len(text)
	if len(text) > size {
		from, to = bestWindow(marked, text, size)
	}

	var sb strings.Builder
	sb.Grow(to - from + len(marked)*(len(h.Pre)+len(h.Post)))
	pos := from
	for _, sp := range mergeSpans(marked) {
		if sp.start < from || sp.end > to {
			continue
		}
		sb.WriteString(h.escape(text[pos:sp.start]))
		sb.WriteString(h.Pre)
		sb.WriteString(h.escape(text[sp.start:sp.end]))
		sb.WriteString(h.Post)
		pos = sp.end
	}
	sb.WriteString(h.escape(text[pos:to]))
	return sb.String()
}

type span struct {
	start, end int
}

// mergeSpans joins overlapping matches, such as consecutive CJK bigrams, so
// each run is marked once.
func mergeSpans(marked []tokenizer.Token) []span {
	var out []span
	for _, t := range marked {
		if n := len(out); n > 0 && t.Start < out[n-1].end {
			out[n-1].end = max(out[n-1].end, t.End)
			continue
		}
		out = append(out, span{t.Start, t.End})
	}
	return out
}

func (h *Highlighter) escape(s string) string {
	if !h.Escape {
		return s
	}
	return html.EscapeString(s)
}

// bestWindow picks the densest run of marked tokens that fits in size bytes
// and pads it with surrounding text, cut at the edges of marked tokens or
// of whitespace so no word is split.
func bestWindow(marked []tokenizer.Token, text string, size int) (int, int) {
	bestStart, bestEnd := 0, 0
	bestUnique, bestTotal := -1, -1
	for i := range marked {
		if marked[i].End-marked[i].Start > size {
			continue
		}
		terms := map[string]struct{}{}
		total := 0
		end := i
		for j := i; j < len(marked) && marked[j].End-marked[i].Start <= size; j++ {
			terms[marked[j].Term] = struct{}{}
			total++
			end = j
		}
		if len(terms) > bestUnique || (len(terms) == bestUnique && total > bestTotal) {
			bestUnique, bestTotal = len(terms), total
			bestStart, bestEnd = marked[i].Start, marked[end].End
		}
	}
	if bestUnique < 0 {
		// every match is longer than a fragment
		return marked[0].Start, marked[0].End
	}

	slack := size - (bestEnd - bestStart)
	from := max(0, bestStart-slack/2)
	to := min(len(text), from+size)
	if to-from < size {
		from = max(0, to-size)
	}
	return snap(text, from, to, bestStart, bestEnd)
}

// snap moves from forward and to backward onto word boundaries without
// crossing into [keepFrom, keepTo), then drops the spaces at both ends.
func snap(text string, from, to, keepFrom, keepTo int) (int, int) {
	if from > 0 {
		if r, _ := utf8.DecodeLastRuneInString(text[:from]); !unicode.IsSpace(r) {
			if i := strings.IndexFunc(text[from:keepFrom], unicode.IsSpace); i >= 0 {
				from += i
			}
		}
	}
	for from < keepFrom && !utf8.RuneStart(text[from]) {
		from++
	}
	for from < keepFrom {
		r, size := utf8.DecodeRuneInString(text[from:])
		if !unicode.IsSpace(r) {
			break
		}
		from += size
	}

	if to < len(text) {
		if r, _ := utf8.DecodeRuneInString(text[to:]); !unicode.IsSpace(r) {
			if i := strings.LastIndexFunc(text[keepTo:to], unicode.IsSpace); i >= 0 {
				to = keepTo + i
			}
		}
	}
	for to > keepTo && to < len(text) && !utf8.RuneStart(text[to]) {
		to--
	}
	for to > keepTo {
		r, size := utf8.DecodeLastRuneInString(text[:to])
		if !unicode.IsSpace(r) {
			break
		}
		to -= size
	}
	return from, to
}

// matchTokens returns the tokens of field that the positive clauses of q
// match. Phrase terms only count where the whole phrase occurs.
func matchTokens(q parser.Query, field string, tokens []tokenizer.Token) []tokenizer.Token {
	terms := map[string]struct{}{}
	var phrases []*parser.PhraseQuery
	collect(q, field, terms, &phrases)
	if len(terms) == 0 && len(phrases) == 0 {
		return nil
	}

	hit := make([]bool, len(tokens))
	for i, t := range tokens {
		if _, ok := terms[t.Term]; ok {
			hit[i] = true
		}
	}
	byPosition := make(map[int]int, len(tokens))
	for i, t := range tokens {
		if _, dup := byPosition[t.Position]; !dup {
			byPosition[t.Position] = i
		}
	}
	for _, ph := range phrases {
		for i, t := range tokens {
			if t.Term != ph.Terms[0] {
				continue
			}
			idx := make([]int, len(ph.Terms))
			ok := true
			for k := range ph.Terms {
				j, found := byPosition[t.Position+ph.Positions[k]-ph.Positions[0]]
				if !found || tokens[j].Term != ph.Terms[k] {
					ok = false
					break
				}
				idx[k] = j
			}
			if !ok {
				continue
			}
			hit[i] = true
			for _, j := range idx {
				hit[j] = true
			}
		}
	}

	var out []tokenizer.Token
	for i, t := range tokens {
		if hit[i] {
			out = append(out, t)
		}
	}
	return out
}

func collect(q parser.Query, field string, terms map[string]struct{}, phrases *[]*parser.PhraseQuery) {
	switch q := q.(type) {
	case *parser.TermQuery:
		if q.Field == field {
			terms[q.Term] = struct{}{}
		}
	case *parser.PhraseQuery:
		if q.Field == field {
			*phrases = append(*phrases, q)
		}
	case *parser.BooleanQuery:
		for _, c := range q.Clauses {
			if c.Occur != parser.MustNot {
				collect(c.Query, field, terms, phrases)
			}
		}
	}
}
