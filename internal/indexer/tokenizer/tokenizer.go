// Package tokenizer turns field text into normalised terms. Words are found
// with Unicode word segmentation, normalised (NFKC + case folding), filtered
// against a stop-word list and stemmed. Scripts written without spaces
// between words (Han, Hiragana, Katakana, Thai, Lao, Khmer, Myanmar) are
// indexed as overlapping character bigrams; combining marks stay attached to
// the character they modify. Single letters such as "C" or "R" are kept.
package tokenizer

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/clipperhouse/uax29/v2/words"
	"github.com/kljensen/snowball/english"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {},
	"be": {}, "by": {}, "for": {}, "from": {}, "has": {}, "he": {},
	"in": {}, "is": {}, "it": {}, "its": {}, "of": {}, "on": {},
	"or": {}, "that": {}, "the": {}, "to": {}, "was": {}, "were": {},
	"will": {}, "with": {}, "this": {}, "but": {}, "they": {},
	"have": {}, "had": {}, "what": {}, "when": {}, "where": {},
	"who": {}, "which": {}, "their": {}, "if": {}, "each": {},
	"do": {}, "not": {}, "no": {}, "so": {}, "can": {},
}

// Token is a normalised term with its position in the token stream and its
// byte span in the original text.
type Token struct {
	Term     string
	Start    int
	End      int
	Position int
}

// Analyzer converts one field value into tokens. Implementations must be
// deterministic and safe for concurrent use.
type Analyzer interface {
	Analyze(text string) []Token
}

const (
	StandardAnalyzer = "standard"
	KeywordAnalyzer  = "keyword"
)

// Lookup returns the analyzer registered under name. An empty name selects
// the standard analyzer.
func Lookup(name string) (Analyzer, error) {
	switch name {
	case "", StandardAnalyzer:
		return Standard{}, nil
	case KeywordAnalyzer:
		return Keyword{}, nil
	default:
		return nil, fmt.Errorf("unknown analyzer %q", name)
	}
}

// Tokenize runs the standard analyzer over text.
func Tokenize(text string) []Token {
	return Standard{}.Analyze(text)
}

// Standard segments text into words, drops stop words and stems Latin words.
// A dropped stop word still consumes a position so phrase distances hold.
type Standard struct{}

// bigramScripts lists scripts that have no spaces between words.
var bigramScripts = []*unicode.RangeTable{
	unicode.Han, unicode.Hiragana, unicode.Katakana,
	unicode.Thai, unicode.Lao, unicode.Khmer, unicode.Myanmar,
}

type charSpan struct {
	start, end int
}

func (Standard) Analyze(text string) []Token {
	if text == "" {
		return []Token{}
	}
	folder := cases.Fold()
	tokens := make([]Token, 0, len(text)/6)
	pos := 0
	var run []charSpan

	flush := func() {
		switch len(run) {
		case 0:
			return
		case 1:
			tokens = append(tokens, Token{Term: norm.NFKC.String(text[run[0].start:run[0].end]), Start: run[0].start, End: run[0].end, Position: pos})
			pos++
		default:
			for i := 0; i+1 < len(run); i++ {
				tokens = append(tokens, Token{
					Term:     norm.NFKC.String(text[run[i].start:run[i+1].end]),
					Start:    run[i].start,
					End:      run[i+1].end,
					Position: pos,
				})
				pos++
			}
		}
		run = run[:0]
	}

	segments := words.FromString(text)
	offset := 0
	for segments.Next() {
		seg := segments.Value()
		start := offset
		offset += len(seg)
		if !isWord(seg) {
			flush()
			continue
		}
		if isBigramScript(seg) {
			for i, r := range seg {
				at, end := start+i, start+i+utf8.RuneLen(r)
				if n := len(run); n > 0 && isMark(r) && run[n-1].end == at {
					run[n-1].end = end
					continue
				}
				run = append(run, charSpan{start: at, end: end})
			}
			continue
		}
		flush()

		term := folder.String(norm.NFKC.String(seg))
		if _, isStop := stopWords[term]; isStop {
			pos++
			continue
		}
		if isASCIILetters(term) {
			term = english.Stem(term, true)
		}
		tokens = append(tokens, Token{Term: term, Start: start, End: start + len(seg), Position: pos})
		pos++
	}
	flush()
	return tokens
}

// Keyword emits the whole value as a single case-folded term.
type Keyword struct{}

func (Keyword) Analyze(text string) []Token {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return []Token{}
	}
	start := strings.Index(text, trimmed)
	return []Token{{
		Term:     cases.Fold().String(norm.NFKC.String(trimmed)),
		Start:    start,
		End:      start + len(trimmed),
		Position: 0,
	}}
}

func isWord(seg string) bool {
	for _, r := range seg {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

// isBigramScript reports whether seg is written in a script without word
// spaces. Combining marks and the Katakana prolonged sound mark, which Unicode
// assigns to no single script, may appear inside such a run.
func isBigramScript(seg string) bool {
	letters := 0
	for _, r := range seg {
		switch {
		case isMark(r) || r == 'ー' || r == 'ｰ':
		case unicode.In(r, bigramScripts...):
			letters++
		default:
			return false
		}
	}
	return letters > 0
}

func isMark(r rune) bool {
	return unicode.In(r, unicode.Mn, unicode.Mc, unicode.Me)
}

func isASCIILetters(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < 'a' || c > 'z' {
			return false
		}
	}
	return true
}
