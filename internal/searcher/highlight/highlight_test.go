package highlight

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/ippousyuga/search-lucene/internal/indexer/index"
	"github.com/ippousyuga/search-lucene/internal/indexer/tokenizer"
	"github.com/ippousyuga/search-lucene/internal/searcher/parser"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func highlight(t *testing.T, h *Highlighter, query, text string) string {
	t.Helper()
	schema, err := index.NewSchema(
		index.FieldSpec{Name: "id", Type: index.FieldInt64, Indexed: true, Stored: true},
		index.FieldSpec{Name: "body", Type: index.FieldText, Indexed: true, Stored: true},
	)
	require.NoError(t, err)
	q, err := parser.Parse(query, parser.Options{DefaultField: "body", Schema: schema})
	require.NoError(t, err)
	return h.Highlight(q, "body", text, tokenizer.Tokenize(text))
}

func bold() *Highlighter {
	return &Highlighter{Pre: "<b>", Post: "</b>", FragmentSize: DefaultFragmentSize}
}

func TestHighlightSingleTerm(t *testing.T) {
	got := highlight(t, New(), "quick", "the quick brown fox")
	assert.Equal(t, "the <span style='color:red'>quick</span> brown fox", got)
}

func TestHighlightKeepsOriginalSurfaceForms(t *testing.T) {
	got := highlight(t, bold(), "dog", "Running DOGS chase dogs")
	assert.Equal(t, "Running <b>DOGS</b> chase <b>dogs</b>", got)
}

func TestHighlightNoMatchReturnsText(t *testing.T) {
	text := "nothing to see here"
	assert.Equal(t, text, highlight(t, bold(), "unicorn", text))
	assert.Equal(t, text, highlight(t, bold(), "questionless -here", text))
}

func TestHighlightSkipsExcludedTerms(t *testing.T) {
	got := highlight(t, bold(), "cats -dogs", "cats and dogs")
	assert.Equal(t, "<b>cats</b> and dogs", got)
}

func TestHighlightPhraseOnlyWhereItOccurs(t *testing.T) {
	got := highlight(t, bold(), `"brown fox"`, "a fox saw the brown fox")
	assert.Equal(t, "a fox saw the <b>brown</b> <b>fox</b>", got)
}

func TestHighlightEscapesTextNotMarkers(t *testing.T) {
	h := New()
	h.Escape = true
	got := highlight(t, h, "quick", `if a < b && "quick" then`)
	assert.Equal(t, `if a &lt; b &amp;&amp; &#34;<span style='color:red'>quick</span>&#34; then`, got)

	// already-escaped entities in the source are escaped exactly once
	got = highlight(t, h, "fox", "fox &amp; hound")
	assert.Equal(t, "<span style='color:red'>fox</span> &amp;amp; hound", got)

	h.Escape = false
	got = highlight(t, h, "quick", "<i>quick</i>")
	assert.Equal(t, "<i><span style='color:red'>quick</span></i>", got)
}

func TestHighlightCJKRunIsMarkedOnce(t *testing.T) {
	got := highlight(t, bold(), "搜索引擎", "全文搜索引擎")
	assert.Equal(t, "全文<b>搜索引擎</b>", got)
}

func TestHighlightPicksDensestFragment(t *testing.T) {
	filler := strings.Repeat("lorem ipsum dolor sit amet ", 8)
	text := "goroutines are cheap. " + filler + "use channels with goroutines for fan out. " + filler
	require.Greater(t, len(text), DefaultFragmentSize)

	got := highlight(t, bold(), "goroutines channels", text)
	assert.Contains(t, got, "<b>channels</b> with <b>goroutines</b>")
	assert.NotContains(t, got, "cheap")

	plain := strings.NewReplacer("<b>", "", "</b>", "").Replace(got)
	assert.LessOrEqual(t, len(plain), DefaultFragmentSize)
	assert.True(t, strings.Contains(text, plain), "fragment is a contiguous slice of the text")
	assert.False(t, strings.HasPrefix(plain, " "))
	for _, w := range strings.Fields(plain) {
		assert.Contains(t, text, " "+w, "fragment starts on a word boundary")
		break
	}
}

func TestHighlightEarliestWindowWinsTies(t *testing.T) {
	filler := strings.Repeat("x", 120)
	text := "first match " + filler + " second match"
	got := highlight(t, bold(), "match", text)
	assert.Contains(t, got, "first <b>match</b>")
	assert.NotContains(t, got, "second")
}

func TestHighlightFragmentKeepsRunesIntact(t *testing.T) {
	text := strings.Repeat("é", 80) + " target " + strings.Repeat("ü", 80)
	got := highlight(t, bold(), "target", text)
	assert.True(t, utf8.ValidString(got))
	assert.Contains(t, got, "<b>target</b>")
}
