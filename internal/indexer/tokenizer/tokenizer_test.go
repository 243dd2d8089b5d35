package tokenizer

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func terms(tokens []Token) []string {
	out := make([]string, len(tokens))
	for i, t := range tokens {
		out[i] = t.Term
	}
	return out
}

func TestTokenizeStemsAndDropsStopWords(t *testing.T) {
	tokens := Tokenize("Cats and Dogs")
	require.Len(t, tokens, 2)
	assert.Equal(t, []string{"cat", "dog"}, terms(tokens))
	assert.Equal(t, 0, tokens[0].Position)
	assert.Equal(t, 2, tokens[1].Position, "stop word keeps its position slot")
}

func TestTokenizeOffsetsPointIntoOriginal(t *testing.T) {
	text := "the  Quick, brown fox!"
	for _, tok := range Tokenize(text) {
		original := text[tok.Start:tok.End]
		assert.Equal(t, Tokenize(original)[0].Term, tok.Term, "span %q", original)
	}
	tokens := Tokenize(text)
	require.NotEmpty(t, tokens)
	assert.Equal(t, "Quick", text[tokens[0].Start:tokens[0].End])
}

func TestTokenizeEmptyAndPunctuation(t *testing.T) {
	assert.Empty(t, Tokenize(""))
	assert.Empty(t, Tokenize("  ,.;!  "))
}

func TestTokenizeNormalizesWidthAndCase(t *testing.T) {
	assert.Equal(t, terms(Tokenize("go")), terms(Tokenize("ＧＯ")))
	assert.Equal(t, terms(Tokenize("strasse")), terms(Tokenize("STRASSE")))
}

func TestTokenizeCJKBigrams(t *testing.T) {
	tokens := Tokenize("搜索引擎")
	assert.Equal(t, []string{"搜索", "索引", "引擎"}, terms(tokens))
	assert.Equal(t, []int{0, 1, 2}, []int{tokens[0].Position, tokens[1].Position, tokens[2].Position})
	assert.Equal(t, "索引", "搜索引擎"[tokens[1].Start:tokens[1].End])

	single := Tokenize("书")
	require.Len(t, single, 1)
	assert.Equal(t, "书", single[0].Term)
}

func TestTokenizeKatakanaBigrams(t *testing.T) {
	assert.Equal(t, []string{"コン", "ンピ", "ピュ", "ュー", "ータ"}, terms(Tokenize("コンピュータ")))

	compound := terms(Tokenize("コンピュータサイエンス"))
	assert.Subset(t, compound, terms(Tokenize("サイエンス")), "part of a compound matches")
}

func TestTokenizeThaiBigramsKeepMarks(t *testing.T) {
	assert.Equal(t, []string{"ภา", "าษ", "ษา", "าไ", "ไท", "ทย"}, terms(Tokenize("ภาษาไทย")))

	text := "ง่าย"
	tokens := Tokenize(text)
	assert.Equal(t, []string{"ง่า", "าย"}, terms(tokens))
	assert.Equal(t, 0, tokens[0].Start)
	assert.Equal(t, len(text), tokens[1].End)

	long := terms(Tokenize("ภาษาไทยง่ายนิดเดียว"))
	assert.Len(t, long, 15, "every character takes part in a bigram")
	assert.Contains(t, long, "นิด")
}

func TestTokenizeKeepsSingleLetters(t *testing.T) {
	assert.Equal(t, []string{"c", "r", "7"}, terms(Tokenize("C or R 7")))
}

func TestTokenizeMixedScripts(t *testing.T) {
	got := terms(Tokenize("Lucene 搜索 engines"))
	assert.Equal(t, []string{"lucen", "搜索", "engin"}, got)
}

func TestTokenizeDeterministic(t *testing.T) {
	text := "Running runners ran quickly through 東京の街"
	assert.Equal(t, Tokenize(text), Tokenize(text))
}

func TestKeywordAnalyzer(t *testing.T) {
	a, err := Lookup(KeywordAnalyzer)
	require.NoError(t, err)
	tokens := a.Analyze("  New York ")
	require.Len(t, tokens, 1)
	assert.Equal(t, "new york", tokens[0].Term)
	assert.Equal(t, 2, tokens[0].Start)
	assert.Empty(t, a.Analyze("   "))
}

func TestLookupUnknown(t *testing.T) {
	_, err := Lookup("klingon")
	assert.Error(t, err)
}

func BenchmarkTokenize(b *testing.B) {
	text := "Distributed search systems shard inverted indexes across nodes and merge ranked results from every shard before returning them"
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		Tokenize(text)
	}
}

func BenchmarkTokenizeParallel(b *testing.B) {
	text := "Distributed search systems shard inverted indexes across nodes and merge ranked results"
	b.ReportAllocs()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			Tokenize(text)
		}
	})
}

func BenchmarkTokenizeVaryingSize(b *testing.B) {
	word := "goroutines "
	for _, n := range []int{10, 100, 1000} {
		text := strings.Repeat(word, n)
		b.Run(fmt.Sprintf("words_%d", n), func(b *testing.B) {
			b.SetBytes(int64(len(text)))
			for i := 0; i < b.N; i++ {
				Tokenize(text)
			}
		})
	}
}
