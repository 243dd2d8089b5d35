package segment

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/ippousyuga/search-lucene/internal/indexer/index"
	apperrors "github.com/ippousyuga/search-lucene/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildData(t *testing.T, texts ...string) *index.SegmentData {
	t.Helper()
	schema, err := index.NewSchema(
		index.FieldSpec{Name: "id", Type: index.FieldInt64, Indexed: true, Stored: true},
		index.FieldSpec{Name: "body", Type: index.FieldText, Indexed: true, Stored: true},
	)
	require.NoError(t, err)
	m, err := index.NewMemoryIndex(schema)
	require.NoError(t, err)
	for i, text := range texts {
		_, err := m.AddDocument(index.Document{"id": index.Int(int64(1000 + i)), "body": index.Text(text)})
		require.NoError(t, err)
	}
	return m.Snapshot()
}

func writeAndOpen(t *testing.T, data *index.SegmentData) *Reader {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, NewWriter(dir).Write("seg_1_0"+Extension, data))
	r, err := OpenReader(filepath.Join(dir, "seg_1_0"+Extension))
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func TestSegmentRoundTrip(t *testing.T) {
	data := buildData(t, "cats and dogs", "dogs in space", "the quick brown fox jumps over the lazy dog")
	r := writeAndOpen(t, data)

	assert.Equal(t, 3, r.DocCount())
	assert.Equal(t, len(data.Terms), r.Terms())
	assert.True(t, r.Schema().Equal(data.Schema))

	for _, entry := range data.Terms {
		got, err := r.Postings(entry.Field, entry.Term)
		require.NoError(t, err)
		assert.Equal(t, entry.Postings, got, "term %s", entry.Term)
		assert.Equal(t, len(entry.Postings), r.DocFreq(entry.Field, entry.Term))
	}

	missing, err := r.Postings("body", "unicorn")
	require.NoError(t, err)
	assert.Nil(t, missing)
	assert.Zero(t, r.DocFreq("body", "unicorn"))

	dogs, err := r.Postings("body", "dog")
	require.NoError(t, err)
	require.Len(t, dogs, 3)
	assert.Equal(t, []uint32{0, 1, 2}, []uint32{dogs[0].DocID, dogs[1].DocID, dogs[2].DocID})
	assert.Equal(t, index.Span{Start: 9, End: 13}, dogs[0].Offsets[0])

	assert.Equal(t, uint32(2), r.FieldLength("body", 0))
	stats := r.FieldStats("body")
	assert.Equal(t, 3, stats.DocCount)
}

func TestSegmentStoredFieldsAcrossBlocks(t *testing.T) {
	texts := make([]string, 3*StoredBlockSize+5)
	for i := range texts {
		texts[i] = fmt.Sprintf("document number %d with some text", i)
	}
	r := writeAndOpen(t, buildData(t, texts...))

	for _, doc := range []uint32{0, 1, uint32(StoredBlockSize - 1), uint32(StoredBlockSize), uint32(len(texts) - 1)} {
		fields, err := r.StoredFields(doc)
		require.NoError(t, err)
		assert.Equal(t, index.Int(int64(1000+doc)), fields["id"])
		assert.Equal(t, texts[doc], fields["body"].Text)
	}

	_, err := r.StoredFields(uint32(len(texts)))
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestSegmentNumericRange(t *testing.T) {
	r := writeAndOpen(t, buildData(t, "a1", "b2", "c3", "d4"))

	assert.Equal(t, []uint32{1, 2}, r.NumericRange("id", 1001, 1002).ToArray())
	assert.Equal(t, []uint32{3}, r.NumericRange("id", 1003, 1003).ToArray())
	assert.True(t, r.NumericRange("id", 5000, 6000).IsEmpty())
	assert.True(t, r.NumericRange("missing", 0, 10).IsEmpty())
}

func TestSegmentWriteEmptyFails(t *testing.T) {
	err := NewWriter(t.TempDir()).Write("x"+Extension, &index.SegmentData{})
	assert.ErrorIs(t, err, apperrors.ErrInvalidState)
}

func TestSegmentCorruptionDetected(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, NewWriter(dir).Write("s"+Extension, buildData(t, "hello world")))
	path := filepath.Join(dir, "s"+Extension)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	raw[len(raw)-FooterSize-2] ^= 0xFF
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	_, err = OpenReader(path)
	assert.ErrorIs(t, err, apperrors.ErrIO)

	_, err = OpenReader(filepath.Join(dir, "absent"+Extension))
	assert.ErrorIs(t, err, apperrors.ErrIO)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestSegmentNoTempFileLeftBehind(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, NewWriter(dir).Write("s"+Extension, buildData(t, "x y z")))
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "s"+Extension, entries[0].Name())
}
