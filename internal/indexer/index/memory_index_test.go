package index

import (
	"errors"
	"testing"

	apperrors "github.com/ippousyuga/search-lucene/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSchema(t *testing.T) Schema {
	t.Helper()
	s, err := NewSchema(
		FieldSpec{Name: "id", Type: FieldInt64, Indexed: true, Stored: true},
		FieldSpec{Name: "body", Type: FieldText, Indexed: true, Stored: true},
	)
	require.NoError(t, err)
	return s
}

func TestSchemaValidate(t *testing.T) {
	_, err := NewSchema()
	assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))

	_, err = NewSchema(
		FieldSpec{Name: "a", Type: FieldText, Indexed: true},
		FieldSpec{Name: "a", Type: FieldText, Stored: true},
	)
	assert.ErrorContains(t, err, "duplicate field")

	_, err = NewSchema(FieldSpec{Name: "n", Type: FieldInt64, Indexed: true, Analyzer: "standard"})
	assert.Error(t, err)

	_, err = NewSchema(FieldSpec{Name: "x", Type: FieldText})
	assert.ErrorContains(t, err, "neither indexed nor stored")
}

func TestSchemaCheck(t *testing.T) {
	s := testSchema(t)
	assert.NoError(t, s.Check(Document{"id": Int(1), "body": Text("x")}))
	assert.ErrorIs(t, s.Check(Document{"id": Text("1")}), apperrors.ErrInvalidInput)
	assert.ErrorIs(t, s.Check(Document{"nope": Text("1")}), apperrors.ErrInvalidInput)
	assert.ErrorIs(t, s.Check(Document{}), apperrors.ErrInvalidInput)
}

func TestMemoryIndexAssignsDenseIDs(t *testing.T) {
	m, err := NewMemoryIndex(testSchema(t))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		id, err := m.AddDocument(Document{"id": Int(int64(100 + i)), "body": Text("shared words here")})
		require.NoError(t, err)
		assert.Equal(t, uint32(i), id)
	}
	assert.Equal(t, 3, m.DocCount())

	postings := m.Search("body", "share")
	require.Len(t, postings, 3)
	for i, p := range postings {
		assert.Equal(t, uint32(i), p.DocID)
		assert.Equal(t, 1, p.Frequency)
		assert.Equal(t, []int{0}, p.Positions)
	}
}

func TestMemoryIndexSnapshot(t *testing.T) {
	m, err := NewMemoryIndex(testSchema(t))
	require.NoError(t, err)
	_, err = m.AddDocument(Document{"id": Int(9), "body": Text("zebra apple apple")})
	require.NoError(t, err)
	_, err = m.AddDocument(Document{"id": Int(3), "body": Text("apple")})
	require.NoError(t, err)

	snap := m.Snapshot()
	require.Equal(t, 2, snap.DocCount)
	require.Len(t, snap.Terms, 2)
	assert.Equal(t, "appl", snap.Terms[0].Term)
	assert.Equal(t, "zebra", snap.Terms[1].Term)
	assert.Equal(t, 2, snap.Terms[0].Postings[0].Frequency)
	assert.Equal(t, []uint32{3, 1}, snap.Lengths["body"])
	assert.Equal(t, []Point{{Value: 3, DocID: 1}, {Value: 9, DocID: 0}}, snap.Points["id"])
	assert.Equal(t, Int(9), snap.Stored[0]["id"])
	assert.Equal(t, "zebra apple apple", snap.Stored[0]["body"].Text)

	m.Reset()
	assert.Zero(t, m.DocCount())
	assert.Zero(t, m.Size())
}

func TestMemoryIndexRejectsBadDocument(t *testing.T) {
	m, err := NewMemoryIndex(testSchema(t))
	require.NoError(t, err)
	_, err = m.AddDocument(Document{"body": Int(1)})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	assert.Zero(t, m.DocCount())
}
