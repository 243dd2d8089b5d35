package events

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/ippousyuga/search-lucene/internal/indexer/builder"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRebuildRequest(t *testing.T) {
	a := NewRebuildRequest("Question")
	b := NewRebuildRequest("Question")
	assert.NotEqual(t, a.JobID, b.JobID)
	_, err := uuid.Parse(a.JobID)
	require.NoError(t, err)
	assert.False(t, a.RequestedAt.IsZero())
}

func TestRecordChangesWireFormat(t *testing.T) {
	var m RecordChanges
	require.NoError(t, json.Unmarshal([]byte(`{"collection":"Answer","changes":[{"id":4,"op":"upsert"},{"id":9,"op":"delete"}]}`), &m))
	assert.Equal(t, "Answer", m.Collection)
	assert.Equal(t, []builder.Change{{ID: 4, Op: builder.OpUpsert}, {ID: 9, Op: builder.OpDelete}}, m.Changes)
}
