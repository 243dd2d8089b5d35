package builder

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ippousyuga/search-lucene/internal/collection"
	"github.com/ippousyuga/search-lucene/internal/indexer"
	"github.com/ippousyuga/search-lucene/internal/records"
	"github.com/ippousyuga/search-lucene/pkg/config"
	apperrors "github.com/ippousyuga/search-lucene/pkg/errors"
	"github.com/ippousyuga/search-lucene/pkg/resilience"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func questions(t *testing.T) collection.Collection {
	t.Helper()
	c, err := collection.New(config.CollectionConfig{
		Name:      "Question",
		Dir:       filepath.Join(t.TempDir(), "QuestionIndex"),
		IDField:   "questionId",
		TextField: "question",
		Source:    config.SourceTable{Table: "question", IDColumn: "id", TextColumn: "title"},
	})
	require.NoError(t, err)
	return c
}

func rec(id int64, title string) records.Record {
	return records.Record{ID: id, Fields: map[string]string{"title": title}}
}

func fastRetry() resilience.RetryConfig {
	return resilience.RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}
}

func storedIDs(t *testing.T, dir string) []int64 {
	t.Helper()
	r, err := indexer.OpenReader(context.Background(), dir)
	require.NoError(t, err)
	defer r.Close()
	var ids []int64
	for doc := 0; doc < r.MaxDoc(); doc++ {
		d, err := r.StoredFields(doc)
		if errors.Is(err, apperrors.ErrNotFound) {
			continue
		}
		require.NoError(t, err)
		ids = append(ids, d["questionId"].Int)
	}
	return ids
}

func TestRebuildPagesThroughWholeSource(t *testing.T) {
	c := questions(t)
	src := records.NewMemorySource()
	for i := int64(1); i <= 25; i++ {
		src.Put(rec(i, "question about goroutines"))
	}
	src.Put(records.Record{ID: 26, Fields: map[string]string{}})

	b := New(Options{BatchSize: 10, SegmentMaxDocs: 7, Retry: fastRetry()})
	report, err := b.Rebuild(context.Background(), c, src)
	require.NoError(t, err)

	assert.Equal(t, 25, report.Indexed)
	assert.Equal(t, 25, report.DocCount)
	assert.Equal(t, int64(1), report.Generation)
	require.Len(t, report.Skipped, 1)
	assert.Equal(t, int64(26), report.Skipped[0].ID)
	assert.Len(t, storedIDs(t, c.Dir), 25)

	again, err := b.Rebuild(context.Background(), c, src)
	require.NoError(t, err)
	assert.Equal(t, int64(2), again.Generation)
	assert.Equal(t, 25, again.DocCount)
}

func TestRebuildEmptySource(t *testing.T) {
	c := questions(t)
	report, err := New(Options{}).Rebuild(context.Background(), c, records.NewMemorySource())
	require.NoError(t, err)
	assert.Zero(t, report.DocCount)

	r, err := indexer.OpenReader(context.Background(), c.Dir)
	require.NoError(t, err)
	defer r.Close()
	assert.Zero(t, r.DocCount())
}

type flakySource struct {
	*records.MemorySource
	failures atomic.Int32
}

func (f *flakySource) List(ctx context.Context, offset, limit int) ([]records.Record, error) {
	if f.failures.Add(-1) >= 0 {
		return nil, errors.New("connection reset")
	}
	return f.MemorySource.List(ctx, offset, limit)
}

func TestRebuildRetriesTransientSourceErrors(t *testing.T) {
	c := questions(t)
	src := &flakySource{MemorySource: records.NewMemorySource(rec(1, "one"), rec(2, "two"))}
	src.failures.Store(2)

	report, err := New(Options{Retry: fastRetry()}).Rebuild(context.Background(), c, src)
	require.NoError(t, err)
	assert.Equal(t, 2, report.DocCount)
}

type stalledSource struct {
	*records.MemorySource
}

func (stalledSource) Count(ctx context.Context) (int64, error) {
	<-ctx.Done()
	return 0, ctx.Err()
}

func (stalledSource) List(ctx context.Context, _, _ int) ([]records.Record, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestRebuildSourceTimeout(t *testing.T) {
	c := questions(t)
	b := New(Options{SourceTimeout: 20 * time.Millisecond, Retry: fastRetry()})
	_, err := b.Rebuild(context.Background(), c, stalledSource{records.NewMemorySource(rec(1, "never read"))})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrTimeout)
	assert.Equal(t, http.StatusServiceUnavailable, apperrors.HTTPStatusCode(err))
}

func TestRebuildFailureKeepsPreviousIndex(t *testing.T) {
	c := questions(t)
	b := New(Options{Retry: fastRetry()})
	_, err := b.Rebuild(context.Background(), c, records.NewMemorySource(rec(1, "kept")))
	require.NoError(t, err)

	broken := &flakySource{MemorySource: records.NewMemorySource(rec(2, "lost"))}
	broken.failures.Store(100)
	_, err = b.Rebuild(context.Background(), c, broken)
	require.Error(t, err)

	assert.Equal(t, []int64{1}, storedIDs(t, c.Dir))
}

func TestRebuildLockContention(t *testing.T) {
	c := questions(t)
	w, err := indexer.OpenWriter(context.Background(), c.Dir, indexer.WriterOptions{Schema: c.Schema})
	require.NoError(t, err)
	defer w.Close()

	_, err = New(Options{LockTimeout: 50 * time.Millisecond}).Rebuild(context.Background(), c, records.NewMemorySource(rec(1, "x")))
	assert.ErrorIs(t, err, apperrors.ErrLockContention)
}

func TestApplyChanges(t *testing.T) {
	ctx := context.Background()
	c := questions(t)
	src := records.NewMemorySource(rec(1, "first"), rec(2, "second"), rec(3, "third"))
	b := New(Options{Retry: fastRetry()})
	_, err := b.Rebuild(ctx, c, src)
	require.NoError(t, err)

	src.Put(rec(2, "second edited"))
	src.Put(rec(4, "fourth"))
	src.Remove(3)
	report, err := b.Apply(ctx, c, src, []Change{
		{ID: 2, Op: OpUpsert},
		{ID: 4, Op: OpDelete},
		{ID: 4, Op: OpUpsert},
		{ID: 3, Op: OpUpsert},
		{ID: 1, Op: OpDelete},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Indexed)
	assert.Equal(t, 3, report.Deleted)
	assert.Equal(t, 2, report.DocCount)
	assert.ElementsMatch(t, []int64{2, 4}, storedIDs(t, c.Dir))

	r, err := indexer.OpenReader(ctx, c.Dir)
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, 1, r.DocFreq("question", "edit"))
}

func TestApplyRejectsUnknownOp(t *testing.T) {
	_, err := New(Options{}).Apply(context.Background(), questions(t), records.NewMemorySource(), []Change{{ID: 1, Op: "merge"}})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestRebuildCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := questions(t)
	_, err := New(Options{}).Rebuild(ctx, c, records.NewMemorySource(rec(1, "x")))
	assert.Error(t, err)

	_, err = indexer.OpenReader(context.Background(), c.Dir)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}
