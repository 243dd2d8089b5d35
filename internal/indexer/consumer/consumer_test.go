package consumer

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	"github.com/ippousyuga/search-lucene/internal/analytics"
	"github.com/ippousyuga/search-lucene/internal/collection"
	"github.com/ippousyuga/search-lucene/internal/events"
	"github.com/ippousyuga/search-lucene/internal/indexer"
	"github.com/ippousyuga/search-lucene/internal/indexer/builder"
	"github.com/ippousyuga/search-lucene/internal/records"
	"github.com/ippousyuga/search-lucene/pkg/config"
	"github.com/ippousyuga/search-lucene/pkg/kafka"
	"github.com/ippousyuga/search-lucene/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturePublisher struct {
	mu     sync.Mutex
	events []kafka.Event
}

func (p *capturePublisher) Publish(ctx context.Context, e kafka.Event) error {
	return p.PublishBatch(ctx, []kafka.Event{e})
}

func (p *capturePublisher) PublishBatch(_ context.Context, events []kafka.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, events...)
	return nil
}

type harness struct {
	worker    *Worker
	src       *records.MemorySource
	question  collection.Collection
	published *capturePublisher
	agg       *analytics.Aggregator
	metrics   *metrics.Metrics
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	reg, err := collection.NewRegistry([]config.CollectionConfig{{
		Name: "Question", Dir: filepath.Join(t.TempDir(), "QuestionIndex"), IDField: "questionId", TextField: "question",
		Source: config.SourceTable{Table: "question", IDColumn: "id", TextColumn: "title"},
	}})
	require.NoError(t, err)
	q, err := reg.Get("Question")
	require.NoError(t, err)

	h := &harness{
		src:       records.NewMemorySource(),
		question:  q,
		published: &capturePublisher{},
		agg:       analytics.NewAggregator(),
		metrics:   metrics.New(prometheus.NewRegistry()),
	}
	h.src.Put(records.Record{ID: 1, Fields: map[string]string{"title": "what is a goroutine"}})
	h.src.Put(records.Record{ID: 2, Fields: map[string]string{"title": "closing channels"}})
	h.worker = New(reg, func(collection.Collection) (records.Source, error) { return h.src, nil }, builder.New(builder.Options{}), Options{
		Completed: h.published,
		Tracker:   h.agg,
		Metrics:   h.metrics,
	})
	return h
}

func (h *harness) docCount(t *testing.T) int {
	t.Helper()
	r, err := indexer.OpenReader(context.Background(), h.question.Dir)
	require.NoError(t, err)
	defer r.Close()
	return r.DocCount()
}

func TestRebuildAnnouncesCommit(t *testing.T) {
	h := newHarness(t)
	msg, _ := json.Marshal(events.RebuildRequest{JobID: "job-1", Collection: "question"})
	require.NoError(t, h.worker.HandleRebuild()(context.Background(), []byte("question"), msg))

	assert.Equal(t, 2, h.docCount(t))
	require.Len(t, h.published.events, 1)
	assert.Equal(t, "Question", h.published.events[0].Key)
	done := h.published.events[0].Value.(events.IndexComplete)
	assert.Equal(t, "job-1", done.JobID)
	assert.Equal(t, int64(1), done.Generation)
	assert.Equal(t, 2, done.DocCount)

	builds := h.agg.Stats().Builds
	require.Len(t, builds, 1)
	assert.Equal(t, "create", builds[0].Mode)

	rec := httptest.NewRecorder()
	h.metrics.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(body), `index_builds_total{collection="Question",mode="create",status="success"} 1`)
	assert.Contains(t, string(body), `index_document_count{collection="Question"} 2`)
}

func TestChangesApplyToCommittedIndex(t *testing.T) {
	h := newHarness(t)
	_, err := h.worker.Rebuild(context.Background(), "Question", "")
	require.NoError(t, err)

	h.src.Put(records.Record{ID: 3, Fields: map[string]string{"title": "select statement"}})
	h.src.Remove(1)
	msg, _ := json.Marshal(events.RecordChanges{Collection: "Question", Changes: []builder.Change{
		{ID: 3, Op: builder.OpUpsert},
		{ID: 1, Op: builder.OpDelete},
	}})
	require.NoError(t, h.worker.HandleChanges()(context.Background(), nil, msg))
	assert.Equal(t, 2, h.docCount(t))
	require.Len(t, h.published.events, 2)
	assert.Equal(t, int64(2), h.published.events[1].Value.(events.IndexComplete).Generation)

	empty, _ := json.Marshal(events.RecordChanges{Collection: "Question"})
	require.NoError(t, h.worker.HandleChanges()(context.Background(), nil, empty))
	assert.Len(t, h.published.events, 2, "empty change sets do not commit")
}

func TestUnprocessableMessagesArePoison(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	assert.ErrorIs(t, h.worker.HandleRebuild()(ctx, nil, []byte("{")), kafka.ErrPoison)

	unknown, _ := json.Marshal(events.RebuildRequest{Collection: "comments"})
	assert.ErrorIs(t, h.worker.HandleRebuild()(ctx, nil, unknown), kafka.ErrPoison)

	badOp, _ := json.Marshal(events.RecordChanges{Collection: "Question", Changes: []builder.Change{{ID: 1, Op: "merge"}}})
	assert.ErrorIs(t, h.worker.HandleChanges()(ctx, nil, badOp), kafka.ErrPoison)
	assert.Empty(t, h.published.events)
}
