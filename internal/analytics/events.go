// Package analytics records what users search for and how the indexes are
// rebuilt. Events are batched onto Kafka by a Collector and folded into
// queryable statistics by an Aggregator.
package analytics

import (
	"errors"
	"time"

	"github.com/ippousyuga/search-lucene/internal/indexer/builder"
	"github.com/ippousyuga/search-lucene/internal/searcher"
	apperrors "github.com/ippousyuga/search-lucene/pkg/errors"
)

type EventType string

const (
	EventSearch     EventType = "search"
	EventZeroResult EventType = "zero_result"
	EventParseError EventType = "parse_error"
	EventError      EventType = "search_error"
	EventBuild      EventType = "index_build"
)

// SearchEvent describes one finished search.
type SearchEvent struct {
	Type       EventType `json:"type"`
	Collection string    `json:"collection"`
	Query      string    `json:"query"`
	TotalHits  int       `json:"total_hits"`
	Returned   int       `json:"returned"`
	Page       int       `json:"page"`
	LatencyMs  int64     `json:"latency_ms"`
	CacheHit   bool      `json:"cache_hit"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	RequestID  string    `json:"request_id,omitempty"`
}

// BuildEvent describes one committed, or failed, index build.
type BuildEvent struct {
	Type       EventType `json:"type"`
	Collection string    `json:"collection"`
	Mode       string    `json:"mode"`
	Indexed    int       `json:"indexed"`
	Deleted    int       `json:"deleted"`
	Skipped    int       `json:"skipped"`
	DocCount   int       `json:"doc_count"`
	Generation int64     `json:"generation"`
	DurationMs int64     `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// NewSearchEvent classifies a search outcome.
func NewSearchEvent(o searcher.Outcome, requestID string) SearchEvent {
	e := SearchEvent{
		Type:       EventSearch,
		Collection: o.Collection,
		Query:      o.Query,
		TotalHits:  o.TotalHits,
		Returned:   o.Returned,
		Page:       o.Page,
		LatencyMs:  o.Latency.Milliseconds(),
		CacheHit:   o.Cached,
		Timestamp:  time.Now().UTC(),
		RequestID:  requestID,
	}
	switch {
	case o.Err != nil && errors.Is(o.Err, apperrors.ErrParse):
		e.Type = EventParseError
		e.Error = o.Err.Error()
	case o.Err != nil:
		e.Type = EventError
		e.Error = o.Err.Error()
	case o.TotalHits == 0:
		e.Type = EventZeroResult
	}
	return e
}

// NewBuildEvent summarises a builder report. err is the build failure, if
// any; the report of a failed build may be nil.
func NewBuildEvent(collection, mode string, rep *builder.Report, err error) BuildEvent {
	e := BuildEvent{
		Type:       EventBuild,
		Collection: collection,
		Mode:       mode,
		Timestamp:  time.Now().UTC(),
	}
	if rep != nil {
		e.Indexed = rep.Indexed
		e.Deleted = rep.Deleted
		e.Skipped = len(rep.Skipped)
		e.DocCount = rep.DocCount
		e.Generation = rep.Generation
		e.DurationMs = rep.Duration.Milliseconds()
	}
	if err != nil {
		e.Error = err.Error()
	}
	return e
}
