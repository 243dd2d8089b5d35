package analytics

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/ippousyuga/search-lucene/pkg/kafka"
)

const (
	latencyWindow = 10000
	topQueries    = 10
)

type AggregatedStats struct {
	TotalSearches     int64                      `json:"total_searches"`
	CacheHits         int64                      `json:"cache_hits"`
	CacheMisses       int64                      `json:"cache_misses"`
	ZeroResultCount   int64                      `json:"zero_result_count"`
	ParseErrorCount   int64                      `json:"parse_error_count"`
	ErrorCount        int64                      `json:"error_count"`
	AvgLatencyMs      float64                    `json:"avg_latency_ms"`
	P50LatencyMs      int64                      `json:"p50_latency_ms"`
	P95LatencyMs      int64                      `json:"p95_latency_ms"`
	P99LatencyMs      int64                      `json:"p99_latency_ms"`
	TopQueries        []QueryCount               `json:"top_queries"`
	ZeroResultQueries []QueryCount               `json:"zero_result_queries"`
	QueriesPerMinute  float64                    `json:"queries_per_minute"`
	Collections       map[string]CollectionStats `json:"collections"`
	Builds            []BuildEvent               `json:"recent_builds"`
}

type CollectionStats struct {
	Searches    int64        `json:"searches"`
	ZeroResults int64        `json:"zero_results"`
	TopQueries  []QueryCount `json:"top_queries"`
}

type QueryCount struct {
	Query string `json:"query"`
	Count int64  `json:"count"`
}

type collectionCounts struct {
	searches    int64
	zeroResults int64
	queries     map[string]int64
}

// Aggregator folds search and build events into running statistics. It
// keeps the latest latencyWindow latencies and the last few builds.
type Aggregator struct {
	mu                sync.Mutex
	totalSearches     int64
	cacheHits         int64
	cacheMisses       int64
	zeroResults       int64
	parseErrors       int64
	errs              int64
	latencies         []int64
	next              int
	queryCounts       map[string]int64
	zeroResultQueries map[string]int64
	collections       map[string]*collectionCounts
	builds            []BuildEvent
	startTime         time.Time
	logger            *slog.Logger
}

func NewAggregator() *Aggregator {
	return &Aggregator{
		latencies:         make([]int64, 0, 1024),
		queryCounts:       make(map[string]int64),
		zeroResultQueries: make(map[string]int64),
		collections:       make(map[string]*collectionCounts),
		startTime:         time.Now(),
		logger:            slog.Default().With("component", "analytics-aggregator"),
	}
}

// Track records a SearchEvent or BuildEvent. Other values are ignored.
func (a *Aggregator) Track(event any) {
	switch e := event.(type) {
	case SearchEvent:
		a.RecordSearch(e)
	case BuildEvent:
		a.RecordBuild(e)
	default:
		a.logger.Warn("ignoring unknown analytics event", "type", fmt.Sprintf("%T", event))
	}
}

// HandleEvent decodes analytics events consumed from Kafka into agg.
func HandleEvent(agg *Aggregator) kafka.MessageHandler {
	return func(_ context.Context, _ []byte, value []byte) error {
		head, err := kafka.DecodeJSON[struct {
			Type EventType `json:"type"`
		}](value)
		if err != nil {
			return err
		}
		if head.Type == EventBuild {
			e, err := kafka.DecodeJSON[BuildEvent](value)
			if err != nil {
				return err
			}
			agg.RecordBuild(e)
			return nil
		}
		e, err := kafka.DecodeJSON[SearchEvent](value)
		if err != nil {
			return err
		}
		agg.RecordSearch(e)
		return nil
	}
}

func (a *Aggregator) RecordSearch(e SearchEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.totalSearches++
	switch e.Type {
	case EventParseError:
		a.parseErrors++
		return
	case EventError:
		a.errs++
		return
	}
	if e.CacheHit {
		a.cacheHits++
	} else {
		a.cacheMisses++
	}
	if len(a.latencies) < latencyWindow {
		a.latencies = append(a.latencies, e.LatencyMs)
	} else {
		a.latencies[a.next] = e.LatencyMs
		a.next = (a.next + 1) % latencyWindow
	}

	cc, ok := a.collections[e.Collection]
	if !ok {
		cc = &collectionCounts{queries: make(map[string]int64)}
		a.collections[e.Collection] = cc
	}
	cc.searches++
	cc.queries[e.Query]++
	a.queryCounts[e.Query]++
	if e.TotalHits == 0 {
		a.zeroResults++
		cc.zeroResults++
		a.zeroResultQueries[e.Query]++
	}
}

func (a *Aggregator) RecordBuild(e BuildEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.builds = append(a.builds, e)
	if len(a.builds) > topQueries {
		a.builds = a.builds[len(a.builds)-topQueries:]
	}
}

func (a *Aggregator) Stats() AggregatedStats {
	a.mu.Lock()
	defer a.mu.Unlock()

	stats := AggregatedStats{
		TotalSearches:   a.totalSearches,
		CacheHits:       a.cacheHits,
		CacheMisses:     a.cacheMisses,
		ZeroResultCount: a.zeroResults,
		ParseErrorCount: a.parseErrors,
		ErrorCount:      a.errs,
		Collections:     make(map[string]CollectionStats, len(a.collections)),
		Builds:          append([]BuildEvent(nil), a.builds...),
	}
	if len(a.latencies) > 0 {
		sorted := make([]int64, len(a.latencies))
		copy(sorted, a.latencies)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

		var sum int64
		for _, l := range sorted {
			sum += l
		}
		stats.AvgLatencyMs = float64(sum) / float64(len(sorted))
		stats.P50LatencyMs = percentile(sorted, 50)
		stats.P95LatencyMs = percentile(sorted, 95)
		stats.P99LatencyMs = percentile(sorted, 99)
	}
	stats.TopQueries = topN(a.queryCounts, topQueries)
	stats.ZeroResultQueries = topN(a.zeroResultQueries, topQueries)
	for name, cc := range a.collections {
		stats.Collections[name] = CollectionStats{
			Searches:    cc.searches,
			ZeroResults: cc.zeroResults,
			TopQueries:  topN(cc.queries, topQueries),
		}
	}
	if elapsed := time.Since(a.startTime).Minutes(); elapsed > 0 {
		stats.QueriesPerMinute = float64(stats.TotalSearches) / elapsed
	}
	return stats
}

// Restore seeds the counters from a persisted snapshot, so totals survive
// a restart. Latency percentiles start over.
func (a *Aggregator) Restore(s AggregatedStats) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.totalSearches = s.TotalSearches
	a.cacheHits = s.CacheHits
	a.cacheMisses = s.CacheMisses
	a.zeroResults = s.ZeroResultCount
	a.parseErrors = s.ParseErrorCount
	a.errs = s.ErrorCount
	for _, q := range s.TopQueries {
		a.queryCounts[q.Query] = q.Count
	}
	for _, q := range s.ZeroResultQueries {
		a.zeroResultQueries[q.Query] = q.Count
	}
	for name, cs := range s.Collections {
		cc := &collectionCounts{searches: cs.Searches, zeroResults: cs.ZeroResults, queries: make(map[string]int64)}
		for _, q := range cs.TopQueries {
			cc.queries[q.Query] = q.Count
		}
		a.collections[name] = cc
	}
	a.builds = append([]BuildEvent(nil), s.Builds...)
}

func percentile(sorted []int64, pct int) int64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := (pct * len(sorted)) / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// topN returns the n most frequent queries, ties in query order.
func topN(counts map[string]int64, n int) []QueryCount {
	result := make([]QueryCount, 0, len(counts))
	for query, count := range counts {
		result = append(result, QueryCount{Query: query, Count: count})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Count != result[j].Count {
			return result[i].Count > result[j].Count
		}
		return result[i].Query < result[j].Query
	})
	if len(result) > n {
		result = result[:n]
	}
	return result
}
