// Package metrics defines the Prometheus collectors of the search and
// indexing services and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	SearchQueriesTotal   *prometheus.CounterVec
	SearchLatency        *prometheus.HistogramVec
	SearchResultsCount   *prometheus.HistogramVec
	CacheLookupsTotal    *prometheus.CounterVec
	DocsIndexedTotal     *prometheus.CounterVec
	IndexBuildsTotal     *prometheus.CounterVec
	IndexBuildDuration   *prometheus.HistogramVec
	IndexDocCount        *prometheus.GaugeVec
	IndexGeneration      *prometheus.GaugeVec
	RateLimitedTotal     prometheus.Counter

	gatherer prometheus.Gatherer
}

// New creates the collectors and registers them with reg. Passing
// prometheus.DefaultRegisterer exposes them on the default handler.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, route, and status.",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "route"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		SearchQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "search_queries_total",
				Help: "Search queries by collection and outcome (hit, zero_result, parse_error, error).",
			},
			[]string{"collection", "outcome"},
		),
		SearchLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "search_latency_seconds",
				Help:    "Search latency in seconds.",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"collection", "cache_status"},
		),
		SearchResultsCount: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "search_total_hits",
				Help:    "Total matching documents per search.",
				Buckets: []float64{0, 1, 5, 10, 50, 100, 500, 1000, 10000},
			},
			[]string{"collection"},
		),
		CacheLookupsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "search_cache_lookups_total",
				Help: "Result cache lookups by result (hit, miss).",
			},
			[]string{"result"},
		),
		DocsIndexedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docs_indexed_total",
				Help: "Documents added to an index.",
			},
			[]string{"collection"},
		),
		IndexBuildsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "index_builds_total",
				Help: "Index builds by collection, mode and status.",
			},
			[]string{"collection", "mode", "status"},
		),
		IndexBuildDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "index_build_duration_seconds",
				Help:    "Duration of index builds.",
				Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
			},
			[]string{"collection", "mode"},
		),
		IndexDocCount: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "index_document_count",
				Help: "Live documents in the served snapshot.",
			},
			[]string{"collection"},
		),
		IndexGeneration: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "index_generation",
				Help: "Generation of the served snapshot.",
			},
			[]string{"collection"},
		),
		RateLimitedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "http_rate_limited_total",
				Help: "Requests rejected by the rate limiter.",
			},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.SearchQueriesTotal,
		m.SearchLatency,
		m.SearchResultsCount,
		m.CacheLookupsTotal,
		m.DocsIndexedTotal,
		m.IndexBuildsTotal,
		m.IndexBuildDuration,
		m.IndexDocCount,
		m.IndexGeneration,
		m.RateLimitedTotal,
	)
	if g, ok := reg.(prometheus.Gatherer); ok {
		m.gatherer = g
	} else {
		m.gatherer = prometheus.DefaultGatherer
	}
	return m
}

// Handler returns the scrape handler for the registry the metrics were
// registered with.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
