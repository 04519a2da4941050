// Package metrics holds the Prometheus collectors shared by the fetch, cache
// and tree-assembly layers.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	FetchAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hn_fetch_attempts_total",
		Help: "HTTP attempts made by the resilient fetcher, by outcome",
	}, []string{"outcome"})

	FetchRetriesExhausted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hn_fetch_retries_exhausted_total",
		Help: "Fetches that failed after using every attempt",
	})

	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hn_cache_lookups_total",
		Help: "TTL cache reads, by result",
	}, []string{"result"})

	CacheWriteFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hn_cache_write_failures_total",
		Help: "TTL cache writes dropped because the backing store failed",
	})

	CacheSwept = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hn_cache_swept_entries_total",
		Help: "Expired or corrupt entries removed by the background sweep",
	})

	CommentTrees = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hn_comment_trees_total",
		Help: "Comment tree requests, by outcome",
	}, []string{"outcome"})

	CommentTreeNodes = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "hn_comment_tree_nodes",
		Help:    "Resolved nodes per freshly assembled comment tree",
		Buckets: []float64{0, 1, 10, 50, 100, 250, 500, 1000, 2500, 10000},
	})
)

// Fetch attempt outcomes.
const (
	OutcomeSuccess        = "success"
	OutcomeClientError    = "client_error"
	OutcomeServerError    = "server_error"
	OutcomeTransportError = "transport_error"
)

// Cache lookup results.
const (
	LookupHit     = "hit"
	LookupMiss    = "miss"
	LookupExpired = "expired"
	LookupCorrupt = "corrupt"
	LookupError   = "error"
)

// Comment tree outcomes.
const (
	TreeCached    = "cached"
	TreeResolved  = "resolved"
	TreeDegraded  = "degraded"
	TreeTruncated = "truncated"
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
