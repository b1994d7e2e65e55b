// Package metrics defines the Prometheus collectors shared by the import and
// search programs and serves them over HTTP.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// LatencyBuckets covers embedding and vector-store round trips, 5ms to 10s.
var LatencyBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// Import record outcomes.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusSkipped   = "skipped"
)

// Search outcomes.
const (
	OutcomeOK      = "ok"
	OutcomeEmpty   = "empty"
	OutcomeInvalid = "invalid"
	OutcomeError   = "error"
)

var (
	// ImportRecordsTotal counts imported records by outcome.
	ImportRecordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "moviesearch_import_records_total",
			Help: "Records processed by the import pipeline",
		},
		[]string{"status"},
	)

	// DeadLettersTotal counts failures published to the dead-letter subject.
	DeadLettersTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "moviesearch_import_dead_letters_total",
			Help: "Failed records published for later inspection",
		},
	)

	// EmbedDuration records embedding latency by model.
	EmbedDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "moviesearch_embed_duration_seconds",
			Help:    "Embedding call latency",
			Buckets: LatencyBuckets,
		},
		[]string{"model"},
	)

	// StoreDuration records vector-store latency by operation.
	StoreDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "moviesearch_store_duration_seconds",
			Help:    "Vector store call latency",
			Buckets: LatencyBuckets,
		},
		[]string{"op"},
	)

	// SearchRequestsTotal counts searches by outcome.
	SearchRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "moviesearch_search_requests_total",
			Help: "Searches by outcome",
		},
		[]string{"outcome"},
	)

	// HTTPRequestsTotal counts HTTP requests by method, route and status class.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "moviesearch_http_requests_total",
			Help: "HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration records HTTP request duration by method and route.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "moviesearch_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: LatencyBuckets,
		},
		[]string{"method", "path"},
	)
)

func init() {
	prometheus.MustRegister(
		ImportRecordsTotal,
		DeadLettersTotal,
		EmbedDuration,
		StoreDuration,
		SearchRequestsTotal,
		HTTPRequestsTotal,
		HTTPRequestDuration,
	)
}

// ObserveSince records the seconds elapsed since start on h.
func ObserveSince(h prometheus.Observer, start time.Time) {
	h.Observe(time.Since(start).Seconds())
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
