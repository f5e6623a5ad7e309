// Package metrics holds the Prometheus collectors shared by the indexing
// pipeline and the query server. They register themselves with the default
// registry through promauto.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SequencesTotal counts parsed records by outcome:
	// "inserted", "excluded" or "too_short".
	SequencesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tohnsw_sequences_total",
			Help: "Number of sequence records processed, by outcome",
		},
		[]string{"outcome"},
	)

	// FilesTotal counts sequence files fully read.
	FilesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tohnsw_files_total",
			Help: "Number of sequence files read",
		},
	)

	// QueueDepth is the number of sketches waiting for an indexer.
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tohnsw_queue_depth",
			Help: "Sketched records waiting to be inserted",
		},
	)

	// GraphVertices tracks the vertex count of the served or built graph.
	GraphVertices = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tohnsw_graph_vertices",
			Help: "Number of vertices in the HNSW graph",
		},
	)

	// SearchDuration measures graph searches. Buckets go from cache-warm
	// microsecond lookups to slow wide-beam searches.
	SearchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tohnsw_search_duration_seconds",
			Help:    "Duration of HNSW searches in seconds",
			Buckets: []float64{0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
	)

	HttpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tohnsw_http_requests_total",
			Help: "Total number of HTTP requests processed",
		},
		[]string{"method", "path", "status"},
	)

	HttpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tohnsw_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"method", "path"},
	)
)

// Outcome labels of SequencesTotal.
const (
	OutcomeInserted = "inserted"
	OutcomeExcluded = "excluded"
	OutcomeTooShort = "too_short"
)
