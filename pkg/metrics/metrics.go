// Package metrics registers the Prometheus collectors used by the pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "textbook_index"

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	// ExtractionAttempts counts strategy runs; outcome is success, short or error.
	ExtractionAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "extraction",
			Name:      "attempts_total",
			Help:      "Extraction strategy attempts by outcome",
		},
		[]string{"strategy", "outcome"},
	)

	ExtractionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "extraction",
			Name:      "duration_seconds",
			Help:      "Time spent in a single extraction strategy",
			Buckets:   []float64{.05, .1, .5, 1, 5, 15, 60, 180, 600},
		},
		[]string{"strategy"},
	)

	EmbeddingBatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "embedding",
			Name:      "batches_total",
			Help:      "Embedding batch calls by model and status",
		},
		[]string{"model", "status"},
	)

	EmbeddingRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "embedding",
			Name:      "retries_total",
			Help:      "Embedding batch retries",
		},
		[]string{"model"},
	)

	EmbeddingTokens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "embedding",
			Name:      "tokens_total",
			Help:      "Tokens consumed by embedding calls",
		},
		[]string{"model"},
	)

	EmbeddingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "embedding",
			Name:      "batch_duration_seconds",
			Help:      "Embedding batch latency in seconds",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"model"},
	)

	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Cache lookups by namespace, tier and result",
		},
		[]string{"namespace", "tier", "result"},
	)

	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "errors_total",
			Help:      "Swallowed persistent cache errors",
		},
		[]string{"op"},
	)

	IngestionJobs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "jobs_total",
			Help:      "Ingestion jobs by final status",
		},
		[]string{"status"},
	)

	IngestionChunks = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "chunks_total",
			Help:      "Chunks written to the index",
		},
	)

	IngestionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "job_duration_seconds",
			Help:      "End to end duration of one ingestion job",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		},
	)

	SearchRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "requests_total",
			Help:      "Search requests by executed path",
		},
		[]string{"path"},
	)

	SearchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "duration_seconds",
			Help:      "Search latency by executed path",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"path"},
	)

	// GenerationRequests counts LLM calls; outcome is ok, blocked, empty or error.
	GenerationRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "generation",
			Name:      "requests_total",
			Help:      "Content generation calls by outcome",
		},
		[]string{"model", "outcome"},
	)

	GenerationTokens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "generation",
			Name:      "tokens_total",
			Help:      "Tokens reported by the generation model",
		},
		[]string{"model", "kind"},
	)
)
