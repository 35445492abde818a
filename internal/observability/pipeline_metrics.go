package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	CacheHit   = "hit"
	CacheMiss  = "miss"
	CacheStale = "stale"
	CacheError = "error"
)

var (
	completionLatencyMs = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "nlpdb_completion_latency_ms",
			Help:    "Completion service round-trip latency in milliseconds.",
			Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000},
		},
	)
	completionOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nlpdb_completion_outcomes_total",
			Help: "Completion calls by outcome (ok, unavailable, bad_status, malformed).",
		},
		[]string{"outcome"},
	)
	sanitizerRejectionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nlpdb_sanitizer_rejections_total",
			Help: "Completions rejected because no SQL verb survived cleaning.",
		},
	)
	executionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nlpdb_executions_total",
			Help: "Executed statement batches by result type.",
		},
		[]string{"type"},
	)
	executionFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nlpdb_execution_failures_total",
			Help: "Statement batches that ended in an error, by error kind.",
		},
		[]string{"kind"},
	)
	schemaCacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nlpdb_schema_cache_lookups_total",
			Help: "Schema cache lookups by outcome (hit, miss, stale, error).",
		},
		[]string{"outcome"},
	)
	schemaCachePersistFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nlpdb_schema_cache_persist_failures_total",
			Help: "Schema cache blobs that could not be written to the persistent store.",
		},
	)
	schemaBuildDurationMs = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "nlpdb_schema_build_duration_ms",
			Help:    "Time spent enumerating a database structure in milliseconds.",
			Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 5000},
		},
	)
	relationshipDegradationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nlpdb_relationship_degradations_total",
			Help: "Relationship lookups that failed and were answered with an empty list.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		completionLatencyMs,
		completionOutcomesTotal,
		sanitizerRejectionsTotal,
		executionsTotal,
		executionFailuresTotal,
		schemaCacheLookupsTotal,
		schemaCachePersistFailuresTotal,
		schemaBuildDurationMs,
		relationshipDegradationsTotal,
	)
}

func ObserveCompletion(outcome string, elapsed time.Duration) {
	completionOutcomesTotal.WithLabelValues(outcome).Inc()
	completionLatencyMs.Observe(float64(elapsed.Milliseconds()))
}

func IncrementSanitizerRejection() {
	sanitizerRejectionsTotal.Inc()
}

func ObserveExecution(resultType string) {
	executionsTotal.WithLabelValues(resultType).Inc()
}

func ObserveExecutionFailure(kind string) {
	executionFailuresTotal.WithLabelValues(kind).Inc()
}

func ObserveSchemaCacheLookup(outcome string) {
	schemaCacheLookupsTotal.WithLabelValues(outcome).Inc()
}

func IncrementSchemaCachePersistFailure() {
	schemaCachePersistFailuresTotal.Inc()
}

func ObserveSchemaBuild(elapsed time.Duration) {
	schemaBuildDurationMs.Observe(float64(elapsed.Milliseconds()))
}

func IncrementRelationshipDegradation() {
	relationshipDegradationsTotal.Inc()
}
