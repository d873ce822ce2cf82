package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Queue coordinator metrics.
var (
	QueueRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lorekeep_queue_requests_total",
		Help: "Queue read requests by serving path (cache, store, topup).",
	}, []string{"path"})

	QueueTopUpDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "lorekeep_queue_topup_duration_seconds",
		Help:    "Time spent generating and persisting new queue entries.",
		Buckets: prometheus.DefBuckets,
	})

	QueueEntriesCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lorekeep_queue_entries_created_total",
		Help: "Queue entries created during top-up.",
	})

	QueuePersistConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lorekeep_queue_persist_conflicts_total",
		Help: "Queue entry inserts dropped because a concurrent writer won the slot.",
	})

	QueuePersistFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lorekeep_queue_persist_failures_total",
		Help: "Queue entry inserts that failed for reasons other than overlap.",
	})

	QueueLength = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lorekeep_queue_length",
		Help: "Number of upcoming entries in the most recently materialized queue, before truncation to the requested size.",
	})
)

// Answer reveal metrics.
var (
	AnswerRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lorekeep_answer_requests_total",
		Help: "Answer reveal requests by outcome (resolved, waited, pending, not_found, cancelled).",
	}, []string{"outcome"})

	AnswerWaitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "lorekeep_answer_wait_duration_seconds",
		Help:    "Time reveal requests spent suspended waiting for a live round to end.",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 20, 30, 60},
	})
)

// Background refresher metrics.
var (
	RefresherTicksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lorekeep_refresher_ticks_total",
		Help: "Background queue refresh ticks.",
	})

	RefresherErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lorekeep_refresher_errors_total",
		Help: "Background queue refresh failures.",
	})

	RefresherSkippedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lorekeep_refresher_skipped_total",
		Help: "Refresh ticks skipped because a previous refresh was still running.",
	})
)

// Leader election metrics.
var (
	LeaderElectionStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "lorekeep_leader_election_status",
		Help: "Whether this instance currently holds the refresher lease (1) or not (0).",
	}, []string{"instance_id"})

	LeaderElectionChanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lorekeep_leader_election_changes_total",
		Help: "Leadership acquisitions and losses.",
	}, []string{"instance_id", "change"})
)

// Cache metrics.
var (
	CacheOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lorekeep_cache_operations_total",
		Help: "Cache operations by kind and result (hit, miss, error).",
	}, []string{"operation", "result"})
)

// Database metrics.
var (
	DBOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lorekeep_db_operation_duration_seconds",
		Help:    "Duration of database operations by type and table.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "table"})

	DBErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lorekeep_db_errors_total",
		Help: "Database operation errors by type.",
	}, []string{"operation"})
)

// HTTP metrics.
var (
	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lorekeep_api_requests_total",
		Help: "HTTP requests by method, endpoint and status code.",
	}, []string{"method", "endpoint", "status"})

	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lorekeep_api_request_duration_seconds",
		Help:    "HTTP request latency by method, endpoint and status code.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "endpoint", "status"})

	APIActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lorekeep_api_active_connections",
		Help: "In-flight HTTP requests.",
	})
)

// Handler exposes the Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
