package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Operation results recorded in the result label.
const (
	ResultOK       = "ok"
	ResultRejected = "rejected"
	ResultError    = "error"
)

// Operations counts marketplace operations by name and result
var Operations = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "lotmarket_operations_total",
		Help: "Total number of marketplace operations by result",
	},
	[]string{"operation", "result"},
)

// OperationLatency records how long each operation took, commit included
var OperationLatency = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "lotmarket_operation_duration_seconds",
		Help:    "Latency in seconds of marketplace operations",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"operation"},
)

// Unit of work failures
var (
	CommitFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lotmarket_commit_failures_total",
			Help: "Number of operations whose staged effects failed to commit",
		},
		[]string{"stage"},
	)

	EventPublishFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "lotmarket_event_publish_failures_total",
			Help: "Number of committed events a sink failed to accept",
		},
	)

	LastListingID = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "lotmarket_last_listing_id",
			Help: "Identifier of the most recently created listing",
		},
	)
)

func init() {
	prometheus.MustRegister(Operations, OperationLatency)
	prometheus.MustRegister(CommitFailures, EventPublishFailures, LastListingID)
}

// ObserveOperation records one finished operation.
func ObserveOperation(operation, result string, started time.Time) {
	Operations.WithLabelValues(operation, result).Inc()
	OperationLatency.WithLabelValues(operation).Observe(time.Since(started).Seconds())
}
