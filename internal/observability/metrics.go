// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the valuation pipeline. A nil
// *Metrics is valid and records nothing, so library code can take metrics
// optionally.
type Metrics struct {
	// Job metrics
	JobsTotal   *prometheus.CounterVec
	JobDuration prometheus.Histogram
	StepsTotal  *prometheus.CounterVec
	StepDuration *prometheus.HistogramVec
	StepRetries *prometheus.CounterVec

	// Valuation metrics
	TradesValued      prometheus.Counter
	ValuationFailures prometheus.Counter
	ValuationDuration prometheus.Histogram

	// Market data metrics
	SnapshotsCaptured *prometheus.CounterVec
	FeedMessages      prometheus.Counter
	FeedReconnects    prometheus.Counter

	// Reconciliation metrics
	ExceptionsCreated *prometheus.CounterVec
	LimitBreaches     *prometheus.CounterVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec
}

// NewMetrics creates a Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "cds_eod"
	}

	return &Metrics{
		JobsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "job",
			Name:      "runs_total",
			Help:      "Total number of EOD job runs by final status",
		}, []string{"status"}),
		JobDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "job",
			Name:      "duration_seconds",
			Help:      "End-to-end EOD job duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
		}),
		StepsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "job",
			Name:      "steps_total",
			Help:      "Total number of executed job steps by step and status",
		}, []string{"step", "status"}),
		StepDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "job",
			Name:      "step_duration_seconds",
			Help:      "Job step duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
		}, []string{"step"}),
		StepRetries: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "job",
			Name:      "step_retries_total",
			Help:      "Total number of step retries by step",
		}, []string{"step"}),

		TradesValued: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "valuation",
			Name:      "trades_valued_total",
			Help:      "Total number of trades valued",
		}),
		ValuationFailures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "valuation",
			Name:      "failures_total",
			Help:      "Total number of failed trade valuations",
		}),
		ValuationDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "valuation",
			Name:      "duration_seconds",
			Help:      "Per-trade valuation duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}),

		SnapshotsCaptured: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "marketdata",
			Name:      "snapshots_captured_total",
			Help:      "Total number of market data snapshots captured by status",
		}, []string{"status"}),
		FeedMessages: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "marketdata",
			Name:      "feed_messages_total",
			Help:      "Total number of quote feed messages received",
		}),
		FeedReconnects: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "marketdata",
			Name:      "feed_reconnects_total",
			Help:      "Total number of quote feed reconnections",
		}),

		ExceptionsCreated: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconciliation",
			Name:      "exceptions_total",
			Help:      "Total number of reconciliation exceptions by type",
		}, []string{"type"}),
		LimitBreaches: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "risk",
			Name:      "limit_breaches_total",
			Help:      "Total number of risk limit breaches by severity",
		}, []string{"severity"}),

		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordJob records a finished job run.
func (m *Metrics) RecordJob(status string, seconds float64) {
	if m == nil {
		return
	}
	m.JobsTotal.WithLabelValues(status).Inc()
	m.JobDuration.Observe(seconds)
}

// RecordStep records a finished job step attempt.
func (m *Metrics) RecordStep(step, status string, seconds float64) {
	if m == nil {
		return
	}
	m.StepsTotal.WithLabelValues(step, status).Inc()
	m.StepDuration.WithLabelValues(step).Observe(seconds)
}

// RecordStepRetry records a step retry.
func (m *Metrics) RecordStepRetry(step string) {
	if m == nil {
		return
	}
	m.StepRetries.WithLabelValues(step).Inc()
}

// RecordValuations records a valuation batch outcome.
func (m *Metrics) RecordValuations(succeeded, failed int) {
	if m == nil {
		return
	}
	m.TradesValued.Add(float64(succeeded))
	m.ValuationFailures.Add(float64(failed))
}

// RecordSnapshot records a snapshot capture by resulting status.
func (m *Metrics) RecordSnapshot(status string) {
	if m == nil {
		return
	}
	m.SnapshotsCaptured.WithLabelValues(status).Inc()
}

// RecordFeedMessage records one received quote feed message.
func (m *Metrics) RecordFeedMessage() {
	if m == nil {
		return
	}
	m.FeedMessages.Inc()
}

// RecordFeedReconnect records a quote feed reconnection.
func (m *Metrics) RecordFeedReconnect() {
	if m == nil {
		return
	}
	m.FeedReconnects.Inc()
}

// RecordDBQuery records database query metrics.
func (m *Metrics) RecordDBQuery(database, operation string, seconds float64, err error) {
	if m == nil {
		return
	}
	m.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		m.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}
