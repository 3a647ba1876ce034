// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Engine metrics
	EventsProcessed        *prometheus.CounterVec
	EventsRejected         *prometheus.CounterVec
	FatalErrors            *prometheus.CounterVec
	TransactionsRecorded   *prometheus.CounterVec
	SnapshotsWritten       prometheus.Counter
	EventProcessingLatency *prometheus.HistogramVec

	// Source metrics
	SourceMessages     *prometheus.CounterVec
	SourceReconnects   *prometheus.CounterVec
	SourceDecodeErrors *prometheus.CounterVec

	// Progress metrics
	LastBlockNumber    prometheus.Gauge
	LastBlockTimestamp prometheus.Gauge

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Health metrics
	LastSuccessfulEvent prometheus.Gauge
}

// NewMetrics creates a new Metrics instance registered with reg.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "morpho_points"
	}
	factory := promauto.With(reg)

	return &Metrics{
		// Engine metrics
		EventsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "events_processed_total",
			Help:      "Total number of events applied by kind",
		}, []string{"kind"}),
		EventsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "events_rejected_total",
			Help:      "Total number of events rejected by validation",
		}, []string{"kind", "reason"}),
		FatalErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "fatal_errors_total",
			Help:      "Total number of fatal errors by event kind",
		}, []string{"kind"}),
		TransactionsRecorded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "transactions_recorded_total",
			Help:      "Total number of transaction records by subsystem and type",
		}, []string{"subsystem", "type"}),
		SnapshotsWritten: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "snapshots_written_total",
			Help:      "Total number of snapshots written",
		}),
		EventProcessingLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "event_processing_latency_seconds",
			Help:      "Event processing latency in seconds, including persistence",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),

		// Source metrics
		SourceMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "source",
			Name:      "messages_total",
			Help:      "Total number of event records read by source",
		}, []string{"source"}),
		SourceReconnects: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "source",
			Name:      "reconnects_total",
			Help:      "Total number of source reconnect attempts",
		}, []string{"source"}),
		SourceDecodeErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "source",
			Name:      "decode_errors_total",
			Help:      "Total number of records that failed to decode",
		}, []string{"source"}),

		// Progress metrics
		LastBlockNumber: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "progress",
			Name:      "last_block_number",
			Help:      "Block number of the last applied event",
		}),
		LastBlockTimestamp: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "progress",
			Name:      "last_block_timestamp",
			Help:      "Block timestamp of the last applied event",
		}),

		// Database metrics
		DBQueryDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		// Health metrics
		LastSuccessfulEvent: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_event_timestamp",
			Help:      "Unix timestamp of the last successfully applied event",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("", prometheus.DefaultRegisterer)

// RecordEventProcessed records an applied event and its latency.
func RecordEventProcessed(kind string, seconds float64) {
	DefaultMetrics.EventsProcessed.WithLabelValues(kind).Inc()
	DefaultMetrics.EventProcessingLatency.WithLabelValues(kind).Observe(seconds)
	DefaultMetrics.LastSuccessfulEvent.Set(float64(time.Now().Unix()))
}

// RecordEventRejected records an event discarded by validation.
func RecordEventRejected(kind, reason string) {
	DefaultMetrics.EventsRejected.WithLabelValues(kind, reason).Inc()
}

// RecordFatalError records an error that aborted processing.
func RecordFatalError(kind string) {
	DefaultMetrics.FatalErrors.WithLabelValues(kind).Inc()
}

// RecordTransactions records n transaction records of one type.
func RecordTransactions(subsystem, txType string, n int) {
	DefaultMetrics.TransactionsRecorded.WithLabelValues(subsystem, txType).Add(float64(n))
}

// RecordSnapshots records n written snapshots.
func RecordSnapshots(n int) {
	DefaultMetrics.SnapshotsWritten.Add(float64(n))
}

// UpdateProgress updates the last applied block gauges.
func UpdateProgress(blockNumber uint64, blockTimestamp int64) {
	DefaultMetrics.LastBlockNumber.Set(float64(blockNumber))
	DefaultMetrics.LastBlockTimestamp.Set(float64(blockTimestamp))
}

// RecordSourceMessage records a record read from a source.
func RecordSourceMessage(source string) {
	DefaultMetrics.SourceMessages.WithLabelValues(source).Inc()
}

// RecordSourceReconnect records a reconnect attempt.
func RecordSourceReconnect(source string) {
	DefaultMetrics.SourceReconnects.WithLabelValues(source).Inc()
}

// RecordDecodeError records a record that failed to decode.
func RecordDecodeError(source string) {
	DefaultMetrics.SourceDecodeErrors.WithLabelValues(source).Inc()
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}
