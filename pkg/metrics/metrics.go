package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Table registry metrics
	TablesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dbdaemon_tables_total",
			Help: "Total number of registered tables by operational state",
		},
		[]string{"state"},
	)

	TableAcquireDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dbdaemon_table_acquire_duration_seconds",
			Help:    "Time spent acquiring a table read or write lock",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"mode"},
	)

	// RPC metrics
	RPCRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dbdaemon_rpc_requests_total",
			Help: "Total number of RPC requests by method and status",
		},
		[]string{"method", "status"},
	)

	RPCRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dbdaemon_rpc_request_duration_seconds",
			Help:    "RPC request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	RPCConnectionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dbdaemon_rpc_connections_active",
			Help: "Number of currently open RPC connections",
		},
	)

	RPCBackpressureRejections = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dbdaemon_rpc_backpressure_rejections_total",
			Help: "Total number of requests rejected because the per-connection response queue was full",
		},
	)

	// Update batch / document store metrics
	UpdateBatchFlushDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dbdaemon_update_batch_flush_duration_seconds",
			Help:    "Time taken to flush an update batch to the document store",
			Buckets: prometheus.DefBuckets,
		},
	)

	UpdateBatchEntriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dbdaemon_update_batch_entries_total",
			Help: "Total number of document writes flushed across all update batches",
		},
	)

	UpdateBatchConflictsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dbdaemon_update_batch_conflicts_total",
			Help: "Total number of version conflicts observed during bulk flush (treated as success)",
		},
	)

	// Verification engine metrics
	VerificationRunsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dbdaemon_verification_runs_active",
			Help: "Number of verification runs currently in flight",
		},
	)

	VerificationAnomaliesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dbdaemon_verification_anomalies_total",
			Help: "Total number of overlap/gap anomalies found by verification runs",
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(TablesTotal)
	prometheus.MustRegister(TableAcquireDuration)
	prometheus.MustRegister(RPCRequestsTotal)
	prometheus.MustRegister(RPCRequestDuration)
	prometheus.MustRegister(RPCConnectionsActive)
	prometheus.MustRegister(RPCBackpressureRejections)
	prometheus.MustRegister(UpdateBatchFlushDuration)
	prometheus.MustRegister(UpdateBatchEntriesTotal)
	prometheus.MustRegister(UpdateBatchConflictsTotal)
	prometheus.MustRegister(VerificationRunsActive)
	prometheus.MustRegister(VerificationAnomaliesTotal)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
