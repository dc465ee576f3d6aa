package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics manages the Prometheus metrics for the rate-limited queue.
type Metrics struct {
	AdmissionDecisions *prometheus.CounterVec
	QueueEnqueued      *prometheus.CounterVec
	ItemsProcessed     *prometheus.CounterVec
	BatchDuration      prometheus.Histogram
	CleanupDeleted     prometheus.Counter
	HTTPRequests       *prometheus.CounterVec
	HTTPDuration       *prometheus.HistogramVec
}

// NewMetrics creates and registers the Prometheus metrics. Tests pass their
// own registry so parallel suites never collide on metric names.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		AdmissionDecisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "replyflow_admission_decisions_total",
				Help: "Admission decisions by outcome.",
			},
			[]string{"status", "reason"},
		),
		QueueEnqueued: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "replyflow_queue_enqueued_total",
				Help: "Actions deferred to the queue, by action type.",
			},
			[]string{"action_type"},
		),
		ItemsProcessed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "replyflow_queue_items_processed_total",
				Help: "Queue items handled by the processor, by outcome.",
			},
			[]string{"outcome"},
		),
		BatchDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "replyflow_process_batch_duration_seconds",
				Help:    "Duration of one processor invocation.",
				Buckets: prometheus.DefBuckets,
			},
		),
		CleanupDeleted: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "replyflow_queue_cleanup_deleted_total",
				Help: "Terminal queue items purged by cleanup.",
			},
		),
		HTTPRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "replyflow_http_requests_total",
				Help: "HTTP requests by route, method and status.",
			},
			[]string{"route", "method", "status"},
		),
		HTTPDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "replyflow_http_request_duration_seconds",
				Help:    "HTTP request latency by route.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		),
	}
}

// RecordAdmission records one admission decision.
func (m *Metrics) RecordAdmission(status, reason string) {
	m.AdmissionDecisions.WithLabelValues(status, reason).Inc()
}

// RecordEnqueue records one deferred action.
func (m *Metrics) RecordEnqueue(actionType string) {
	m.QueueEnqueued.WithLabelValues(actionType).Inc()
}

// RecordProcessed records one processed item outcome
// (succeeded/failed/skipped/retry_limited).
func (m *Metrics) RecordProcessed(outcome string, n int) {
	if n > 0 {
		m.ItemsProcessed.WithLabelValues(outcome).Add(float64(n))
	}
}

// RecordBatch records one processor invocation's duration.
func (m *Metrics) RecordBatch(d time.Duration) {
	m.BatchDuration.Observe(d.Seconds())
}

// RecordCleanup records how many items a cleanup pass deleted.
func (m *Metrics) RecordCleanup(deleted int64) {
	if deleted > 0 {
		m.CleanupDeleted.Add(float64(deleted))
	}
}
