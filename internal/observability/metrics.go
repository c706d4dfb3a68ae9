// Package observability wires the core's ambient logging and metrics
// (spec §4.J): a correlation-id-aware zerolog logger factory and the
// Prometheus counters/histograms every other package reports into.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus collector the core reports to.
type Metrics struct {
	RequestTotal       *prometheus.CounterVec
	RequestDuration    *prometheus.HistogramVec
	DBQueryDuration    *prometheus.HistogramVec
	AuditWriteFailures *prometheus.CounterVec
	OutboxPublishFailures *prometheus.CounterVec
	PayoutOutcomes     *prometheus.CounterVec
}

// SlowQueryThreshold is the duration above which a DB query is logged
// as slow in addition to being recorded in DBQueryDuration.
const SlowQueryThreshold = 250 * time.Millisecond

// NewMetrics registers and returns the core's metric collectors.
func NewMetrics() *Metrics {
	return &Metrics{
		RequestTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ocx_http_requests_total",
				Help: "Total HTTP requests handled, by route and status class.",
			},
			[]string{"route", "method", "status"},
		),
		RequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ocx_http_request_duration_seconds",
				Help:    "HTTP request latency.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route", "method"},
		),
		DBQueryDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ocx_db_query_duration_seconds",
				Help:    "Database query latency.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
			[]string{"operation"},
		),
		AuditWriteFailures: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ocx_audit_write_failures_total",
				Help: "Audit log append failures, labelled by tenant and stage.",
			},
			[]string{"tenant_id", "stage"},
		),
		OutboxPublishFailures: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ocx_outbox_publish_failures_total",
				Help: "Outbox event publish failures, labelled by event type.",
			},
			[]string{"event_type"},
		),
		PayoutOutcomes: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ocx_payout_gateway_outcomes_total",
				Help: "Payout gateway attempts, labelled by outcome.",
			},
			[]string{"outcome"}, // completed, failed
		),
	}
}

// ObserveRequest records one HTTP request's outcome.
func (m *Metrics) ObserveRequest(route, method, status string, duration time.Duration) {
	m.RequestTotal.WithLabelValues(route, method, status).Inc()
	m.RequestDuration.WithLabelValues(route, method).Observe(duration.Seconds())
}

// ObserveDBQuery records one query's duration under operation (e.g.
// "finance.CreateTransaction", "jobs.ClaimBatch").
func (m *Metrics) ObserveDBQuery(operation string, duration time.Duration) {
	m.DBQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordAuditWriteFailure increments the audit-failure counter for tenantID/stage.
func (m *Metrics) RecordAuditWriteFailure(tenantID, stage string) {
	m.AuditWriteFailures.WithLabelValues(tenantID, stage).Inc()
}

// IncAuditQueueSubmitFailure satisfies internal/audit.FailureRecorder.
func (m *Metrics) IncAuditQueueSubmitFailure(tenantID string) {
	m.RecordAuditWriteFailure(tenantID, "enqueue")
}

// RecordOutboxPublishFailure increments the outbox-failure counter for eventType.
func (m *Metrics) RecordOutboxPublishFailure(eventType string) {
	m.OutboxPublishFailures.WithLabelValues(eventType).Inc()
}

// RecordPayoutOutcome increments the payout-outcome counter.
func (m *Metrics) RecordPayoutOutcome(outcome string) {
	m.PayoutOutcomes.WithLabelValues(outcome).Inc()
}
