package prommetrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics implements gosubs.Metrics using Prometheus.
type Metrics struct {
	reconcileTotal    *prometheus.CounterVec
	reconcileDuration *prometheus.HistogramVec
	accessDecisions   *prometheus.CounterVec
	storeOpsDuration  *prometheus.HistogramVec
	storeOpsErrors    *prometheus.CounterVec
}

// NewMetrics creates a new Prometheus metrics implementation.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		reconcileTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscription_reconcile_total",
			Help:      "Total number of billing event reconciliations by outcome.",
		}, []string{"event_kind", "outcome"}),

		reconcileDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "subscription_reconcile_duration_seconds",
			Help:      "Latency of billing event reconciliations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"event_kind"}),

		accessDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "access_decisions_total",
			Help:      "Total number of access evaluations.",
		}, []string{"granted", "fail_open"}),

		storeOpsDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "store_operation_duration_seconds",
			Help:      "Latency of subscription store operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),

		storeOpsErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_operation_errors_total",
			Help:      "Total number of subscription store operation errors.",
		}, []string{"operation"}),
	}
}

func (m *Metrics) RecordReconcile(eventKind, outcome string) {
	m.reconcileTotal.WithLabelValues(eventKind, outcome).Inc()
}

func (m *Metrics) RecordReconcileDuration(eventKind string, duration time.Duration) {
	m.reconcileDuration.WithLabelValues(eventKind).Observe(duration.Seconds())
}

func (m *Metrics) RecordAccessDecision(granted, failOpen bool) {
	m.accessDecisions.WithLabelValues(strconv.FormatBool(granted), strconv.FormatBool(failOpen)).Inc()
}

func (m *Metrics) RecordStoreOperation(operation string, duration time.Duration, err error) {
	m.storeOpsDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if err != nil {
		m.storeOpsErrors.WithLabelValues(operation).Inc()
	}
}
