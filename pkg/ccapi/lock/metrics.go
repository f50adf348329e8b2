package lock

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ============================================================================
// Prometheus Metrics for Credential Cache Locks
// ============================================================================

// Label constants for metrics.
const (
	LabelMode   = "mode"
	LabelStatus = "status"
	LabelReason = "reason"
	LabelKind   = "kind"
)

// Metrics provides Prometheus metrics for the lock manager.
type Metrics struct {
	requestsTotal       *prometheus.CounterVec
	releasesTotal       *prometheus.CounterVec
	heldGauge           *prometheus.GaugeVec
	waitingGauge        prometheus.Gauge
	waitDuration        prometheus.Histogram
	holdDuration        *prometheus.HistogramVec
	notifyFailuresTotal *prometheus.CounterVec
	limitHitsTotal      *prometheus.CounterVec
}

// NewMetrics creates and registers lock metrics.
// If registry is nil, metrics will be created but not registered (useful for testing).
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ccsd",
				Subsystem: "locks",
				Name:      "requests_total",
				Help:      "Total number of lock requests by outcome",
			},
			[]string{LabelMode, LabelStatus},
		),

		releasesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ccsd",
				Subsystem: "locks",
				Name:      "releases_total",
				Help:      "Total number of lock releases and cancellations",
			},
			[]string{LabelReason},
		),

		heldGauge: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "ccsd",
				Subsystem: "locks",
				Name:      "held",
				Help:      "Number of currently granted locks",
			},
			[]string{LabelMode},
		),

		waitingGauge: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "ccsd",
				Subsystem: "locks",
				Name:      "waiting",
				Help:      "Number of queued lock requests",
			},
		),

		waitDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "ccsd",
				Subsystem: "locks",
				Name:      "wait_duration_seconds",
				Help:      "Time between a lock request and its grant",
				Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
		),

		holdDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "ccsd",
				Subsystem: "locks",
				Name:      "hold_duration_seconds",
				Help:      "Time a lock was held before release",
				Buckets:   []float64{0.1, 1, 5, 10, 30, 60, 300, 600, 1800, 3600},
			},
			[]string{LabelMode},
		),

		notifyFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ccsd",
				Subsystem: "locks",
				Name:      "notify_failures_total",
				Help:      "Grant or cancellation notifications that could not be delivered",
			},
			[]string{LabelKind},
		),

		limitHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ccsd",
				Subsystem: "locks",
				Name:      "limit_hits_total",
				Help:      "Number of times lock limits were hit",
			},
			[]string{LabelKind},
		),
	}

	if registry != nil {
		registry.MustRegister(
			m.requestsTotal,
			m.releasesTotal,
			m.heldGauge,
			m.waitingGauge,
			m.waitDuration,
			m.holdDuration,
			m.notifyFailuresTotal,
			m.limitHitsTotal,
		)
	}

	return m
}

// RecordRequest counts a lock request with its outcome.
func (m *Metrics) RecordRequest(mode Mode, status string) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(mode.String(), status).Inc()
}

// RecordGrant records how long a granted lock waited.
func (m *Metrics) RecordGrant(waited time.Duration) {
	if m == nil {
		return
	}
	m.waitDuration.Observe(waited.Seconds())
}

// RecordRelease counts a release. held is zero for locks that were never
// granted.
func (m *Metrics) RecordRelease(mode Mode, reason string, held time.Duration) {
	if m == nil {
		return
	}
	m.releasesTotal.WithLabelValues(reason).Inc()
	if held > 0 {
		m.holdDuration.WithLabelValues(mode.String()).Observe(held.Seconds())
	}
}

// AddHeld adjusts the held lock gauge.
func (m *Metrics) AddHeld(mode Mode, delta int) {
	if m == nil {
		return
	}
	m.heldGauge.WithLabelValues(mode.String()).Add(float64(delta))
}

// AddWaiting adjusts the queued lock gauge.
func (m *Metrics) AddWaiting(delta int) {
	if m == nil {
		return
	}
	m.waitingGauge.Add(float64(delta))
}

// RecordNotifyFailure counts an undeliverable grant or cancellation.
func (m *Metrics) RecordNotifyFailure(kind string) {
	if m == nil {
		return
	}
	m.notifyFailuresTotal.WithLabelValues(kind).Inc()
}

// RecordLimitHit counts a request refused by a configured limit.
func (m *Metrics) RecordLimitHit(kind string) {
	if m == nil {
		return
	}
	m.limitHitsTotal.WithLabelValues(kind).Inc()
}
