package server

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics provides Prometheus metrics for client connections and requests.
type Metrics struct {
	connectionsActive prometheus.Gauge
	connectionsTotal  *prometheus.CounterVec
	requestsTotal     *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
}

// NewMetrics creates and registers server metrics.
// If registry is nil, metrics will be created but not registered.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		connectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ccsd",
			Subsystem: "connections",
			Name:      "active",
			Help:      "Number of connected clients",
		}),
		connectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ccsd",
			Subsystem: "connections",
			Name:      "total",
			Help:      "Total number of connection events",
		}, []string{"event"}),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ccsd",
			Subsystem: "requests",
			Name:      "total",
			Help:      "Total number of client requests by result code",
		}, []string{"op", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ccsd",
			Subsystem: "requests",
			Name:      "duration_seconds",
			Help:      "Time spent handling a request in the arbiter",
			Buckets:   prometheus.ExponentialBuckets(0.00005, 4, 8),
		}, []string{"op"}),
	}

	if registry != nil {
		registry.MustRegister(
			m.connectionsActive,
			m.connectionsTotal,
			m.requestsTotal,
			m.requestDuration,
		)
	}
	return m
}

func (m *Metrics) connected() {
	if m == nil {
		return
	}
	m.connectionsActive.Inc()
	m.connectionsTotal.WithLabelValues("connect").Inc()
}

func (m *Metrics) disconnected() {
	if m == nil {
		return
	}
	m.connectionsActive.Dec()
	m.connectionsTotal.WithLabelValues("disconnect").Inc()
}

func (m *Metrics) observeRequest(op, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(op, status).Inc()
	m.requestDuration.WithLabelValues(op).Observe(d.Seconds())
}
