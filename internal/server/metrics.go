package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "apsa"

// Metrics groups the collectors exported on /metrics. Each instance owns its
// registry so several hubs can coexist in one process.
type Metrics struct {
	registry          *prometheus.Registry
	activeConnections prometheus.Gauge
	connectionsTotal  prometheus.Counter
	disconnects       *prometheus.CounterVec
	registrations     *prometheus.CounterVec
	broadcasts        prometheus.Counter
	droppedFrames     *prometheus.CounterVec
	inboundErrors     *prometheus.CounterVec
	activityOps       *prometheus.CounterVec
}

// NewMetrics builds and registers the collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		activeConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "presence",
			Name:      "active_connections",
			Help:      "Live framed connections.",
		}),
		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "presence",
			Name:      "connections_total",
			Help:      "Connections accepted after a successful handshake.",
		}),
		disconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "presence",
			Name:      "disconnects_total",
			Help:      "Connections removed from the registry.",
		}, []string{"reason"}),
		registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "presence",
			Name:      "registrations_total",
			Help:      "Identity claims by outcome.",
		}, []string{"result"}),
		broadcasts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "broadcast",
			Name:      "snapshots_total",
			Help:      "State snapshots published to every connection.",
		}),
		droppedFrames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "broadcast",
			Name:      "dropped_frames_total",
			Help:      "Outbound frames that were not queued.",
		}, []string{"reason"}),
		inboundErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "inbound",
			Name:      "errors_total",
			Help:      "Inbound frames or payloads dropped without closing the connection.",
		}, []string{"reason"}),
		activityOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "activities",
			Name:      "operations_total",
			Help:      "Activity operations by kind and outcome.",
		}, []string{"operation", "result"}),
	}
	m.registry.MustRegister(
		m.activeConnections,
		m.connectionsTotal,
		m.disconnects,
		m.registrations,
		m.broadcasts,
		m.droppedFrames,
		m.inboundErrors,
		m.activityOps,
		collectors.NewGoCollector(),
	)
	return m
}

// Handler exposes the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) connectionOpened() {
	m.connectionsTotal.Inc()
	m.activeConnections.Inc()
}

func (m *Metrics) connectionClosed(reason string) {
	m.activeConnections.Dec()
	m.disconnects.WithLabelValues(reason).Inc()
}

func (m *Metrics) registration(result string) {
	m.registrations.WithLabelValues(result).Inc()
}

func (m *Metrics) snapshotPublished() {
	m.broadcasts.Inc()
}

func (m *Metrics) frameDropped(reason string) {
	m.droppedFrames.WithLabelValues(reason).Inc()
}

func (m *Metrics) inboundError(reason string) {
	m.inboundErrors.WithLabelValues(reason).Inc()
}

func (m *Metrics) activityOperation(operation, result string) {
	m.activityOps.WithLabelValues(operation, result).Inc()
}
