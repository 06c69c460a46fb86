// Package metrics exposes server activity as Prometheus collectors.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "shape_httpd"

// Metrics groups the server's collectors. A nil *Metrics is valid and
// records nothing, so callers never need to check.
type Metrics struct {
	activeConns      prometheus.Gauge
	connsTotal       prometheus.Counter
	handshakeFailed  prometheus.Counter
	requestsTotal    *prometheus.CounterVec
	requestDuration  prometheus.Histogram
	responseBytes    prometheus.Counter
	protocolErrors   prometheus.Counter
	admissionDenials prometheus.Counter
}

// New creates the collectors and registers them with reg. A nil reg uses a
// fresh private registry.
func New(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		activeConns: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "connections_active",
			Help: "Connections currently being served.",
		}),
		connsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "connections_total",
			Help: "Connections accepted.",
		}),
		handshakeFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "tls_handshake_failures_total",
			Help: "TLS handshakes that failed or timed out.",
		}),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "requests_total",
			Help: "Requests answered, by status code and method.",
		}, []string{"code", "method"}),
		requestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "request_duration_seconds",
			Help:    "Time from request line to response flush.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 4, 8),
		}),
		responseBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "response_bytes_total",
			Help: "Bytes written to clients, including headers and framing.",
		}),
		protocolErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "protocol_errors_total",
			Help: "Malformed requests rejected before dispatch.",
		}),
		admissionDenials: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "admission_denials_total",
			Help: "Requests refused by the admission controller.",
		}),
	}
	for _, c := range []prometheus.Collector{
		m.activeConns, m.connsTotal, m.handshakeFailed, m.requestsTotal,
		m.requestDuration, m.responseBytes, m.protocolErrors, m.admissionDenials,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// ConnOpened records an accepted connection.
func (m *Metrics) ConnOpened() {
	if m == nil {
		return
	}
	m.connsTotal.Inc()
	m.activeConns.Inc()
}

// ConnClosed records a finished connection.
func (m *Metrics) ConnClosed() {
	if m == nil {
		return
	}
	m.activeConns.Dec()
}

// HandshakeFailed records a failed TLS handshake.
func (m *Metrics) HandshakeFailed() {
	if m == nil {
		return
	}
	m.handshakeFailed.Inc()
}

// Request records one answered request.
func (m *Metrics) Request(code int, method string, elapsed time.Duration, written int64) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(strconv.Itoa(code), method).Inc()
	m.requestDuration.Observe(elapsed.Seconds())
	m.responseBytes.Add(float64(written))
}

// ProtocolError records a request rejected while parsing.
func (m *Metrics) ProtocolError() {
	if m == nil {
		return
	}
	m.protocolErrors.Inc()
}

// AdmissionDenied records a request refused with 429.
func (m *Metrics) AdmissionDenied() {
	if m == nil {
		return
	}
	m.admissionDenials.Inc()
}
