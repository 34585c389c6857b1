// Package metrics holds the prometheus collectors of the agent and the relay gateway.
//
// All helper methods accept a nil *Metrics and do nothing, so components can
// run without instrumentation.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace prefixes every metric name
const Namespace = "hexagent"

// Metrics is one set of collectors registered against a single registerer
type Metrics struct {
	ResourcesActive      *prometheus.GaugeVec
	ForwardedConnections *prometheus.CounterVec
	ForwardErrors        *prometheus.CounterVec
	ForwardedBytes       *prometheus.CounterVec
	Callbacks            *prometheus.CounterVec
	ConnectAttempts      *prometheus.CounterVec
	HTTPRequests         *prometheus.CounterVec
	HTTPDuration         *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg.
// A nil reg leaves them unregistered.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ResourcesActive: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "resources_active",
			Help:      "Resources currently held by the registry",
		}, []string{"kind"}),
		ForwardedConnections: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "forwarded_connections_total",
			Help:      "Connections spliced to a local destination",
		}, []string{"scheme"}),
		ForwardErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "forward_errors_total",
			Help:      "Per-connection forwarding failures by reason",
		}, []string{"reason"}),
		ForwardedBytes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "forwarded_bytes_total",
			Help:      "Bytes copied by forwarders",
		}, []string{"direction"}),
		Callbacks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "callbacks_total",
			Help:      "Host callback invocations by outcome",
		}, []string{"outcome"}),
		ConnectAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "connect_attempts_total",
			Help:      "Relay connect attempts by result",
		}, []string{"result"}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "http_requests_total",
			Help:      "Gateway HTTP requests",
		}, []string{"method", "code"}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Gateway HTTP request latency",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 16),
		}, []string{"method"}),
	}
}

// ResourceAdded increments the active gauge of kind
func (m *Metrics) ResourceAdded(kind string) {
	if m == nil {
		return
	}
	m.ResourcesActive.WithLabelValues(kind).Inc()
}

// ResourceRemoved decrements the active gauge of kind
func (m *Metrics) ResourceRemoved(kind string) {
	if m == nil {
		return
	}
	m.ResourcesActive.WithLabelValues(kind).Dec()
}

// ConnectionForwarded counts one spliced connection
func (m *Metrics) ConnectionForwarded(scheme string) {
	if m == nil {
		return
	}
	m.ForwardedConnections.WithLabelValues(scheme).Inc()
}

// ForwardError counts one failed connection
func (m *Metrics) ForwardError(reason string) {
	if m == nil {
		return
	}
	m.ForwardErrors.WithLabelValues(reason).Inc()
}

// BytesForwarded adds n bytes copied in direction ("inbound" or "outbound")
func (m *Metrics) BytesForwarded(direction string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.ForwardedBytes.WithLabelValues(direction).Add(float64(n))
}

// Callback counts one host callback outcome
func (m *Metrics) Callback(outcome string) {
	if m == nil {
		return
	}
	m.Callbacks.WithLabelValues(outcome).Inc()
}

// ConnectAttempt counts one relay connect attempt
func (m *Metrics) ConnectAttempt(result string) {
	if m == nil {
		return
	}
	m.ConnectAttempts.WithLabelValues(result).Inc()
}

// ObserveRequest records one gateway HTTP request
func (m *Metrics) ObserveRequest(method string, code int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, statusText(code)).Inc()
	m.HTTPDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}

func statusText(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	case code >= 200:
		return "2xx"
	default:
		return "1xx"
	}
}
