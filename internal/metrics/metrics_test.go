package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ResourceAdded("http")
	m.ResourceRemoved("http")
	m.ConnectionForwarded("tcp")
	m.ForwardError("dial")
	m.BytesForwarded("inbound", 10)
	m.Callback("ok")
	m.ConnectAttempt("connected")
	m.ObserveRequest("GET", 200, time.Millisecond)
}

func TestResourcesGauge(t *testing.T) {
	m := New(nil)
	m.ResourceAdded("tcp")
	m.ResourceAdded("tcp")
	m.ResourceRemoved("tcp")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ResourcesActive.WithLabelValues("tcp")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ResourcesActive.WithLabelValues("http")))
}

func TestRegistersWithRegisterer(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.ForwardError("dial")
	m.ObserveRequest("GET", 404, 5*time.Millisecond)

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["hexagent_forward_errors_total"])
	assert.True(t, names["hexagent_http_requests_total"])
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("GET", "4xx")))
}

func TestBytesIgnoresEmptyCopies(t *testing.T) {
	m := New(nil)
	m.BytesForwarded("outbound", 0)
	m.BytesForwarded("outbound", 42)
	assert.Equal(t, 42.0, testutil.ToFloat64(m.ForwardedBytes.WithLabelValues("outbound")))
}
