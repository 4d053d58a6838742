package observ

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMetricsHandlerExposesRegisteredSeries(t *testing.T) {
	ResetMetrics()
	IncCounter("kernel_probes_total", map[string]string{"component": "kv"})
	SetGauge("kernel_health_status", 2, map[string]string{"component": "kv"})
	Observe("kernel_decision_latency_ms", 12.5, map[string]string{"mode": "cloud"})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	Handler().ServeHTTP(rec, req)

	body := rec.Body.String()
	require.Contains(t, body, "kernel_probes_total")
	require.Contains(t, body, "kernel_health_status")
	require.Contains(t, body, "kernel_decision_latency_ms")
	require.True(t, strings.Contains(body, `component="kv"`))
}

func TestIncCounterByAccumulates(t *testing.T) {
	ResetMetrics()
	IncCounterBy("kernel_cost_tracked_total", map[string]string{"service": "x"}, 3)
	IncCounterBy("kernel_cost_tracked_total", map[string]string{"service": "x"}, 4)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Contains(t, rec.Body.String(), "kernel_cost_tracked_total{service=\"x\"} 7")
}
