package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewRegistryRegistersAllCollectors(t *testing.T) {
	reg := NewRegistry()
	require.NotNil(t, reg)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	reg.Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	require.Contains(t, rec.Body.String(), "nexo_connections_total")
	require.Contains(t, rec.Body.String(), "nexo_kv_keys_total")
	require.Contains(t, rec.Body.String(), "nexo_worker_tasks_dropped_total")
}

func TestCountersAndGaugesAreLive(t *testing.T) {
	ConnectionsTotal.Add(1)
	ConnectionsActive.Set(3)
	FramesReceived.WithLabelValues("kv_get").Inc()
	QueueDepth.WithLabelValues("orders", "pending").Set(5)

	reg := NewRegistry()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	reg.Handler().ServeHTTP(rec, req)

	body := rec.Body.String()
	require.Contains(t, body, `nexo_frames_received_total{type="kv_get"}`)
	require.Contains(t, body, `nexo_queue_depth{queue="orders",state="pending"}`)
}
