package metrics

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestCollectorSamplesEveryConfiguredGetter(t *testing.T) {
	var kvKeys int64 = 42
	var dropped int64 = 7

	c := NewCollector(Sampler{
		KVKeys: func() int { return int(atomic.LoadInt64(&kvKeys)) },
		QueueDepths: func() map[[2]string]int {
			return map[[2]string]int{{"orders", "pending"}: 2}
		},
		PubSubSubscribers: func() int { return 9 },
		StreamLag: func() []StreamLagSample {
			return []StreamLagSample{{Stream: "orders", Partition: "0", Group: "workers", Lag: 12}}
		},
		WorkerQueueDepth:    func() int { return 1 },
		WorkerQueueCapacity: func() int { return 100 },
		WorkerDropped:       func() int64 { return atomic.LoadInt64(&dropped) },
		CPUPercent:          func() float64 { return 12.5 },
		MemoryBytes:         func() uint64 { return 1024 },
	}, time.Hour, zerolog.Nop())

	c.sample()

	require.Equal(t, float64(42), testValue(t, KVKeysTotal))
	require.Equal(t, float64(2), testValue(t, QueueDepth.WithLabelValues("orders", "pending")))
	require.Equal(t, float64(9), testValue(t, PubSubSubscribersActive))
	require.Equal(t, float64(12), testValue(t, StreamConsumerLag.WithLabelValues("orders", "0", "workers")))
	require.Equal(t, float64(1), testValue(t, WorkerQueueDepth))
	require.Equal(t, float64(100), testValue(t, WorkerQueueCapacity))
	require.Equal(t, 12.5, testValue(t, CPUUsagePercent))
	require.Equal(t, float64(1024), testValue(t, MemoryUsageBytes))
}

func TestCollectorOnlyAddsPositiveDroppedDelta(t *testing.T) {
	before := testValue(t, WorkerTasksDropped)

	var dropped int64 = 3
	c := NewCollector(Sampler{
		WorkerDropped: func() int64 { return atomic.LoadInt64(&dropped) },
	}, time.Hour, zerolog.Nop())

	c.sample()
	require.Equal(t, before+3, testValue(t, WorkerTasksDropped))

	// A second sample with no change in the underlying total must not add again.
	c.sample()
	require.Equal(t, before+3, testValue(t, WorkerTasksDropped))
}

func TestCollectorSkipsNilSamplerFields(t *testing.T) {
	c := NewCollector(Sampler{}, time.Hour, zerolog.Nop())
	require.NotPanics(t, func() { c.sample() })
}

func TestCollectorRunStopsOnContextCancel(t *testing.T) {
	c := NewCollector(Sampler{}, time.Millisecond, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}

func testValue(t *testing.T, c prometheus.Metric) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	switch {
	case m.Gauge != nil:
		return m.Gauge.GetValue()
	case m.Counter != nil:
		return m.Counter.GetValue()
	default:
		t.Fatalf("metric has neither Gauge nor Counter value")
		return 0
	}
}
