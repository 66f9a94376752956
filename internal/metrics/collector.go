package metrics

import (
	"context"
	"runtime"
	"time"

	"github.com/rs/zerolog"
)

// StreamLagSample is one (stream, partition, group) consumer lag reading.
type StreamLagSample struct {
	Stream    string
	Partition string
	Group     string
	Lag       float64
}

// Sampler is the minimal broker/runtime surface the periodic collector
// reads. Concrete broker Snapshot() shapes differ per package, so Collector
// takes plain sampling funcs instead of broker types directly — this keeps
// internal/metrics free of an import cycle back to internal/broker/*.
type Sampler struct {
	KVKeys              func() int
	QueueDepths         func() map[[2]string]int // (queue, state) -> count
	PubSubSubscribers   func() int
	StreamLag           func() []StreamLagSample
	WorkerQueueDepth    func() int
	WorkerQueueCapacity func() int
	WorkerDropped       func() int64
	CPUPercent          func() float64
	MemoryBytes         func() uint64
}

// Collector periodically samples broker and process state into the
// Prometheus gauges, mirroring the teacher's ticker-driven MetricsCollector.
type Collector struct {
	sampler     Sampler
	interval    time.Duration
	logger      zerolog.Logger
	lastDropped int64
}

// NewCollector builds a Collector. Any Sampler field left nil is skipped.
func NewCollector(sampler Sampler, interval time.Duration, logger zerolog.Logger) *Collector {
	return &Collector{sampler: sampler, interval: interval, logger: logger}
}

// Run samples on every tick until ctx is canceled. Call it in its own goroutine.
func (c *Collector) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.sample()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sample()
		}
	}
}

func (c *Collector) sample() {
	if c.sampler.KVKeys != nil {
		KVKeysTotal.Set(float64(c.sampler.KVKeys()))
	}
	if c.sampler.QueueDepths != nil {
		for k, v := range c.sampler.QueueDepths() {
			QueueDepth.WithLabelValues(k[0], k[1]).Set(float64(v))
		}
	}
	if c.sampler.PubSubSubscribers != nil {
		PubSubSubscribersActive.Set(float64(c.sampler.PubSubSubscribers()))
	}
	if c.sampler.StreamLag != nil {
		for _, s := range c.sampler.StreamLag() {
			StreamConsumerLag.WithLabelValues(s.Stream, s.Partition, s.Group).Set(s.Lag)
		}
	}
	if c.sampler.WorkerQueueDepth != nil {
		WorkerQueueDepth.Set(float64(c.sampler.WorkerQueueDepth()))
	}
	if c.sampler.WorkerQueueCapacity != nil {
		WorkerQueueCapacity.Set(float64(c.sampler.WorkerQueueCapacity()))
	}
	if c.sampler.CPUPercent != nil {
		CPUUsagePercent.Set(c.sampler.CPUPercent())
	}
	if c.sampler.MemoryBytes != nil {
		MemoryUsageBytes.Set(float64(c.sampler.MemoryBytes()))
	}
	if c.sampler.WorkerDropped != nil {
		total := c.sampler.WorkerDropped()
		if delta := total - c.lastDropped; delta > 0 {
			WorkerTasksDropped.Add(float64(delta))
		}
		c.lastDropped = total
	}
	GoroutinesActive.Set(float64(runtime.NumGoroutine()))

	c.logger.Debug().Msg("metrics sample collected")
}
