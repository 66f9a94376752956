// Package scheduler runs the cooperative per-tick sweeps for every broker's
// background bookkeeping (TTL expiry, visibility timeout, delayed delivery,
// retention). The KV and Queue sweeps are bounded to a fixed batch per tick;
// the Stream retention sweep has no batch bound and scans every partition of
// every topic on each tick.
package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/nexo-broker/nexo/internal/broker/kv"
	"github.com/nexo-broker/nexo/internal/broker/queue"
	"github.com/nexo-broker/nexo/internal/broker/stream"
	"github.com/nexo-broker/nexo/internal/metrics"
	"github.com/nexo-broker/nexo/internal/nxlog"
)

// maxBatchPerSweep bounds how much work one tick does for the KV broker and
// for each queue, so a backlog drains gradually across many ticks instead of
// stalling the scheduler goroutine. Stream retention is not bounded by it.
const maxBatchPerSweep = 1000

// Scheduler periodically sweeps every broker's time-driven transitions.
type Scheduler struct {
	kv     *kv.Broker
	queue  *queue.Broker
	stream *stream.Broker

	interval time.Duration
	logger   zerolog.Logger
}

// New builds a Scheduler wired to the three brokers with time-driven state
// (PubSub has none: it is a pure fan-out, no expiry or redelivery).
func New(kvB *kv.Broker, queueB *queue.Broker, streamB *stream.Broker, interval time.Duration, logger zerolog.Logger) *Scheduler {
	return &Scheduler{kv: kvB, queue: queueB, stream: streamB, interval: interval, logger: logger}
}

// Run ticks until ctx is canceled. Call it in its own goroutine.
func (s *Scheduler) Run(ctx context.Context) {
	defer nxlog.RecoverPanic(s.logger, "scheduler.Run", nil)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

func (s *Scheduler) tick() {
	expired := s.kv.SweepExpired(maxBatchPerSweep)
	redelivered := s.queue.SweepVisibility(maxBatchPerSweep)
	promoted := s.queue.SweepDelayed(maxBatchPerSweep)
	ttlDropped := s.queue.SweepTTL(maxBatchPerSweep)
	s.stream.SweepRetention()

	if expired > 0 {
		metrics.KVExpiredTotal.Add(float64(expired))
	}

	if expired+redelivered+promoted+ttlDropped > 0 {
		s.logger.Debug().
			Int("kv_expired", expired).
			Int("queue_redelivered", redelivered).
			Int("queue_promoted", promoted).
			Int("queue_ttl_dropped", ttlDropped).
			Msg("sweep tick")
	}
}
