// Package resourceguard enforces static admission-control limits: a hard cap
// on concurrent connections, a process-wide goroutine count ceiling, a CPU
// emergency brake backed by a container-aware sampler, and a per-request
// goroutine semaphore. It rejects work before the process is overloaded
// rather than reacting after the fact.
package resourceguard

import (
	"fmt"
	"runtime"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Limits is the static configuration a Guard enforces.
type Limits struct {
	MaxConnections     int
	MaxGoroutines      int
	CPURejectThreshold float64 // percent, relative to container CPU allocation
}

// Guard enforces Limits against live counters.
type Guard struct {
	limits Limits
	logger zerolog.Logger

	goroutines  *Semaphore
	cpuSampler  CPUSampler
	currentConn *int64
}

// CPUSampler reports the process's current CPU usage percentage. Production
// wiring uses the gopsutil-backed cgroup sampler; tests can stub it.
type CPUSampler interface {
	CurrentPercent() float64
}

// New builds a Guard. currentConn must be the same pointer the caller
// increments/decrements with atomic.Add as connections open and close.
func New(limits Limits, logger zerolog.Logger, cpuSampler CPUSampler, currentConn *int64) *Guard {
	return &Guard{
		limits:      limits,
		logger:      logger,
		goroutines:  NewSemaphore(limits.MaxGoroutines),
		cpuSampler:  cpuSampler,
		currentConn: currentConn,
	}
}

// ShouldAcceptConnection checks the connection limit, the CPU emergency
// brake, and the process-wide goroutine ceiling, in that order, and returns
// a human-readable reason on rejection.
func (g *Guard) ShouldAcceptConnection() (accept bool, reason string) {
	conns := atomic.LoadInt64(g.currentConn)
	if conns >= int64(g.limits.MaxConnections) {
		g.logger.Debug().Int64("current_conns", conns).Int("max_conns", g.limits.MaxConnections).
			Msg("connection rejected: at max connections")
		return false, fmt.Sprintf("at max connections (%d)", g.limits.MaxConnections)
	}

	cpu := g.cpuSampler.CurrentPercent()
	if cpu > g.limits.CPURejectThreshold {
		g.logger.Debug().Float64("current_cpu", cpu).Float64("threshold", g.limits.CPURejectThreshold).
			Msg("connection rejected: cpu overload")
		return false, fmt.Sprintf("CPU %.1f%% > %.1f%%", cpu, g.limits.CPURejectThreshold)
	}

	goros := RuntimeGoroutineCount()
	if goros > g.limits.MaxGoroutines {
		g.logger.Debug().Int("current_goroutines", goros).Int("max_goroutines", g.limits.MaxGoroutines).
			Msg("connection rejected: goroutine limit exceeded")
		return false, fmt.Sprintf("goroutine limit exceeded (%d > %d)", goros, g.limits.MaxGoroutines)
	}

	return true, ""
}

// Goroutines exposes the goroutine admission semaphore.
func (g *Guard) Goroutines() *Semaphore { return g.goroutines }

// Semaphore bounds concurrent goroutines spawned for request-scoped work
// (e.g. a handler that fans out to many subscribers).
type Semaphore struct {
	sem chan struct{}
	max int
}

// NewSemaphore creates a semaphore allowing max concurrent holders.
func NewSemaphore(max int) *Semaphore {
	return &Semaphore{sem: make(chan struct{}, max), max: max}
}

// TryAcquire attempts to acquire a slot without blocking.
func (s *Semaphore) TryAcquire() bool {
	select {
	case s.sem <- struct{}{}:
		return true
	default:
		return false
	}
}

// Release frees a previously acquired slot.
func (s *Semaphore) Release() { <-s.sem }

// Current returns the number of held slots.
func (s *Semaphore) Current() int { return len(s.sem) }

// Max returns the semaphore's capacity.
func (s *Semaphore) Max() int { return s.max }

// RuntimeGoroutineCount reports the process-wide live goroutine count, used
// by ShouldAcceptConnection's goroutine-ceiling check.
func RuntimeGoroutineCount() int { return runtime.NumGoroutine() }
