// Package stream implements the partitioned, replayable append log broker:
// per-partition logs, consumer-group coordination with epoch fencing, and
// retention sweeping.
package stream

import (
	"time"

	"github.com/nexo-broker/nexo/internal/protocol"
)

// ConnID identifies a connection participating in a consumer group.
type ConnID uint64

// Record is one appended stream message.
type Record struct {
	Seq       uint64
	Timestamp time.Time
	Payload   protocol.Any
}

func (r Record) size() int { return len(r.Payload.Data) }

// Retention bounds how long a partition keeps records.
type Retention struct {
	MaxAge   time.Duration
	MaxBytes int64
}

// ErrNotFound is returned when an operation names a stream that does not exist.
type ErrNotFound struct{ Name string }

func (e ErrNotFound) Error() string { return "stream '" + e.Name + "' not found" }

// ErrFenced is returned when a commit/ack/nack carries a stale generation.
var ErrFenced = fencedErr{}

type fencedErr struct{}

func (fencedErr) Error() string { return "FENCED" }

// ErrRebalance is returned when a fetch carries a stale generation, or
// targets a partition the caller no longer owns.
var ErrRebalance = rebalanceErr{}

type rebalanceErr struct{}

func (rebalanceErr) Error() string { return "REBALANCE" }
