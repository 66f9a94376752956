package queue

import (
	"time"

	"github.com/google/uuid"

	"github.com/nexo-broker/nexo/internal/protocol"
)

// State is a message's position in the queue state machine.
type State int

const (
	StateScheduled State = iota
	StatePending
	StateInFlight
	StateDead
)

func (s State) String() string {
	switch s {
	case StateScheduled:
		return "scheduled"
	case StatePending:
		return "pending"
	case StateInFlight:
		return "inflight"
	case StateDead:
		return "dead"
	default:
		return "unknown"
	}
}

// Message is one queue entry, tracked across its full lifecycle from push to
// ack, TTL expiry, or DLQ purge.
type Message struct {
	ID             uuid.UUID
	Payload        protocol.Any
	Priority       uint8
	State          State
	Attempts       uint32
	EnqueuedAt     time.Time
	EnqueuedSeq    uint64
	NextDeliveryAt time.Time // valid while Scheduled
	VisibleAfter   time.Time // valid while InFlight
	FailureReason  string
}

// Config holds the per-queue tunables supplied at creation time.
type Config struct {
	VisibilityTimeout time.Duration
	MaxRetries        uint32
	TTL               time.Duration // 0 means never expire
	DefaultDelay      time.Duration
	Passive           bool
	Persistence       string // file_sync|file_async|memory, informational only
}

// DeadLetter is one entry in a queue's DLQ.
type DeadLetter struct {
	MessageID     uuid.UUID
	Payload       protocol.Any
	Attempts      uint32
	FailureReason string
}
