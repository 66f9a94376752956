// Package queue implements the priority/delay work queue broker: per-queue
// pending and scheduled heaps, visibility-timeout redelivery, retries, and a
// dead-letter queue.
package queue

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nexo-broker/nexo/internal/protocol"
)

// ErrNotFound is returned when an operation names a queue that was never
// created.
type ErrNotFound struct{ Name string }

func (e ErrNotFound) Error() string { return fmt.Sprintf("queue '%s' not found", e.Name) }

// ErrAlreadyExists is returned by Create when passive=false and the queue
// already exists.
type ErrAlreadyExists struct{ Name string }

func (e ErrAlreadyExists) Error() string { return fmt.Sprintf("queue '%s' already exists", e.Name) }

// Broker owns every named queue. Each queue has its own lock; the broker's
// lock only guards the name->queue map itself.
type Broker struct {
	mu     sync.RWMutex
	queues map[string]*singleQueue
	nowFn  func() time.Time
}

// New creates an empty queue broker.
func New() *Broker {
	return &Broker{
		queues: make(map[string]*singleQueue),
		nowFn:  time.Now,
	}
}

// Create registers a named queue with cfg. If the queue already exists,
// passive=true returns success (OK semantics), passive=false returns
// ErrAlreadyExists.
func (b *Broker) Create(name string, cfg Config) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.queues[name]; exists {
		if cfg.Passive {
			return nil
		}
		return ErrAlreadyExists{Name: name}
	}
	b.queues[name] = newSingleQueue(name, cfg, b.nowFn)
	return nil
}

func (b *Broker) get(name string) (*singleQueue, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	q, ok := b.queues[name]
	if !ok {
		return nil, ErrNotFound{Name: name}
	}
	return q, nil
}

// Push enqueues payload with the given priority and delay. delay<=0 makes
// the message immediately Pending (subject to waiter delivery); delay>0
// schedules it. Returns the assigned message id.
func (b *Broker) Push(name string, payload protocol.Any, priority uint8, delay time.Duration) (uuid.UUID, error) {
	q, err := b.get(name)
	if err != nil {
		return uuid.UUID{}, err
	}

	id := uuid.New()
	msg := &Message{
		ID:         id,
		Payload:    payload,
		Priority:   priority,
		EnqueuedAt: b.nowFn(),
	}
	if delay <= 0 {
		delay = 0
	}
	q.push(msg, delay)
	return id, nil
}

// Consume serves up to batchSize messages, parking up to wait if none are
// immediately available. cancel aborts parking early (connection close or
// request-deadline cancellation).
func (b *Broker) Consume(name string, batchSize int, wait time.Duration, cancel <-chan struct{}) ([]Message, error) {
	q, err := b.get(name)
	if err != nil {
		return nil, err
	}
	return q.consume(batchSize, wait, cancel), nil
}

// Ack removes id from in-flight. Idempotent per spec: an unknown id on a
// known queue still returns OK (no error).
func (b *Broker) Ack(name string, id uuid.UUID) error {
	q, err := b.get(name)
	if err != nil {
		return err
	}
	q.ack(id)
	return nil
}

// Nack explicitly fails id with reason, routing it to Pending or the DLQ
// depending on attempts so far.
func (b *Broker) Nack(name string, id uuid.UUID, reason string) error {
	q, err := b.get(name)
	if err != nil {
		return err
	}
	q.nack(id, reason)
	return nil
}

// PeekDLQ is a non-destructive, paginated read of a queue's dead letters.
func (b *Broker) PeekDLQ(name string, limit, offset int) ([]DeadLetter, error) {
	q, err := b.get(name)
	if err != nil {
		return nil, err
	}
	return q.peekDLQ(limit, offset), nil
}

// MoveToMain re-enqueues a dead letter to Pending, resetting attempts.
// Returns false (not an error) if id is not currently in the DLQ, which
// makes a repeated MoveToMain call for the same id observably idempotent:
// true then false.
func (b *Broker) MoveToMain(name string, id uuid.UUID) (bool, error) {
	q, err := b.get(name)
	if err != nil {
		return false, err
	}
	return q.moveToMain(id), nil
}

// DeleteDLQ removes one dead letter by id.
func (b *Broker) DeleteDLQ(name string, id uuid.UUID) (bool, error) {
	q, err := b.get(name)
	if err != nil {
		return false, err
	}
	return q.deleteDLQ(id), nil
}

// PurgeDLQ clears a queue's DLQ and returns the count removed.
func (b *Broker) PurgeDLQ(name string) (int, error) {
	q, err := b.get(name)
	if err != nil {
		return 0, err
	}
	return q.purgeDLQ(), nil
}

// SweepVisibility scans every queue's in-flight set for entries past their
// visibility deadline, up to maxBatchPerQueue entries per queue per call.
func (b *Broker) SweepVisibility(maxBatchPerQueue int) int {
	total := 0
	for _, q := range b.snapshotQueues() {
		total += q.sweepVisibility(maxBatchPerQueue)
	}
	return total
}

// SweepDelayed promotes Scheduled entries whose delivery time has arrived.
func (b *Broker) SweepDelayed(maxBatchPerQueue int) int {
	total := 0
	for _, q := range b.snapshotQueues() {
		total += q.sweepDelayed(maxBatchPerQueue)
	}
	return total
}

// SweepTTL discards messages past their queue's TTL.
func (b *Broker) SweepTTL(maxBatchPerQueue int) int {
	total := 0
	for _, q := range b.snapshotQueues() {
		total += q.sweepTTL(maxBatchPerQueue)
	}
	return total
}

func (b *Broker) snapshotQueues() []*singleQueue {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*singleQueue, 0, len(b.queues))
	for _, q := range b.queues {
		out = append(out, q)
	}
	return out
}

// QueueSnapshot is one queue's point-in-time view for the HTTP read API.
type QueueSnapshot struct {
	Name      string
	Pending   []Message
	InFlight  []Message
	Scheduled []Message
}

// DLQSnapshot is one queue's dead-letter view.
type DLQSnapshot struct {
	Name    string
	Entries []DeadLetter
}

// Snapshot clones every queue's state for the dashboard's /api/queue view.
func (b *Broker) Snapshot() ([]QueueSnapshot, []DLQSnapshot) {
	b.mu.RLock()
	names := make([]string, 0, len(b.queues))
	queues := make([]*singleQueue, 0, len(b.queues))
	for name, q := range b.queues {
		names = append(names, name)
		queues = append(queues, q)
	}
	b.mu.RUnlock()

	active := make([]QueueSnapshot, 0, len(queues))
	dlqs := make([]DLQSnapshot, 0, len(queues))
	for i, q := range queues {
		pending, inflight, scheduled, dlq := q.snapshot()
		active = append(active, QueueSnapshot{Name: names[i], Pending: pending, InFlight: inflight, Scheduled: scheduled})
		dlqs = append(dlqs, DLQSnapshot{Name: names[i], Entries: dlq})
	}
	return active, dlqs
}
