package queue

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

type waiter struct {
	batchSize int
	reply     chan []Message
}

// singleQueue is the state machine for one named queue plus its DLQ.
type singleQueue struct {
	mu sync.Mutex

	name   string
	config Config

	pending   pendingHeap
	scheduled scheduledHeap
	inflight  map[uuid.UUID]*Message
	dlq       []DeadLetter

	waiters []*waiter
	nextSeq uint64
	nowFn   func() time.Time
}

func newSingleQueue(name string, cfg Config, nowFn func() time.Time) *singleQueue {
	return &singleQueue{
		name:     name,
		config:   cfg,
		inflight: make(map[uuid.UUID]*Message),
		nowFn:    nowFn,
	}
}

// push inserts msg into Scheduled (if delay > 0) or Pending; a Pending
// message then serves any parked waiters. Served waiters receive their
// batches (already transitioned to InFlight) on their own reply channels;
// push itself returns nothing.
func (q *singleQueue) push(msg *Message, delay time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()

	msg.EnqueuedSeq = q.nextSeq
	q.nextSeq++

	if delay > 0 {
		msg.State = StateScheduled
		msg.NextDeliveryAt = q.nowFn().Add(delay)
		q.scheduled.push(msg)
		return
	}

	msg.State = StatePending
	q.pending.push(msg)
	q.serveWaitersLocked()
}

// serveWaitersLocked pops parked waiters FIFO and serves them from Pending
// while both waiters and pending messages remain. Caller holds q.mu.
func (q *singleQueue) serveWaitersLocked() {
	for len(q.waiters) > 0 && q.pending.Len() > 0 {
		w := q.waiters[0]
		batch := q.takeLocked(w.batchSize)
		if len(batch) == 0 {
			break
		}
		q.waiters = q.waiters[1:]
		w.reply <- batch
		close(w.reply)
	}
}

// takeLocked pops up to n messages from Pending, transitioning each to
// InFlight. Caller holds q.mu.
func (q *singleQueue) takeLocked(n int) []Message {
	var out []Message
	for len(out) < n {
		m := q.pending.pop()
		if m == nil {
			break
		}
		m.State = StateInFlight
		m.Attempts++
		m.VisibleAfter = q.nowFn().Add(q.config.VisibilityTimeout)
		q.inflight[m.ID] = m
		out = append(out, *m)
	}
	return out
}

// consume serves immediately-available messages, or parks the caller as a
// waiter for up to wait if nothing is available yet. If the parking period
// elapses first the waiter is removed and nil is returned; cancel aborts
// parking early (e.g. connection closed), also returning nil.
func (q *singleQueue) consume(batchSize int, wait time.Duration, cancel <-chan struct{}) []Message {
	q.mu.Lock()
	batch := q.takeLocked(batchSize)
	if len(batch) > 0 || wait <= 0 {
		q.mu.Unlock()
		return batch
	}

	w := &waiter{batchSize: batchSize, reply: make(chan []Message, 1)}
	q.waiters = append(q.waiters, w)
	q.mu.Unlock()

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case served := <-w.reply:
		return served
	case <-timer.C:
		q.removeWaiter(w)
		return nil
	case <-cancel:
		q.removeWaiter(w)
		return nil
	}
}

func (q *singleQueue) removeWaiter(target *waiter) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, w := range q.waiters {
		if w == target {
			q.waiters = append(q.waiters[:i], q.waiters[i+1:]...)
			return
		}
	}
}

// ack removes id from in-flight. Idempotent: an unknown id is a no-op.
func (q *singleQueue) ack(id uuid.UUID) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inflight, id)
}

// nack explicitly fails id with reason. If attempts have exhausted
// max_retries+1, the message moves to the DLQ; otherwise it returns to
// Pending immediately.
func (q *singleQueue) nack(id uuid.UUID, reason string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	m, ok := q.inflight[id]
	if !ok {
		return
	}
	delete(q.inflight, id)
	m.FailureReason = reason
	q.failLocked(m)
}

// failLocked routes m to the DLQ or back to Pending depending on attempts.
// Caller holds q.mu and has already removed m from in-flight.
func (q *singleQueue) failLocked(m *Message) {
	if m.Attempts >= q.config.MaxRetries+1 {
		m.State = StateDead
		q.dlq = append(q.dlq, DeadLetter{
			MessageID:     m.ID,
			Payload:       m.Payload,
			Attempts:      m.Attempts,
			FailureReason: m.FailureReason,
		})
		return
	}
	m.State = StatePending
	q.pending.push(m)
	q.serveWaitersLocked()
}

// sweepVisibility scans in-flight for entries whose visibility has elapsed
// and treats each as an implicit nack, up to maxBatch entries per call.
func (q *singleQueue) sweepVisibility(maxBatch int) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.nowFn()
	swept := 0
	for id, m := range q.inflight {
		if swept >= maxBatch {
			break
		}
		if !now.After(m.VisibleAfter) {
			continue
		}
		delete(q.inflight, id)
		m.FailureReason = "visibility timeout"
		q.failLocked(m)
		swept++
	}
	return swept
}

// sweepDelayed moves Scheduled entries whose delivery time has arrived into
// Pending, up to maxBatch per call.
func (q *singleQueue) sweepDelayed(maxBatch int) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.nowFn()
	moved := 0
	for moved < maxBatch {
		m := q.scheduled.peek()
		if m == nil || now.Before(m.NextDeliveryAt) {
			break
		}
		q.scheduled.pop()
		m.State = StatePending
		q.pending.push(m)
		moved++
	}
	q.serveWaitersLocked()
	return moved
}

// sweepTTL discards messages (from any state) older than config.TTL,
// without routing them through the DLQ.
func (q *singleQueue) sweepTTL(maxBatch int) int {
	if q.config.TTL <= 0 {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	cutoff := q.nowFn().Add(-q.config.TTL)
	removed := 0

	remaining := q.pending.items[:0]
	for _, m := range q.pending.items {
		if removed < maxBatch && m.EnqueuedAt.Before(cutoff) {
			removed++
			continue
		}
		remaining = append(remaining, m)
	}
	q.pending.items = remaining
	rebuildHeap(&q.pending)

	remainingSched := q.scheduled.items[:0]
	for _, m := range q.scheduled.items {
		if removed < maxBatch && m.EnqueuedAt.Before(cutoff) {
			removed++
			continue
		}
		remainingSched = append(remainingSched, m)
	}
	q.scheduled.items = remainingSched
	rebuildScheduledHeap(&q.scheduled)

	for id, m := range q.inflight {
		if removed >= maxBatch {
			break
		}
		if m.EnqueuedAt.Before(cutoff) {
			delete(q.inflight, id)
			removed++
		}
	}

	return removed
}

func rebuildHeap(h *pendingHeap) {
	items := h.items
	h.items = nil
	for _, m := range items {
		h.push(m)
	}
}

func rebuildScheduledHeap(h *scheduledHeap) {
	items := h.items
	h.items = nil
	for _, m := range items {
		h.push(m)
	}
}

// peekDLQ is a non-destructive paginated read of the DLQ.
func (q *singleQueue) peekDLQ(limit, offset int) []DeadLetter {
	q.mu.Lock()
	defer q.mu.Unlock()

	if offset >= len(q.dlq) {
		return nil
	}
	end := offset + limit
	if end > len(q.dlq) || limit <= 0 {
		end = len(q.dlq)
	}
	out := make([]DeadLetter, end-offset)
	copy(out, q.dlq[offset:end])
	return out
}

// moveToMain re-enqueues the DLQ entry with id to Pending, resetting
// attempts and failure_reason. Returns true the first time; false if id is
// not present (already moved or never existed) — this makes double-moves
// observably idempotent at the caller.
func (q *singleQueue) moveToMain(id uuid.UUID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, dl := range q.dlq {
		if dl.MessageID == id {
			q.dlq = append(q.dlq[:i], q.dlq[i+1:]...)
			m := &Message{
				ID:         dl.MessageID,
				Payload:    dl.Payload,
				Priority:   0,
				State:      StatePending,
				Attempts:   0,
				EnqueuedAt: q.nowFn(),
			}
			m.EnqueuedSeq = q.nextSeq
			q.nextSeq++
			q.pending.push(m)
			q.serveWaitersLocked()
			return true
		}
	}
	return false
}

// deleteDLQ removes one DLQ entry by id, reporting whether it existed.
func (q *singleQueue) deleteDLQ(id uuid.UUID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, dl := range q.dlq {
		if dl.MessageID == id {
			q.dlq = append(q.dlq[:i], q.dlq[i+1:]...)
			return true
		}
	}
	return false
}

// purgeDLQ removes every DLQ entry and returns the count removed.
func (q *singleQueue) purgeDLQ() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.dlq)
	q.dlq = nil
	return n
}

// snapshot clones depth counters and message lists for the HTTP read API.
func (q *singleQueue) snapshot() (pending, inflight, scheduled []Message, dlq []DeadLetter) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, m := range q.pending.items {
		pending = append(pending, *m)
	}
	for _, m := range q.inflight {
		inflight = append(inflight, *m)
	}
	for _, m := range q.scheduled.items {
		scheduled = append(scheduled, *m)
	}
	dlq = append(dlq, q.dlq...)
	return
}
