package queue

import "container/heap"

// pendingHeap orders messages by (-priority, enqueued_seq): strictly
// higher-priority first, ties broken FIFO. Mirrors the shape of a generic
// min-heap wrapper (Len/Less/Swap/Push/Pop plus a mutex-free core, locking
// lives one layer up in Queue) but specialized for the two-key ordering the
// priority queue needs.
type pendingHeap struct {
	items []*Message
}

func (h pendingHeap) Len() int { return len(h.items) }

func (h pendingHeap) Less(i, j int) bool {
	a, b := h.items[i], h.items[j]
	if a.Priority != b.Priority {
		return a.Priority > b.Priority // higher priority first
	}
	return a.EnqueuedSeq < b.EnqueuedSeq // FIFO tiebreak
}

func (h pendingHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }

func (h *pendingHeap) Push(x any) { h.items = append(h.items, x.(*Message)) }

func (h *pendingHeap) Pop() any {
	old := h.items
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	h.items = old[:n-1]
	return item
}

func (h *pendingHeap) push(m *Message) { heap.Push(h, m) }

func (h *pendingHeap) pop() *Message {
	if h.Len() == 0 {
		return nil
	}
	return heap.Pop(h).(*Message)
}

func (h *pendingHeap) peek() *Message {
	if h.Len() == 0 {
		return nil
	}
	return h.items[0]
}

// scheduledHeap orders delayed messages by next_delivery_at ascending, ties
// broken by enqueue order.
type scheduledHeap struct {
	items []*Message
}

func (h scheduledHeap) Len() int { return len(h.items) }

func (h scheduledHeap) Less(i, j int) bool {
	a, b := h.items[i], h.items[j]
	if !a.NextDeliveryAt.Equal(b.NextDeliveryAt) {
		return a.NextDeliveryAt.Before(b.NextDeliveryAt)
	}
	return a.EnqueuedSeq < b.EnqueuedSeq
}

func (h scheduledHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }

func (h *scheduledHeap) Push(x any) { h.items = append(h.items, x.(*Message)) }

func (h *scheduledHeap) Pop() any {
	old := h.items
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	h.items = old[:n-1]
	return item
}

func (h *scheduledHeap) push(m *Message) { heap.Push(h, m) }

func (h *scheduledHeap) peek() *Message {
	if h.Len() == 0 {
		return nil
	}
	return h.items[0]
}

func (h *scheduledHeap) pop() *Message {
	if h.Len() == 0 {
		return nil
	}
	return heap.Pop(h).(*Message)
}
