// Package kv implements the KV broker: a string-keyed map with optional TTL
// expiration, proactively swept in bounded batches and lazily rechecked on
// every read.
package kv

import (
	"sync"
	"time"

	"github.com/nexo-broker/nexo/internal/protocol"
)

// Entry is one stored value.
type Entry struct {
	Key       string
	Value     protocol.Any
	ExpiresAt time.Time // zero value means "never expires"
}

// Broker is the KV store. A single mutex guards the map; critical sections
// never cross a suspension point.
type Broker struct {
	mu      sync.Mutex
	entries map[string]Entry
	nowFn   func() time.Time
}

// New creates an empty KV broker.
func New() *Broker {
	return &Broker{
		entries: make(map[string]Entry),
		nowFn:   time.Now,
	}
}

// Set upserts key with value and a TTL. ttl <= 0 means "never expire".
func (b *Broker) Set(key string, value protocol.Any, ttl time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry := Entry{Key: key, Value: value}
	if ttl > 0 {
		entry.ExpiresAt = b.nowFn().Add(ttl)
	}
	b.entries[key] = entry
}

// Get returns the value for key and true, or the zero value and false if the
// key is absent or has expired. A hit on an expired key removes it.
func (b *Broker) Get(key string) (protocol.Any, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry, ok := b.entries[key]
	if !ok {
		return protocol.Any{}, false
	}
	if b.isExpired(entry) {
		delete(b.entries, key)
		return protocol.Any{}, false
	}
	return entry.Value, true
}

// Del removes key. Idempotent: deleting an absent key is not an error.
func (b *Broker) Del(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.entries, key)
}

// Len returns the current number of live (non-expired) entries. Used by the
// metrics sampler; it performs a full scan so callers should not poll it at
// high frequency.
func (b *Broker) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.nowFn()
	n := 0
	for _, e := range b.entries {
		if !b.isExpiredAt(e, now) {
			n++
		}
	}
	return n
}

func (b *Broker) isExpired(e Entry) bool {
	return b.isExpiredAt(e, b.nowFn())
}

func (b *Broker) isExpiredAt(e Entry, now time.Time) bool {
	return !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt)
}

// SweepExpired removes up to maxBatch expired entries and returns how many
// were removed. Called by the scheduler on a fixed cadence so a single tick
// never does unbounded work.
func (b *Broker) SweepExpired(maxBatch int) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.nowFn()
	removed := 0
	for key, entry := range b.entries {
		if removed >= maxBatch {
			break
		}
		if b.isExpiredAt(entry, now) {
			delete(b.entries, key)
			removed++
		}
	}
	return removed
}

// Snapshot is a point-in-time read used by the HTTP snapshot API (C8).
type Snapshot struct {
	Key       string
	Value     protocol.Any
	ExpiresAt *time.Time
}

// Snapshot clones the current live entries without holding the lock beyond
// one critical section.
func (b *Broker) Snapshot() []Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.nowFn()
	out := make([]Snapshot, 0, len(b.entries))
	for _, e := range b.entries {
		if b.isExpiredAt(e, now) {
			continue
		}
		snap := Snapshot{Key: e.Key, Value: e.Value}
		if !e.ExpiresAt.IsZero() {
			t := e.ExpiresAt
			snap.ExpiresAt = &t
		}
		out = append(out, snap)
	}
	return out
}
