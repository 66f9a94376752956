// Package pubsub implements the MQTT-style topic bus: exact and wildcard
// subscriptions, retained values, and publish fan-out.
package pubsub

import (
	"strings"
	"sync"

	"github.com/nexo-broker/nexo/internal/protocol"
)

// ConnID identifies a connection that owns subscriptions.
type ConnID uint64

// Delivery is one message handed to the transport layer to push to a
// specific connection.
type Delivery struct {
	Conn    ConnID
	Topic   string
	Payload protocol.Any
}

type subscription struct {
	conn    ConnID
	pattern string
}

// Broker owns the subscription index and the retained-value store. Per
// spec, duplicate (conn, pattern) registrations are preserved and each
// produces its own delivery — subscriptions are not deduplicated.
type Broker struct {
	mu sync.Mutex

	exact    map[string][]subscription // topic -> subscribers (exact-pattern subs keyed here too)
	wildcard []subscription            // patterns containing + or #
	retained map[string]protocol.Any   // exact topic -> last retained value
}

// New creates an empty PubSub broker.
func New() *Broker {
	return &Broker{
		exact:    make(map[string][]subscription),
		retained: make(map[string]protocol.Any),
	}
}

func isWildcardPattern(pattern string) bool {
	return strings.ContainsAny(pattern, "+#")
}

// Subscribe registers (conn, pattern) and returns the retained deliveries
// that must be sent to the new subscriber immediately: every retained value
// on a topic the pattern matches.
func (b *Broker) Subscribe(conn ConnID, pattern string) []Delivery {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := subscription{conn: conn, pattern: pattern}
	if isWildcardPattern(pattern) {
		b.wildcard = append(b.wildcard, sub)
	} else {
		b.exact[pattern] = append(b.exact[pattern], sub)
	}

	var deliveries []Delivery
	for topic, value := range b.retained {
		if topicMatches(pattern, topic) {
			deliveries = append(deliveries, Delivery{Conn: conn, Topic: topic, Payload: value})
		}
	}
	return deliveries
}

// Unsubscribe removes the connection's registration for the exact pattern
// string. Only one matching registration is removed if duplicates exist,
// mirroring how a client-side unsubscribe targets one prior subscribe call.
func (b *Broker) Unsubscribe(conn ConnID, pattern string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if isWildcardPattern(pattern) {
		b.wildcard = removeOne(b.wildcard, conn, pattern)
		return
	}
	subs := b.exact[pattern]
	subs = removeOne(subs, conn, pattern)
	if len(subs) == 0 {
		delete(b.exact, pattern)
	} else {
		b.exact[pattern] = subs
	}
}

func removeOne(subs []subscription, conn ConnID, pattern string) []subscription {
	for i, s := range subs {
		if s.conn == conn && s.pattern == pattern {
			return append(subs[:i:i], subs[i+1:]...)
		}
	}
	return subs
}

// RemoveConnection drops every subscription owned by conn, used on
// disconnect. Retained values are untouched.
func (b *Broker) RemoveConnection(conn ConnID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for topic, subs := range b.exact {
		subs = filterConn(subs, conn)
		if len(subs) == 0 {
			delete(b.exact, topic)
		} else {
			b.exact[topic] = subs
		}
	}
	b.wildcard = filterConn(b.wildcard, conn)
}

func filterConn(subs []subscription, conn ConnID) []subscription {
	out := subs[:0]
	for _, s := range subs {
		if s.conn != conn {
			out = append(out, s)
		}
	}
	return out
}

// Publish delivers payload to every subscriber whose pattern matches topic.
// If retain is set, payload is stored (or, if empty, the retained value for
// topic is deleted) before fan-out is computed. Each logical subscription —
// including duplicate registrations on the same connection — yields its own
// Delivery.
func (b *Broker) Publish(topic string, payload protocol.Any, retain bool) []Delivery {
	b.mu.Lock()
	defer b.mu.Unlock()

	if retain {
		if payload.IsEmpty() {
			delete(b.retained, topic)
		} else {
			b.retained[topic] = payload
		}
	}

	var deliveries []Delivery
	for _, s := range b.exact[topic] {
		deliveries = append(deliveries, Delivery{Conn: s.conn, Topic: topic, Payload: payload})
	}
	for _, s := range b.wildcard {
		if topicMatches(s.pattern, topic) {
			deliveries = append(deliveries, Delivery{Conn: s.conn, Topic: topic, Payload: payload})
		}
	}
	return deliveries
}

// topicMatches reports whether pattern matches topic under MQTT-style
// segment rules: '+' matches exactly one non-empty segment, '#' matches
// zero-or-more trailing segments and is only valid as the final segment.
func topicMatches(pattern, topic string) bool {
	pSegs := strings.Split(pattern, "/")
	tSegs := strings.Split(topic, "/")

	for i, p := range pSegs {
		if p == "#" {
			return i == len(pSegs)-1
		}
		if i >= len(tSegs) {
			return false
		}
		if p == "+" {
			if tSegs[i] == "" {
				return false
			}
			continue
		}
		if p != tSegs[i] {
			return false
		}
	}
	return len(pSegs) == len(tSegs)
}

// ActiveSubscriberCount returns the current number of live subscriptions
// (exact + wildcard), counting duplicates, for metrics.
func (b *Broker) ActiveSubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(b.wildcard)
	for _, subs := range b.exact {
		n += len(subs)
	}
	return n
}

// TopicSnapshot is one exact topic's view for the HTTP snapshot API.
type TopicSnapshot struct {
	FullPath      string
	Subscribers   int
	RetainedValue *protocol.Any
}

// WildcardSnapshot is one wildcard pattern's view for the HTTP snapshot API.
type WildcardSnapshot struct {
	Pattern  string
	ConnID   ConnID
	MultiLvl bool // true if pattern ends in '#', false if it only contains '+'
}

// Snapshot clones the current subscription index and retained store.
func (b *Broker) Snapshot() ([]TopicSnapshot, []WildcardSnapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()

	topics := make([]TopicSnapshot, 0, len(b.exact))
	seen := make(map[string]bool)
	for topic, subs := range b.exact {
		seen[topic] = true
		snap := TopicSnapshot{FullPath: topic, Subscribers: len(subs)}
		if v, ok := b.retained[topic]; ok {
			vv := v
			snap.RetainedValue = &vv
		}
		topics = append(topics, snap)
	}
	for topic, v := range b.retained {
		if seen[topic] {
			continue
		}
		vv := v
		topics = append(topics, TopicSnapshot{FullPath: topic, Subscribers: 0, RetainedValue: &vv})
	}

	wildcards := make([]WildcardSnapshot, 0, len(b.wildcard))
	for _, s := range b.wildcard {
		wildcards = append(wildcards, WildcardSnapshot{
			Pattern:  s.pattern,
			ConnID:   s.conn,
			MultiLvl: strings.HasSuffix(s.pattern, "#"),
		})
	}
	return topics, wildcards
}
