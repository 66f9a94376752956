// Package natsbridge is an optional bridge that subscribes to an external
// NATS server and republishes every message into the PubSub broker, so
// externally-produced messages are visible to Nexo subscribers the same way
// a locally-published message would be.
//
// It is entirely off the broker's correctness path: with no URL configured
// the bridge is never constructed and PubSub behaves exactly as if
// natsbridge did not exist.
package natsbridge

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/nexo-broker/nexo/internal/broker/pubsub"
	"github.com/nexo-broker/nexo/internal/metrics"
	"github.com/nexo-broker/nexo/internal/protocol"
)

// Config configures the NATS ingest bridge.
type Config struct {
	URL             string
	MaxReconnects   int
	ReconnectWait   time.Duration
	ReconnectJitter time.Duration
	MaxPingsOut     int
	PingInterval    time.Duration

	// Subjects maps a NATS subject (may use NATS wildcards `*`/`>`) to the
	// PubSub topic pattern messages on it are republished under.
	Subjects map[string]string
	// Retain, when true, makes every republished message retained on its
	// PubSub topic, mirroring JetStream's Durable/last-value semantics.
	Retain bool
}

func (c Config) withDefaults() Config {
	if c.MaxReconnects == 0 {
		c.MaxReconnects = -1 // retry forever, matching a long-lived broker process
	}
	if c.ReconnectWait == 0 {
		c.ReconnectWait = 2 * time.Second
	}
	if c.ReconnectJitter == 0 {
		c.ReconnectJitter = 500 * time.Millisecond
	}
	if c.MaxPingsOut == 0 {
		c.MaxPingsOut = 3
	}
	if c.PingInterval == 0 {
		c.PingInterval = 20 * time.Second
	}
	return c
}

// Pusher delivers a PUSH frame to a live connection. transport.Registry
// implements this; it is the same interface the dispatcher pushes through.
type Pusher interface {
	Push(connID uint64, frame []byte)
}

// Bridge subscribes to NATS subjects and republishes into PubSub.
type Bridge struct {
	conn   *nats.Conn
	pubsub *pubsub.Broker
	pusher Pusher
	logger zerolog.Logger

	subsMu sync.Mutex
	subs   map[string]*nats.Subscription

	subjects map[string]string
	retain   bool

	messagesIngested uint64
}

// New connects to NATS and builds a Bridge. It does not subscribe to any
// subject until Start is called. pusher delivers fan-out to subscribers the
// same way the dispatcher does for locally-published messages; a nil pusher
// still updates PubSub's retained state but delivers nothing live.
func New(cfg Config, pubsubB *pubsub.Broker, pusher Pusher, logger zerolog.Logger) (*Bridge, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("natsbridge: URL is required")
	}
	if len(cfg.Subjects) == 0 {
		return nil, fmt.Errorf("natsbridge: at least one subject mapping is required")
	}
	cfg = cfg.withDefaults()

	b := &Bridge{
		pubsub:   pubsubB,
		pusher:   pusher,
		logger:   logger,
		subs:     make(map[string]*nats.Subscription),
		subjects: cfg.Subjects,
		retain:   cfg.Retain,
	}

	conn, err := nats.Connect(cfg.URL,
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.ReconnectJitter(cfg.ReconnectJitter, cfg.ReconnectJitter),
		nats.MaxPingsOutstanding(cfg.MaxPingsOut),
		nats.PingInterval(cfg.PingInterval),
		nats.ConnectHandler(func(c *nats.Conn) {
			logger.Info().Str("url", c.ConnectedUrl()).Msg("natsbridge: connected")
		}),
		nats.DisconnectErrHandler(func(c *nats.Conn, err error) {
			if err != nil {
				logger.Warn().Err(err).Msg("natsbridge: disconnected with error")
				return
			}
			logger.Warn().Msg("natsbridge: disconnected")
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info().Str("url", c.ConnectedUrl()).Msg("natsbridge: reconnected")
		}),
		nats.ErrorHandler(func(c *nats.Conn, sub *nats.Subscription, err error) {
			logger.Error().Err(err).Msg("natsbridge: async error")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("natsbridge: connect: %w", err)
	}
	b.conn = conn

	return b, nil
}

// Start subscribes to every configured subject.
func (b *Bridge) Start() error {
	b.subsMu.Lock()
	defer b.subsMu.Unlock()

	for subject, topicPattern := range b.subjects {
		topicPattern := topicPattern
		sub, err := b.conn.Subscribe(subject, func(msg *nats.Msg) {
			b.ingest(msg, topicPattern)
		})
		if err != nil {
			return fmt.Errorf("natsbridge: subscribe %q: %w", subject, err)
		}
		b.subs[subject] = sub
		b.logger.Info().Str("subject", subject).Str("pubsub_topic", topicPattern).Msg("natsbridge: subscribed")
	}
	return nil
}

// ingest republishes a single NATS message. When topicPattern is empty, the
// message's concrete NATS subject becomes the PubSub topic verbatim, giving
// wildcard subscriptions (`*`, `>`) a natural mapping onto Nexo's own topic
// hierarchy; otherwise topicPattern itself is the topic, with no
// substitution.
func (b *Bridge) ingest(msg *nats.Msg, topicPattern string) {
	topic := topicPattern
	if topicPattern == "" {
		topic = msg.Subject
	}

	deliveries := b.pubsub.Publish(topic, protocol.RawAny(msg.Data), b.retain)
	metrics.PubSubMessagesPublished.Inc()
	if len(deliveries) > 0 {
		metrics.PubSubDeliveriesTotal.Add(float64(len(deliveries)))
	}
	if b.pusher != nil {
		for _, dv := range deliveries {
			body := protocol.PutString(nil, dv.Topic)
			body = protocol.PutAny(body, dv.Payload)
			b.pusher.Push(uint64(dv.Conn), protocol.EncodePush(0, protocol.PushPubSub, body))
		}
	}
	atomic.AddUint64(&b.messagesIngested, 1)

	b.logger.Debug().
		Str("nats_subject", msg.Subject).
		Str("pubsub_topic", topic).
		Msg("natsbridge: message ingested")
}

// Stop unsubscribes from every subject and closes the connection.
func (b *Bridge) Stop() {
	b.subsMu.Lock()
	defer b.subsMu.Unlock()

	for subject, sub := range b.subs {
		if err := sub.Unsubscribe(); err != nil {
			b.logger.Warn().Err(err).Str("subject", subject).Msg("natsbridge: unsubscribe failed")
		}
	}
	b.conn.Close()
	b.logger.Info().Uint64("messages_ingested", atomic.LoadUint64(&b.messagesIngested)).Msg("natsbridge: stopped")
}

// Metrics returns the bridge's running counter.
func (b *Bridge) Metrics() (ingested uint64) {
	return atomic.LoadUint64(&b.messagesIngested)
}
