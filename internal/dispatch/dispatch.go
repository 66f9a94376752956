// Package dispatch routes decoded REQUEST frames to the four brokers and
// encodes their results back into RESPONSE payloads. It also tracks the
// per-connection bookkeeping (stream group memberships, in-flight queue
// holds) that the brokers themselves don't own, so disconnect cleanup can
// fully unwind a connection's state.
package dispatch

import (
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nexo-broker/nexo/internal/broker/kv"
	"github.com/nexo-broker/nexo/internal/broker/pubsub"
	"github.com/nexo-broker/nexo/internal/broker/queue"
	"github.com/nexo-broker/nexo/internal/broker/stream"
	"github.com/nexo-broker/nexo/internal/protocol"
	"github.com/nexo-broker/nexo/internal/workerpool"
)

// Pusher delivers an unsolicited PUSH frame to a connection. The transport
// layer implements this; it is dropped silently if the connection is gone.
type Pusher interface {
	Push(connID uint64, frame []byte)
}

type streamMembership struct {
	topic string
	group string
}

type queueHold struct {
	queue string
	id    uuid.UUID
}

// Dispatcher owns the four brokers and the opcode routing table.
type Dispatcher struct {
	KV     *kv.Broker
	Queue  *queue.Broker
	PubSub *pubsub.Broker
	Stream *stream.Broker

	pusher Pusher
	pool   *workerpool.Pool
	logger zerolog.Logger

	mu          sync.Mutex
	memberships map[uint64][]streamMembership
	holds       map[uint64][]queueHold
}

// New builds a Dispatcher wired to the given brokers. pool, if non-nil, fans
// out PUSH deliveries (PubSub publishes and retained replays to many
// subscribers) without blocking the request goroutine that triggered them; a
// nil pool delivers inline, which is what tests do.
func New(kvB *kv.Broker, queueB *queue.Broker, pubsubB *pubsub.Broker, streamB *stream.Broker, pusher Pusher, pool *workerpool.Pool, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		KV:          kvB,
		Queue:       queueB,
		PubSub:      pubsubB,
		Stream:      streamB,
		pusher:      pusher,
		pool:        pool,
		logger:      logger,
		memberships: make(map[uint64][]streamMembership),
		holds:       make(map[uint64][]queueHold),
	}
}

// Dispatch routes one REQUEST payload by opcode and returns the RESPONSE
// status and body. cancel aborts a blocking Queue consume early (the
// transport passes its connection-closed signal).
func (d *Dispatcher) Dispatch(connID uint64, opcode protocol.Opcode, payload []byte, cancel <-chan struct{}) (protocol.Status, []byte) {
	switch opcode {
	case protocol.OpDebugEcho:
		return protocol.StatusData, payload

	case protocol.OpKVSet:
		return d.kvSet(payload)
	case protocol.OpKVGet:
		return d.kvGet(payload)
	case protocol.OpKVDel:
		return d.kvDel(payload)

	case protocol.OpQueueCreate:
		return d.queueCreate(payload)
	case protocol.OpQueuePush:
		return d.queuePush(payload)
	case protocol.OpQueueConsume:
		return d.queueConsume(connID, payload, cancel)
	case protocol.OpQueueAck:
		return d.queueAck(connID, payload)
	case protocol.OpQueueNack:
		return d.queueNack(connID, payload)
	case protocol.OpQueuePeekDLQ:
		return d.queuePeekDLQ(payload)
	case protocol.OpQueueMoveToMain:
		return d.queueMoveToMain(payload)
	case protocol.OpQueueDeleteDLQ:
		return d.queueDeleteDLQ(payload)
	case protocol.OpQueuePurgeDLQ:
		return d.queuePurgeDLQ(payload)

	case protocol.OpPubSubPublish:
		return d.pubsubPublish(payload)
	case protocol.OpPubSubSubscribe:
		return d.pubsubSubscribe(connID, payload)
	case protocol.OpPubSubUnsubscribe:
		return d.pubsubUnsubscribe(connID, payload)

	case protocol.OpStreamCreate:
		return d.streamCreate(payload)
	case protocol.OpStreamPub:
		return d.streamPub(payload)
	case protocol.OpStreamJoin:
		return d.streamJoin(connID, payload)
	case protocol.OpStreamFetch:
		return d.streamFetch(connID, payload)
	case protocol.OpStreamAck:
		return d.streamAck(connID, payload)
	case protocol.OpStreamCommit:
		return d.streamCommit(payload)
	case protocol.OpStreamNack:
		return d.streamNack(connID, payload)
	case protocol.OpStreamSeek:
		return d.streamSeek(payload)

	default:
		return errStatus("unknown opcode")
	}
}

// HandleDisconnect unwinds every piece of state a connection held across the
// four brokers: pubsub subscriptions, stream group memberships, and
// in-flight queue holds (released back to Pending/DLQ via Nack).
func (d *Dispatcher) HandleDisconnect(connID uint64) {
	d.PubSub.RemoveConnection(pubsub.ConnID(connID))

	d.mu.Lock()
	memberships := d.memberships[connID]
	delete(d.memberships, connID)
	holds := d.holds[connID]
	delete(d.holds, connID)
	d.mu.Unlock()

	for _, m := range memberships {
		if err := d.Stream.Leave(m.topic, m.group, stream.ConnID(connID)); err != nil {
			d.logger.Debug().Err(err).Str("topic", m.topic).Str("group", m.group).Msg("stream leave on disconnect")
		}
	}
	for _, h := range holds {
		if err := d.Queue.Nack(h.queue, h.id, "connection closed"); err != nil {
			d.logger.Debug().Err(err).Str("queue", h.queue).Msg("queue nack on disconnect")
		}
	}
}

func (d *Dispatcher) recordMembership(connID uint64, topic, group string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, m := range d.memberships[connID] {
		if m.topic == topic && m.group == group {
			return
		}
	}
	d.memberships[connID] = append(d.memberships[connID], streamMembership{topic: topic, group: group})
}

func (d *Dispatcher) recordHold(connID uint64, queueName string, id uuid.UUID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.holds[connID] = append(d.holds[connID], queueHold{queue: queueName, id: id})
}

func (d *Dispatcher) clearHold(connID uint64, queueName string, id uuid.UUID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	holds := d.holds[connID]
	for i, h := range holds {
		if h.queue == queueName && h.id == id {
			d.holds[connID] = append(holds[:i:i], holds[i+1:]...)
			return
		}
	}
}

// push best-effort delivers a PUSH frame to connID via the transport's
// Pusher, silently dropping it if no pusher is wired (e.g. in tests). When a
// worker pool is wired the actual send is submitted to it so a publish with
// many subscribers doesn't serialize delivery in the request goroutine.
func (d *Dispatcher) push(connID uint64, kind protocol.PushKind, body []byte) {
	if d.pusher == nil {
		return
	}
	frame := protocol.EncodePush(0, kind, body)
	if d.pool == nil {
		d.pusher.Push(connID, frame)
		return
	}
	d.pool.Submit(func() { d.pusher.Push(connID, frame) })
}

func okStatus() (protocol.Status, []byte) { return protocol.StatusOK, nil }

func nullStatus() (protocol.Status, []byte) { return protocol.StatusNull, nil }

func dataStatus(body []byte) (protocol.Status, []byte) { return protocol.StatusData, body }

func errStatus(msg string) (protocol.Status, []byte) {
	return protocol.StatusErr, protocol.PutString(nil, msg)
}

// errFor maps a broker error to a RESPONSE error status, preserving
// well-known tokens (FENCED, REBALANCE) verbatim so clients can match on them.
func errFor(err error) (protocol.Status, []byte) {
	if errors.Is(err, stream.ErrFenced) {
		return errStatus("FENCED")
	}
	if errors.Is(err, stream.ErrRebalance) {
		return errStatus("REBALANCE")
	}
	return errStatus(err.Error())
}
