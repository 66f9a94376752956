package dispatch

import (
	"github.com/nexo-broker/nexo/internal/broker/pubsub"
	"github.com/nexo-broker/nexo/internal/metrics"
	"github.com/nexo-broker/nexo/internal/protocol"
)

// PubSub payloads, positional:
//
//	Publish:     topic:string | retain:u8 | value:any
//	Subscribe:   pattern:string
//	Unsubscribe: pattern:string
//
// Deliveries fan out as PUSH frames: topic:string | value:any.

func (d *Dispatcher) pubsubPublish(payload []byte) (protocol.Status, []byte) {
	topic, rest, err := protocol.GetString(payload)
	if err != nil {
		return errFor(err)
	}
	retain, rest, err := protocol.GetU8(rest)
	if err != nil {
		return errFor(err)
	}
	value, err := protocol.GetAny(rest)
	if err != nil {
		return errFor(err)
	}

	deliveries := d.PubSub.Publish(topic, value, retain != 0)
	metrics.PubSubMessagesPublished.Inc()
	d.fanOut(deliveries)
	return okStatus()
}

func (d *Dispatcher) pubsubSubscribe(connID uint64, payload []byte) (protocol.Status, []byte) {
	pattern, _, err := protocol.GetString(payload)
	if err != nil {
		return errFor(err)
	}
	deliveries := d.PubSub.Subscribe(pubsub.ConnID(connID), pattern)
	d.fanOut(deliveries)
	return okStatus()
}

func (d *Dispatcher) pubsubUnsubscribe(connID uint64, payload []byte) (protocol.Status, []byte) {
	pattern, _, err := protocol.GetString(payload)
	if err != nil {
		return errFor(err)
	}
	d.PubSub.Unsubscribe(pubsub.ConnID(connID), pattern)
	return okStatus()
}

func (d *Dispatcher) fanOut(deliveries []pubsub.Delivery) {
	if len(deliveries) > 0 {
		metrics.PubSubDeliveriesTotal.Add(float64(len(deliveries)))
	}
	for _, dv := range deliveries {
		body := protocol.PutString(nil, dv.Topic)
		body = protocol.PutAny(body, dv.Payload)
		d.push(uint64(dv.Conn), protocol.PushPubSub, body)
	}
}
