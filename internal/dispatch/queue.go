package dispatch

import (
	"time"

	"github.com/nexo-broker/nexo/internal/broker/queue"
	"github.com/nexo-broker/nexo/internal/protocol"
)

// Queue payloads, positional:
//
//	Create:      name:string | visibility_timeout_ms:u64 | max_retries:u32 | ttl_ms:u64 | default_delay_ms:u64 | passive:u8
//	Push:        name:string | priority:u8 | delay_ms:u64 | value:any
//	Consume:     name:string | batch_size:u32 | wait_ms:u64
//	Ack:         name:string | id:uuid
//	Nack:        name:string | id:uuid | reason:string
//	PeekDLQ:     name:string | limit:u32 | offset:u32
//	MoveToMain:  name:string | id:uuid
//	DeleteDLQ:   name:string | id:uuid
//	PurgeDLQ:    name:string
//
// Repeated-element responses length-prefix each embedded "any" with
// PutAnyLP/GetAnyLP since it is not positionally last within the batch.

func (d *Dispatcher) queueCreate(payload []byte) (protocol.Status, []byte) {
	name, rest, err := protocol.GetString(payload)
	if err != nil {
		return errFor(err)
	}
	visMs, rest, err := protocol.GetU64(rest)
	if err != nil {
		return errFor(err)
	}
	maxRetries, rest, err := protocol.GetU32(rest)
	if err != nil {
		return errFor(err)
	}
	ttlMs, rest, err := protocol.GetU64(rest)
	if err != nil {
		return errFor(err)
	}
	delayMs, rest, err := protocol.GetU64(rest)
	if err != nil {
		return errFor(err)
	}
	passive, _, err := protocol.GetU8(rest)
	if err != nil {
		return errFor(err)
	}

	cfg := queue.Config{
		VisibilityTimeout: time.Duration(visMs) * time.Millisecond,
		MaxRetries:        maxRetries,
		TTL:               time.Duration(ttlMs) * time.Millisecond,
		DefaultDelay:      time.Duration(delayMs) * time.Millisecond,
		Passive:           passive != 0,
	}
	if err := d.Queue.Create(name, cfg); err != nil {
		return errFor(err)
	}
	return okStatus()
}

func (d *Dispatcher) queuePush(payload []byte) (protocol.Status, []byte) {
	name, rest, err := protocol.GetString(payload)
	if err != nil {
		return errFor(err)
	}
	priority, rest, err := protocol.GetU8(rest)
	if err != nil {
		return errFor(err)
	}
	delayMs, rest, err := protocol.GetU64(rest)
	if err != nil {
		return errFor(err)
	}
	value, err := protocol.GetAny(rest)
	if err != nil {
		return errFor(err)
	}

	id, err := d.Queue.Push(name, value, priority, time.Duration(delayMs)*time.Millisecond)
	if err != nil {
		return errFor(err)
	}
	return dataStatus(protocol.PutUUID(nil, id))
}

func (d *Dispatcher) queueConsume(connID uint64, payload []byte, cancel <-chan struct{}) (protocol.Status, []byte) {
	name, rest, err := protocol.GetString(payload)
	if err != nil {
		return errFor(err)
	}
	batchSize, rest, err := protocol.GetU32(rest)
	if err != nil {
		return errFor(err)
	}
	waitMs, _, err := protocol.GetU64(rest)
	if err != nil {
		return errFor(err)
	}

	msgs, err := d.Queue.Consume(name, int(batchSize), time.Duration(waitMs)*time.Millisecond, cancel)
	if err != nil {
		return errFor(err)
	}

	body := protocol.PutU32(nil, uint32(len(msgs)))
	for _, m := range msgs {
		d.recordHold(connID, name, m.ID)
		body = protocol.PutUUID(body, m.ID)
		body = protocol.PutU32(body, m.Attempts)
		body = protocol.PutAnyLP(body, m.Payload)
	}
	return dataStatus(body)
}

func (d *Dispatcher) queueAck(connID uint64, payload []byte) (protocol.Status, []byte) {
	name, rest, err := protocol.GetString(payload)
	if err != nil {
		return errFor(err)
	}
	id, _, err := protocol.GetUUID(rest)
	if err != nil {
		return errFor(err)
	}
	if err := d.Queue.Ack(name, id); err != nil {
		return errFor(err)
	}
	d.clearHold(connID, name, id)
	return okStatus()
}

func (d *Dispatcher) queueNack(connID uint64, payload []byte) (protocol.Status, []byte) {
	name, rest, err := protocol.GetString(payload)
	if err != nil {
		return errFor(err)
	}
	id, rest, err := protocol.GetUUID(rest)
	if err != nil {
		return errFor(err)
	}
	reason, _, err := protocol.GetString(rest)
	if err != nil {
		return errFor(err)
	}
	if err := d.Queue.Nack(name, id, reason); err != nil {
		return errFor(err)
	}
	d.clearHold(connID, name, id)
	return okStatus()
}

func (d *Dispatcher) queuePeekDLQ(payload []byte) (protocol.Status, []byte) {
	name, rest, err := protocol.GetString(payload)
	if err != nil {
		return errFor(err)
	}
	limit, rest, err := protocol.GetU32(rest)
	if err != nil {
		return errFor(err)
	}
	offset, _, err := protocol.GetU32(rest)
	if err != nil {
		return errFor(err)
	}

	entries, err := d.Queue.PeekDLQ(name, int(limit), int(offset))
	if err != nil {
		return errFor(err)
	}

	body := protocol.PutU32(nil, uint32(len(entries)))
	for _, e := range entries {
		body = protocol.PutUUID(body, e.MessageID)
		body = protocol.PutU32(body, e.Attempts)
		body = protocol.PutString(body, e.FailureReason)
		body = protocol.PutAnyLP(body, e.Payload)
	}
	return dataStatus(body)
}

func (d *Dispatcher) queueMoveToMain(payload []byte) (protocol.Status, []byte) {
	name, rest, err := protocol.GetString(payload)
	if err != nil {
		return errFor(err)
	}
	id, _, err := protocol.GetUUID(rest)
	if err != nil {
		return errFor(err)
	}
	moved, err := d.Queue.MoveToMain(name, id)
	if err != nil {
		return errFor(err)
	}
	return dataStatus(protocol.PutU8(nil, boolByte(moved)))
}

func (d *Dispatcher) queueDeleteDLQ(payload []byte) (protocol.Status, []byte) {
	name, rest, err := protocol.GetString(payload)
	if err != nil {
		return errFor(err)
	}
	id, _, err := protocol.GetUUID(rest)
	if err != nil {
		return errFor(err)
	}
	deleted, err := d.Queue.DeleteDLQ(name, id)
	if err != nil {
		return errFor(err)
	}
	return dataStatus(protocol.PutU8(nil, boolByte(deleted)))
}

func (d *Dispatcher) queuePurgeDLQ(payload []byte) (protocol.Status, []byte) {
	name, _, err := protocol.GetString(payload)
	if err != nil {
		return errFor(err)
	}
	n, err := d.Queue.PurgeDLQ(name)
	if err != nil {
		return errFor(err)
	}
	return dataStatus(protocol.PutU32(nil, uint32(n)))
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
