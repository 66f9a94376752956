package dispatch

import (
	"time"

	"github.com/nexo-broker/nexo/internal/broker/stream"
	"github.com/nexo-broker/nexo/internal/metrics"
	"github.com/nexo-broker/nexo/internal/protocol"
)

// Stream payloads, positional:
//
//	Create: name:string | partitions:u32 | max_age_ms:u64 | max_bytes:u64 | passive:u8
//	Pub:    name:string | routing_key:string | value:any
//	Join:   name:string | group:string
//	Fetch:  name:string | group:string | generation:u64 | batch_size:u32
//	Ack:    name:string | group:string | generation:u64 | partition:u32 | seq:u64
//	Commit: name:string | group:string | generation:u64 | partition:u32 | next_offset:u64
//	Nack:   name:string | group:string | generation:u64 | partition:u32
//	Seek:   name:string | group:string | target:string
//
// Fetch response: result_count:u32 | (partition:u32 | rec_count:u32 | (seq:u64 | payload_any-LP)*)*

func (d *Dispatcher) streamCreate(payload []byte) (protocol.Status, []byte) {
	name, rest, err := protocol.GetString(payload)
	if err != nil {
		return errFor(err)
	}
	partitions, rest, err := protocol.GetU32(rest)
	if err != nil {
		return errFor(err)
	}
	maxAgeMs, rest, err := protocol.GetU64(rest)
	if err != nil {
		return errFor(err)
	}
	maxBytes, rest, err := protocol.GetU64(rest)
	if err != nil {
		return errFor(err)
	}
	passive, _, err := protocol.GetU8(rest)
	if err != nil {
		return errFor(err)
	}

	retention := stream.Retention{
		MaxAge:   time.Duration(maxAgeMs) * time.Millisecond,
		MaxBytes: int64(maxBytes),
	}
	if err := d.Stream.Create(name, partitions, retention, passive != 0); err != nil {
		return errFor(err)
	}
	return okStatus()
}

func (d *Dispatcher) streamPub(payload []byte) (protocol.Status, []byte) {
	name, rest, err := protocol.GetString(payload)
	if err != nil {
		return errFor(err)
	}
	routingKey, rest, err := protocol.GetString(rest)
	if err != nil {
		return errFor(err)
	}
	value, err := protocol.GetAny(rest)
	if err != nil {
		return errFor(err)
	}

	partitionID, seq, err := d.Stream.Publish(name, value, routingKey)
	if err != nil {
		return errFor(err)
	}
	metrics.StreamRecordsAppended.WithLabelValues(name).Inc()
	body := protocol.PutU32(nil, partitionID)
	body = protocol.PutU64(body, seq)
	return dataStatus(body)
}

func (d *Dispatcher) streamJoin(connID uint64, payload []byte) (protocol.Status, []byte) {
	name, rest, err := protocol.GetString(payload)
	if err != nil {
		return errFor(err)
	}
	group, _, err := protocol.GetString(rest)
	if err != nil {
		return errFor(err)
	}

	generation, err := d.Stream.Join(name, group, stream.ConnID(connID))
	if err != nil {
		return errFor(err)
	}
	d.recordMembership(connID, name, group)
	return dataStatus(protocol.PutU64(nil, generation))
}

func (d *Dispatcher) streamFetch(connID uint64, payload []byte) (protocol.Status, []byte) {
	name, rest, err := protocol.GetString(payload)
	if err != nil {
		return errFor(err)
	}
	group, rest, err := protocol.GetString(rest)
	if err != nil {
		return errFor(err)
	}
	generation, rest, err := protocol.GetU64(rest)
	if err != nil {
		return errFor(err)
	}
	batchSize, _, err := protocol.GetU32(rest)
	if err != nil {
		return errFor(err)
	}

	results, err := d.Stream.Fetch(name, group, stream.ConnID(connID), generation, int(batchSize))
	if err != nil {
		return errFor(err)
	}

	body := protocol.PutU32(nil, uint32(len(results)))
	for _, r := range results {
		body = protocol.PutU32(body, r.Partition)
		body = protocol.PutU32(body, uint32(len(r.Records)))
		for _, rec := range r.Records {
			body = protocol.PutU64(body, rec.Seq)
			body = protocol.PutAnyLP(body, rec.Payload)
		}
	}
	return dataStatus(body)
}

func (d *Dispatcher) streamAck(connID uint64, payload []byte) (protocol.Status, []byte) {
	name, rest, err := protocol.GetString(payload)
	if err != nil {
		return errFor(err)
	}
	group, rest, err := protocol.GetString(rest)
	if err != nil {
		return errFor(err)
	}
	generation, rest, err := protocol.GetU64(rest)
	if err != nil {
		return errFor(err)
	}
	partitionID, rest, err := protocol.GetU32(rest)
	if err != nil {
		return errFor(err)
	}
	seq, _, err := protocol.GetU64(rest)
	if err != nil {
		return errFor(err)
	}

	if err := d.Stream.Ack(name, group, stream.ConnID(connID), generation, partitionID, seq); err != nil {
		return errFor(err)
	}
	return okStatus()
}

func (d *Dispatcher) streamCommit(payload []byte) (protocol.Status, []byte) {
	name, rest, err := protocol.GetString(payload)
	if err != nil {
		return errFor(err)
	}
	group, rest, err := protocol.GetString(rest)
	if err != nil {
		return errFor(err)
	}
	generation, rest, err := protocol.GetU64(rest)
	if err != nil {
		return errFor(err)
	}
	partitionID, rest, err := protocol.GetU32(rest)
	if err != nil {
		return errFor(err)
	}
	nextOffset, _, err := protocol.GetU64(rest)
	if err != nil {
		return errFor(err)
	}

	if err := d.Stream.Commit(name, group, generation, partitionID, nextOffset); err != nil {
		return errFor(err)
	}
	return okStatus()
}

func (d *Dispatcher) streamNack(connID uint64, payload []byte) (protocol.Status, []byte) {
	name, rest, err := protocol.GetString(payload)
	if err != nil {
		return errFor(err)
	}
	group, rest, err := protocol.GetString(rest)
	if err != nil {
		return errFor(err)
	}
	generation, rest, err := protocol.GetU64(rest)
	if err != nil {
		return errFor(err)
	}
	partitionID, _, err := protocol.GetU32(rest)
	if err != nil {
		return errFor(err)
	}

	if err := d.Stream.Nack(name, group, stream.ConnID(connID), generation, partitionID); err != nil {
		return errFor(err)
	}
	return okStatus()
}

func (d *Dispatcher) streamSeek(payload []byte) (protocol.Status, []byte) {
	name, rest, err := protocol.GetString(payload)
	if err != nil {
		return errFor(err)
	}
	group, rest, err := protocol.GetString(rest)
	if err != nil {
		return errFor(err)
	}
	target, _, err := protocol.GetString(rest)
	if err != nil {
		return errFor(err)
	}

	if err := d.Stream.Seek(name, group, target); err != nil {
		return errFor(err)
	}
	return okStatus()
}
