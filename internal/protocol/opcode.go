package protocol

// Opcode occupies one of four disjoint ranges so the dispatcher can route without
// the brokers knowing about each other — spec.md §4.3.
type Opcode byte

const (
	OpDebugEcho Opcode = 0x00

	// KV: 0x02-0x05
	OpKVSet Opcode = 0x02
	OpKVGet Opcode = 0x03
	OpKVDel Opcode = 0x04

	// Queue: 0x10-0x1F
	OpQueuePush       Opcode = 0x10
	OpQueueConsume    Opcode = 0x11
	OpQueueAck        Opcode = 0x12
	OpQueueNack       Opcode = 0x13
	OpQueuePeekDLQ    Opcode = 0x14
	OpQueueMoveToMain Opcode = 0x15
	OpQueueDeleteDLQ  Opcode = 0x16
	OpQueuePurgeDLQ   Opcode = 0x17
	OpQueueCreate     Opcode = 0x18

	// PubSub: 0x20-0x2F
	OpPubSubPublish     Opcode = 0x20
	OpPubSubSubscribe   Opcode = 0x21
	OpPubSubUnsubscribe Opcode = 0x22

	// Stream: 0x30-0x3F
	OpStreamCreate Opcode = 0x30
	OpStreamPub    Opcode = 0x31
	OpStreamJoin   Opcode = 0x32
	OpStreamFetch  Opcode = 0x33
	OpStreamAck    Opcode = 0x34
	OpStreamCommit Opcode = 0x35
	OpStreamNack   Opcode = 0x36
	OpStreamSeek   Opcode = 0x37
)
