// Package protocol implements Nexo's binary wire frame: encoding and decoding of
// REQUEST/RESPONSE/PUSH frames and their positionally-encoded payloads.
//
// Frame layout (Variant A, the 10-byte header — see SPEC_FULL.md §C "Frame header variant"):
//
//	type:1 | opcode_or_status_or_pushkind:1 | id:4 BE | payload_len:4 BE | payload:payload_len
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// FrameType is the first header byte: it tells the multiplexer which of the three
// frame kinds follows.
type FrameType byte

const (
	FrameRequest  FrameType = 0x01
	FrameResponse FrameType = 0x02
	FramePush     FrameType = 0x03
)

func (t FrameType) String() string {
	switch t {
	case FrameRequest:
		return "REQUEST"
	case FrameResponse:
		return "RESPONSE"
	case FramePush:
		return "PUSH"
	default:
		return fmt.Sprintf("FrameType(0x%02x)", byte(t))
	}
}

// Status is the second header byte of a RESPONSE frame.
type Status byte

const (
	StatusOK   Status = 0x00
	StatusErr  Status = 0x01
	StatusNull Status = 0x02
	StatusData Status = 0x03
)

// PushKind is the second header byte of a PUSH frame.
type PushKind byte

const (
	PushPubSub PushKind = 0x01
)

// HeaderLen is the fixed size of every frame header under Variant A.
const HeaderLen = 10

// MaxPayloadLen guards against a corrupt/hostile length prefix requesting an
// unreasonable allocation; the wire format does not bound payload size itself.
const MaxPayloadLen = 64 << 20 // 64MiB

// ErrBadFrame is returned for any malformed frame. Per spec.md §7 the connection
// multiplexer closes the connection on this error; it is never surfaced to the
// application as a response.
var ErrBadFrame = errors.New("protocol: bad frame")

// ErrNeedMore indicates the buffer does not yet hold a complete frame. The caller
// must read more bytes and retry; no bytes are consumed on this result.
var ErrNeedMore = errors.New("protocol: need more data")

// Frame is a fully decoded wire frame. Tag carries the opcode, status, or push kind
// depending on Type; callers switch on Type to interpret it.
type Frame struct {
	Type    FrameType
	Tag     byte
	ID      uint32
	Payload []byte
}

// EncodeRequest builds a REQUEST frame with the given positionally-encoded payload.
func EncodeRequest(id uint32, opcode byte, payload []byte) []byte {
	return encode(FrameRequest, opcode, id, payload)
}

// EncodeResponse builds a RESPONSE frame.
func EncodeResponse(id uint32, status Status, body []byte) []byte {
	return encode(FrameResponse, byte(status), id, body)
}

// EncodePush builds a PUSH frame. Callers conventionally pass id=0 since pushes are
// unsolicited and never looked up in the pending-request table.
func EncodePush(id uint32, kind PushKind, body []byte) []byte {
	return encode(FramePush, byte(kind), id, body)
}

func encode(t FrameType, tag byte, id uint32, payload []byte) []byte {
	buf := make([]byte, HeaderLen+len(payload))
	buf[0] = byte(t)
	buf[1] = tag
	binary.BigEndian.PutUint32(buf[2:6], id)
	binary.BigEndian.PutUint32(buf[6:10], uint32(len(payload)))
	copy(buf[HeaderLen:], payload)
	return buf
}

// DecodeFrame attempts to decode a single frame from the head of buf. On success it
// returns the frame and the number of bytes consumed. If buf does not yet contain a
// full frame, it returns ErrNeedMore and consumed=0 without touching buf. Malformed
// headers (unknown type, or a declared length that cannot belong to any real frame)
// return ErrBadFrame.
func DecodeFrame(buf []byte) (frame Frame, consumed int, err error) {
	if len(buf) < HeaderLen {
		return Frame{}, 0, ErrNeedMore
	}

	t := FrameType(buf[0])
	switch t {
	case FrameRequest, FrameResponse, FramePush:
	default:
		return Frame{}, 0, fmt.Errorf("%w: unknown frame type 0x%02x", ErrBadFrame, buf[0])
	}

	tag := buf[1]
	id := binary.BigEndian.Uint32(buf[2:6])
	payloadLen := binary.BigEndian.Uint32(buf[6:10])

	if payloadLen > MaxPayloadLen {
		return Frame{}, 0, fmt.Errorf("%w: payload_len %d exceeds maximum %d", ErrBadFrame, payloadLen, MaxPayloadLen)
	}

	total := HeaderLen + int(payloadLen)
	if len(buf) < total {
		return Frame{}, 0, ErrNeedMore
	}

	payload := make([]byte, payloadLen)
	copy(payload, buf[HeaderLen:total])

	return Frame{Type: t, Tag: tag, ID: id, Payload: payload}, total, nil
}

// NextID returns id+1, wrapping from the maximum uint32 back to 1 (never to 0, which
// is reserved for unsolicited pushes) — spec.md §3 "IDs are 32-bit unsigned, monotonic
// per connection, wrap skipping 0".
func NextID(id uint32) uint32 {
	if id == 0xFFFFFFFF {
		return 1
	}
	return id + 1
}
