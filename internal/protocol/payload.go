package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

// DataType tags the payload carried by an Any value, per spec.md §3/§9: the "any"
// type is a tagged sum, never a dynamically-typed blob.
type DataType byte

const (
	DataRaw    DataType = 0x00
	DataString DataType = 0x01
	DataJSON   DataType = 0x02
)

func (d DataType) String() string {
	switch d {
	case DataRaw:
		return "RAW"
	case DataString:
		return "STRING"
	case DataJSON:
		return "JSON"
	default:
		return fmt.Sprintf("DataType(0x%02x)", byte(d))
	}
}

// Any is the tagged payload value used by KV values, queue/stream message bodies,
// and pubsub message bodies. Snapshot JSON rendering (C8) hex-encodes Raw, passes
// String through as UTF-8, and embeds Json verbatim — see spec.md §9.
type Any struct {
	Type DataType
	Data []byte
}

// RawAny, StringAny and JSONAny are convenience constructors.
func RawAny(b []byte) Any        { return Any{Type: DataRaw, Data: b} }
func StringAny(s string) Any     { return Any{Type: DataString, Data: []byte(s)} }
func JSONAny(b []byte) Any       { return Any{Type: DataJSON, Data: b} }
func (a Any) AsString() string   { return string(a.Data) }
func (a Any) IsEmpty() bool      { return len(a.Data) == 0 }

// --- Encoders. Each appends its wire representation to buf and returns the result. ---

func PutU8(buf []byte, v byte) []byte {
	return append(buf, v)
}

func PutU32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

func PutU64(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
}

func PutUUID(buf []byte, id uuid.UUID) []byte {
	return append(buf, id[:]...)
}

func PutString(buf []byte, s string) []byte {
	buf = PutU32(buf, uint32(len(s)))
	return append(buf, s...)
}

// PutAny writes a u8 type tag followed by the raw data. Per spec.md §4.1, "any" must
// be positionally last in a payload — decoding reads the remaining buffer tail.
func PutAny(buf []byte, a Any) []byte {
	buf = PutU8(buf, byte(a.Type))
	return append(buf, a.Data...)
}

// PutAnyLP writes a u32 BE length prefix followed by PutAny's tag+data. Use this
// for an "any" that is not positionally last — e.g. one element of a repeated
// batch — since GetAny otherwise has no way to know where it ends.
func PutAnyLP(buf []byte, a Any) []byte {
	buf = PutU32(buf, uint32(len(a.Data)+1))
	return PutAny(buf, a)
}

// --- Decoders. Each takes the remaining buffer and returns the value plus the
// unconsumed remainder. All return ErrBadFrame if buf is too short. ---

func GetU8(buf []byte) (byte, []byte, error) {
	if len(buf) < 1 {
		return 0, nil, fmt.Errorf("%w: need 1 byte for u8, have %d", ErrBadFrame, len(buf))
	}
	return buf[0], buf[1:], nil
}

func GetU32(buf []byte) (uint32, []byte, error) {
	if len(buf) < 4 {
		return 0, nil, fmt.Errorf("%w: need 4 bytes for u32, have %d", ErrBadFrame, len(buf))
	}
	return binary.BigEndian.Uint32(buf[:4]), buf[4:], nil
}

func GetU64(buf []byte) (uint64, []byte, error) {
	if len(buf) < 8 {
		return 0, nil, fmt.Errorf("%w: need 8 bytes for u64, have %d", ErrBadFrame, len(buf))
	}
	return binary.BigEndian.Uint64(buf[:8]), buf[8:], nil
}

func GetUUID(buf []byte) (uuid.UUID, []byte, error) {
	if len(buf) < 16 {
		return uuid.UUID{}, nil, fmt.Errorf("%w: need 16 bytes for uuid, have %d", ErrBadFrame, len(buf))
	}
	var id uuid.UUID
	copy(id[:], buf[:16])
	return id, buf[16:], nil
}

// GetString reads a u32 BE length prefix followed by that many bytes of UTF-8.
// Per spec.md §4.1, a declared length exceeding the remaining buffer is BadFrame.
func GetString(buf []byte) (string, []byte, error) {
	n, rest, err := GetU32(buf)
	if err != nil {
		return "", nil, err
	}
	if uint64(n) > uint64(len(rest)) {
		return "", nil, fmt.Errorf("%w: string length %d exceeds remaining buffer %d", ErrBadFrame, n, len(rest))
	}
	return string(rest[:n]), rest[n:], nil
}

// GetAny reads a u8 type tag and treats the rest of buf as the value's data. It is
// only valid when the Any is the last positional field in the payload.
func GetAny(buf []byte) (Any, error) {
	tag, rest, err := GetU8(buf)
	if err != nil {
		return Any{}, err
	}
	switch DataType(tag) {
	case DataRaw, DataString, DataJSON:
	default:
		return Any{}, fmt.Errorf("%w: unknown data type tag 0x%02x", ErrBadFrame, tag)
	}
	data := make([]byte, len(rest))
	copy(data, rest)
	return Any{Type: DataType(tag), Data: data}, nil
}

// GetAnyLP reads a u32 BE length prefix, slices exactly that many bytes, and
// parses an Any (tag+data) from that slice. Pairs with PutAnyLP.
func GetAnyLP(buf []byte) (Any, []byte, error) {
	n, rest, err := GetU32(buf)
	if err != nil {
		return Any{}, nil, err
	}
	if uint64(n) > uint64(len(rest)) {
		return Any{}, nil, fmt.Errorf("%w: any length %d exceeds remaining buffer %d", ErrBadFrame, n, len(rest))
	}
	if n < 1 {
		return Any{}, nil, fmt.Errorf("%w: any length %d too short for type tag", ErrBadFrame, n)
	}
	chunk := rest[:n]
	a, err := GetAny(chunk)
	if err != nil {
		return Any{}, nil, err
	}
	return a, rest[n:], nil
}
