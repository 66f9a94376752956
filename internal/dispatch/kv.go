package dispatch

import (
	"time"

	"github.com/nexo-broker/nexo/internal/protocol"
)

// KV payloads are positional: key:string | ttl_seconds:u32 | value:any (Set);
// key:string (Get, Del). Value is positionally last so it uses the plain
// tag+tail Any encoding.

func (d *Dispatcher) kvSet(payload []byte) (protocol.Status, []byte) {
	key, rest, err := protocol.GetString(payload)
	if err != nil {
		return errFor(err)
	}
	ttlSeconds, rest, err := protocol.GetU32(rest)
	if err != nil {
		return errFor(err)
	}
	value, err := protocol.GetAny(rest)
	if err != nil {
		return errFor(err)
	}
	d.KV.Set(key, value, time.Duration(ttlSeconds)*time.Second)
	return okStatus()
}

func (d *Dispatcher) kvGet(payload []byte) (protocol.Status, []byte) {
	key, _, err := protocol.GetString(payload)
	if err != nil {
		return errFor(err)
	}
	value, ok := d.KV.Get(key)
	if !ok {
		return nullStatus()
	}
	return dataStatus(protocol.PutAny(nil, value))
}

func (d *Dispatcher) kvDel(payload []byte) (protocol.Status, []byte) {
	key, _, err := protocol.GetString(payload)
	if err != nil {
		return errFor(err)
	}
	d.KV.Del(key)
	return okStatus()
}
