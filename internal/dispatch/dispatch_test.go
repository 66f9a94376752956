package dispatch

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/nexo-broker/nexo/internal/broker/kv"
	"github.com/nexo-broker/nexo/internal/broker/pubsub"
	"github.com/nexo-broker/nexo/internal/broker/queue"
	"github.com/nexo-broker/nexo/internal/broker/stream"
	"github.com/nexo-broker/nexo/internal/protocol"
)

type recordingPusher struct {
	pushes []push
}

type push struct {
	conn  uint64
	frame []byte
}

func (p *recordingPusher) Push(conn uint64, frame []byte) {
	p.pushes = append(p.pushes, push{conn: conn, frame: frame})
}

func newTestDispatcher() (*Dispatcher, *recordingPusher) {
	pusher := &recordingPusher{}
	d := New(kv.New(), queue.New(), pubsub.New(), stream.New(), pusher, nil, zerolog.Nop())
	return d, pusher
}

func TestKVSetGetDelRoundtrip(t *testing.T) {
	d, _ := newTestDispatcher()

	setPayload := protocol.PutString(nil, "k")
	setPayload = protocol.PutU32(setPayload, 0)
	setPayload = protocol.PutAny(setPayload, protocol.StringAny("v"))
	status, _ := d.Dispatch(1, protocol.OpKVSet, setPayload, nil)
	require.Equal(t, protocol.StatusOK, status)

	getPayload := protocol.PutString(nil, "k")
	status, body := d.Dispatch(1, protocol.OpKVGet, getPayload, nil)
	require.Equal(t, protocol.StatusData, status)
	value, err := protocol.GetAny(body)
	require.NoError(t, err)
	require.Equal(t, "v", value.AsString())

	status, _ = d.Dispatch(1, protocol.OpKVDel, getPayload, nil)
	require.Equal(t, protocol.StatusOK, status)

	status, _ = d.Dispatch(1, protocol.OpKVGet, getPayload, nil)
	require.Equal(t, protocol.StatusNull, status)
}

func TestQueuePushConsumeAckCyclesHolds(t *testing.T) {
	d, _ := newTestDispatcher()

	createPayload := protocol.PutString(nil, "q")
	createPayload = protocol.PutU64(createPayload, 5000)
	createPayload = protocol.PutU32(createPayload, 3)
	createPayload = protocol.PutU64(createPayload, 0)
	createPayload = protocol.PutU64(createPayload, 0)
	createPayload = protocol.PutU8(createPayload, 0)
	status, _ := d.Dispatch(1, protocol.OpQueueCreate, createPayload, nil)
	require.Equal(t, protocol.StatusOK, status)

	pushPayload := protocol.PutString(nil, "q")
	pushPayload = protocol.PutU8(pushPayload, 5)
	pushPayload = protocol.PutU64(pushPayload, 0)
	pushPayload = protocol.PutAny(pushPayload, protocol.StringAny("job"))
	status, body := d.Dispatch(1, protocol.OpQueuePush, pushPayload, nil)
	require.Equal(t, protocol.StatusData, status)
	id, _, err := protocol.GetUUID(body)
	require.NoError(t, err)

	consumePayload := protocol.PutString(nil, "q")
	consumePayload = protocol.PutU32(consumePayload, 1)
	consumePayload = protocol.PutU64(consumePayload, 0)
	status, body = d.Dispatch(7, protocol.OpQueueConsume, consumePayload, nil)
	require.Equal(t, protocol.StatusData, status)
	count, rest, err := protocol.GetU32(body)
	require.NoError(t, err)
	require.Equal(t, uint32(1), count)
	gotID, rest, err := protocol.GetUUID(rest)
	require.NoError(t, err)
	require.Equal(t, id, gotID)

	require.Len(t, d.holds[7], 1)

	ackPayload := protocol.PutString(nil, "q")
	ackPayload = protocol.PutUUID(ackPayload, id)
	status, _ = d.Dispatch(7, protocol.OpQueueAck, ackPayload, nil)
	require.Equal(t, protocol.StatusOK, status)
	require.Empty(t, d.holds[7])
}

func TestPubSubSubscribeReceivesRetainedAsPush(t *testing.T) {
	d, pusher := newTestDispatcher()

	pubPayload := protocol.PutString(nil, "room/1")
	pubPayload = protocol.PutU8(pubPayload, 1)
	pubPayload = protocol.PutAny(pubPayload, protocol.StringAny("hello"))
	status, _ := d.Dispatch(1, protocol.OpPubSubPublish, pubPayload, nil)
	require.Equal(t, protocol.StatusOK, status)

	subPayload := protocol.PutString(nil, "room/+")
	status, _ = d.Dispatch(2, protocol.OpPubSubSubscribe, subPayload, nil)
	require.Equal(t, protocol.StatusOK, status)

	require.Len(t, pusher.pushes, 1)
	require.Equal(t, uint64(2), pusher.pushes[0].conn)
}

func TestStreamFenceRoundtripsAsWellKnownErrorToken(t *testing.T) {
	d, _ := newTestDispatcher()

	createPayload := protocol.PutString(nil, "t")
	createPayload = protocol.PutU32(createPayload, 1)
	createPayload = protocol.PutU64(createPayload, 0)
	createPayload = protocol.PutU64(createPayload, 0)
	createPayload = protocol.PutU8(createPayload, 0)
	status, _ := d.Dispatch(1, protocol.OpStreamCreate, createPayload, nil)
	require.Equal(t, protocol.StatusOK, status)

	joinPayload := protocol.PutString(nil, "t")
	joinPayload = protocol.PutString(joinPayload, "g")
	status, body := d.Dispatch(1, protocol.OpStreamJoin, joinPayload, nil)
	require.Equal(t, protocol.StatusData, status)
	gen, _, err := protocol.GetU64(body)
	require.NoError(t, err)

	commitPayload := protocol.PutString(nil, "t")
	commitPayload = protocol.PutString(commitPayload, "g")
	commitPayload = protocol.PutU64(commitPayload, gen+1)
	commitPayload = protocol.PutU32(commitPayload, 0)
	commitPayload = protocol.PutU64(commitPayload, 1)
	status, body = d.Dispatch(1, protocol.OpStreamCommit, commitPayload, nil)
	require.Equal(t, protocol.StatusErr, status)
	msg, _, err := protocol.GetString(body)
	require.NoError(t, err)
	require.Equal(t, "FENCED", msg)
}

func TestHandleDisconnectReleasesHoldsAndMemberships(t *testing.T) {
	d, _ := newTestDispatcher()
	require.NoError(t, d.Queue.Create("q", queue.Config{MaxRetries: 3}))
	id, err := d.Queue.Push("q", protocol.StringAny("x"), 0, 0)
	require.NoError(t, err)
	_, err = d.Queue.Consume("q", 1, 0, nil)
	require.NoError(t, err)
	d.recordHold(9, "q", id)

	require.NoError(t, d.Stream.Create("t", 1, stream.Retention{}, false))
	_, err = d.Stream.Join("t", "g", stream.ConnID(9))
	require.NoError(t, err)
	d.recordMembership(9, "t", "g")

	d.HandleDisconnect(9)

	require.Empty(t, d.holds[9])
	require.Empty(t, d.memberships[9])
}
