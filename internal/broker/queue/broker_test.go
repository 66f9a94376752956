package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nexo-broker/nexo/internal/protocol"
)

func newTestBroker(t *testing.T) *Broker {
	t.Helper()
	b := New()
	require.NoError(t, b.Create("q", Config{VisibilityTimeout: 100 * time.Millisecond, MaxRetries: 1}))
	return b
}

func TestPriorityThenFIFOOrdering(t *testing.T) {
	b := newTestBroker(t)

	_, err := b.Push("q", protocol.StringAny("low"), 0, 0)
	require.NoError(t, err)
	_, err = b.Push("q", protocol.StringAny("high"), 10, 0)
	require.NoError(t, err)

	msgs, err := b.Consume("q", 1, 0, nil)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, "high", msgs[0].Payload.AsString())

	msgs, err = b.Consume("q", 1, 0, nil)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, "low", msgs[0].Payload.AsString())
}

func TestPushWithoutDelayWakesParkedConsumer(t *testing.T) {
	b := newTestBroker(t)

	done := make(chan []Message, 1)
	go func() {
		msgs, _ := b.Consume("q", 1, time.Second, nil)
		done <- msgs
	}()

	time.Sleep(20 * time.Millisecond) // let the consumer park
	_, err := b.Push("q", protocol.StringAny("hello"), 0, 0)
	require.NoError(t, err)

	select {
	case msgs := <-done:
		require.Len(t, msgs, 1)
		require.Equal(t, "hello", msgs[0].Payload.AsString())
	case <-time.After(time.Second):
		t.Fatal("consumer was never served")
	}
}

func TestAckRemovesInFlightAndIsIdempotent(t *testing.T) {
	b := newTestBroker(t)
	id, err := b.Push("q", protocol.StringAny("x"), 0, 0)
	require.NoError(t, err)

	msgs, _ := b.Consume("q", 1, 0, nil)
	require.Len(t, msgs, 1)
	require.Equal(t, id, msgs[0].ID)

	require.NoError(t, b.Ack("q", id))
	require.NoError(t, b.Ack("q", id)) // idempotent
}

func TestNackBelowMaxRetriesReturnsToPending(t *testing.T) {
	b := newTestBroker(t) // MaxRetries: 1
	id, _ := b.Push("q", protocol.StringAny("x"), 0, 0)
	b.Consume("q", 1, 0, nil)

	require.NoError(t, b.Nack("q", id, "handler threw"))

	msgs, _ := b.Consume("q", 1, 0, nil)
	require.Len(t, msgs, 1)
	require.Equal(t, uint32(2), msgs[0].Attempts)
}

func TestDLQRoutingAfterMaxRetriesExceeded(t *testing.T) {
	b := New()
	require.NoError(t, b.Create("q", Config{VisibilityTimeout: 100 * time.Millisecond, MaxRetries: 1}))
	id, _ := b.Push("q", protocol.StringAny("p"), 0, 0)

	b.Consume("q", 1, 0, nil)
	require.NoError(t, b.Nack("q", id, "first failure")) // attempts=1, retries=1 -> back to pending

	b.Consume("q", 1, 0, nil)
	require.NoError(t, b.Nack("q", id, "second failure")) // attempts=2 >= max_retries+1=2 -> dead

	dlq, err := b.PeekDLQ("q", 10, 0)
	require.NoError(t, err)
	require.Len(t, dlq, 1)
	require.Equal(t, "p", dlq[0].Payload.AsString())
	require.Equal(t, uint32(2), dlq[0].Attempts)
	require.Equal(t, "second failure", dlq[0].FailureReason)
}

func TestDLQReplayIsIdempotent(t *testing.T) {
	b := New()
	require.NoError(t, b.Create("q", Config{VisibilityTimeout: time.Millisecond, MaxRetries: 0}))
	id, _ := b.Push("q", protocol.StringAny("p"), 0, 0)
	b.Consume("q", 1, 0, nil)
	require.NoError(t, b.Nack("q", id, "fail")) // max_retries=0 -> dead after first attempt

	dlq, _ := b.PeekDLQ("q", 10, 0)
	require.Len(t, dlq, 1)
	deadID := dlq[0].MessageID

	moved, err := b.MoveToMain("q", deadID)
	require.NoError(t, err)
	require.True(t, moved)

	movedAgain, err := b.MoveToMain("q", deadID)
	require.NoError(t, err)
	require.False(t, movedAgain)

	msgs, _ := b.Consume("q", 10, 0, nil)
	require.Len(t, msgs, 1)
}

func TestVisibilityTimeoutRedeliversUnackedMessage(t *testing.T) {
	b := New()
	require.NoError(t, b.Create("q", Config{VisibilityTimeout: 50 * time.Millisecond, MaxRetries: 5}))
	_, err := b.Push("q", protocol.StringAny("p"), 0, 0)
	require.NoError(t, err)

	msgs, _ := b.Consume("q", 1, 0, nil)
	require.Len(t, msgs, 1)

	time.Sleep(80 * time.Millisecond)
	swept := b.SweepVisibility(100)
	require.Equal(t, 1, swept)

	redelivered, _ := b.Consume("q", 1, 0, nil)
	require.Len(t, redelivered, 1)
	require.Equal(t, uint32(2), redelivered[0].Attempts)
}

func TestDelayedMessageBecomesPendingAfterSweep(t *testing.T) {
	b := newTestBroker(t)
	_, err := b.Push("q", protocol.StringAny("delayed"), 0, 10*time.Millisecond)
	require.NoError(t, err)

	empty, _ := b.Consume("q", 1, 0, nil)
	require.Empty(t, empty)

	time.Sleep(20 * time.Millisecond)
	moved := b.SweepDelayed(10)
	require.Equal(t, 1, moved)

	msgs, _ := b.Consume("q", 1, 0, nil)
	require.Len(t, msgs, 1)
}

func TestPurgeDLQReturnsCountRemoved(t *testing.T) {
	b := New()
	require.NoError(t, b.Create("q", Config{MaxRetries: 0, VisibilityTimeout: time.Millisecond}))
	for i := 0; i < 3; i++ {
		id, _ := b.Push("q", protocol.StringAny("p"), 0, 0)
		b.Consume("q", 1, 0, nil)
		b.Nack("q", id, "fail")
	}

	n, err := b.PurgeDLQ("q")
	require.NoError(t, err)
	require.Equal(t, 3, n)

	dlq, _ := b.PeekDLQ("q", 10, 0)
	require.Empty(t, dlq)
}

func TestOperationsOnUnknownQueueReturnNotFound(t *testing.T) {
	b := New()
	_, err := b.Push("ghost", protocol.StringAny("x"), 0, 0)
	require.Error(t, err)
	require.IsType(t, ErrNotFound{}, err)
}

func TestCreatePassiveIsIdempotentOtherwiseConflicts(t *testing.T) {
	b := New()
	require.NoError(t, b.Create("q", Config{}))

	err := b.Create("q", Config{})
	require.Error(t, err)
	require.IsType(t, ErrAlreadyExists{}, err)

	err = b.Create("q", Config{Passive: true})
	require.NoError(t, err)
}
