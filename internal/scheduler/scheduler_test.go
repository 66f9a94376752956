package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/nexo-broker/nexo/internal/broker/kv"
	"github.com/nexo-broker/nexo/internal/broker/queue"
	"github.com/nexo-broker/nexo/internal/broker/stream"
	"github.com/nexo-broker/nexo/internal/protocol"
)

func TestRunStopsOnContextCancel(t *testing.T) {
	s := New(kv.New(), queue.New(), stream.New(), 5*time.Millisecond, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancel")
	}
}

func TestTickDrivesKVExpiry(t *testing.T) {
	kvB := kv.New()
	kvB.Set("k", protocol.StringAny("v"), time.Nanosecond)
	time.Sleep(time.Millisecond)

	s := New(kvB, queue.New(), stream.New(), time.Hour, zerolog.Nop())
	s.tick()

	require.Equal(t, 0, kvB.Len())
}
