package workerpool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestPoolExecutesSubmittedTasks(t *testing.T) {
	pool := New(2, 10, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)

	var count int64
	var wg sync.WaitGroup
	wg.Add(5)
	for i := 0; i < 5; i++ {
		pool.Submit(func() {
			atomic.AddInt64(&count, 1)
			wg.Done()
		})
	}

	waitWithTimeout(t, &wg, time.Second)
	require.Equal(t, int64(5), atomic.LoadInt64(&count))
}

func TestPoolDropsTasksWhenQueueFull(t *testing.T) {
	// No worker started: the queue never drains, so the second Submit must
	// find it full and drop.
	pool := New(1, 1, zerolog.Nop())

	pool.Submit(func() {})
	pool.Submit(func() {})

	require.Equal(t, int64(1), pool.Dropped())
	require.Equal(t, 1, pool.QueueDepth())
}

func TestPoolRecoversFromPanickingTask(t *testing.T) {
	pool := New(1, 4, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)

	var ran int64
	pool.Submit(func() { panic("boom") })
	var wg sync.WaitGroup
	wg.Add(1)
	pool.Submit(func() {
		atomic.AddInt64(&ran, 1)
		wg.Done()
	})

	waitWithTimeout(t, &wg, time.Second)
	require.Equal(t, int64(1), atomic.LoadInt64(&ran))
}

func TestPoolStopDrainsQueuedTasksAndExits(t *testing.T) {
	pool := New(2, 10, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)

	var count int64
	var wg sync.WaitGroup
	wg.Add(3)
	for i := 0; i < 3; i++ {
		pool.Submit(func() {
			atomic.AddInt64(&count, 1)
			wg.Done()
		})
	}
	waitWithTimeout(t, &wg, time.Second)

	pool.Stop()
	require.Equal(t, int64(3), atomic.LoadInt64(&count))
}

func waitWithTimeout(t *testing.T, wg *sync.WaitGroup, timeout time.Duration) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		t.Fatal("timed out waiting for tasks to complete")
	}
}
