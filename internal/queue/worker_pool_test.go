package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/phrazzld/report-api/internal/platform/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerPool_ProcessNext(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		attempt   int
		handler   HandlerFunc
		wantStats Stats
	}{
		{
			name:      "success acks",
			handler:   func(context.Context, *Entry) error { return nil },
			wantStats: Stats{Completed: 1},
		},
		{
			name:      "transient failure is retried",
			handler:   func(context.Context, *Entry) error { return errors.New("timeout") },
			wantStats: Stats{Delayed: 1},
		},
		{
			name:      "permanent failure fails",
			handler:   func(context.Context, *Entry) error { return Permanent(errors.New("bad config")) },
			wantStats: Stats{Failed: 1},
		},
		{
			name:      "panic is retried",
			handler:   func(context.Context, *Entry) error { panic("nil map") },
			wantStats: Stats{Delayed: 1},
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			b, _ := newTestBroker()
			require.NoError(t, b.Push(ctx, testEntry()))

			pool := NewWorkerPool(b, tc.handler, WorkerPoolConfig{WorkerCount: 1}, logger.Discard())
			worked, err := pool.ProcessNext(ctx, 0)
			require.NoError(t, err)
			assert.True(t, worked)

			stats, err := b.Stats(ctx)
			require.NoError(t, err)
			assert.Equal(t, tc.wantStats, stats)
		})
	}
}

func TestWorkerPool_ExhaustsAttempts(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b, clock := newTestBroker()
	require.NoError(t, b.Push(ctx, testEntry()))

	var calls int32
	pool := NewWorkerPool(b, HandlerFunc(func(context.Context, *Entry) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("still down")
	}), WorkerPoolConfig{}, logger.Discard())

	for i := 0; i < 3; i++ {
		worked, err := pool.ProcessNext(ctx, 0)
		require.NoError(t, err)
		require.True(t, worked, "attempt %d", i+1)
		clock.Advance(MaxBackoff)
	}

	worked, err := pool.ProcessNext(ctx, 0)
	require.NoError(t, err)
	assert.False(t, worked)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))

	failed, err := b.List(ctx, StateFailed, 0)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "still down", failed[0].LastError)
}

func TestWorkerPool_EmptyQueue(t *testing.T) {
	t.Parallel()
	b, _ := newTestBroker()
	pool := NewWorkerPool(b, HandlerFunc(func(context.Context, *Entry) error { return nil }), WorkerPoolConfig{}, logger.Discard())

	worked, err := pool.ProcessNext(context.Background(), 0)
	require.NoError(t, err)
	assert.False(t, worked)
}

func TestWorkerPool_RunProcessesAndStops(t *testing.T) {
	t.Parallel()
	b := NewMemoryBroker()

	done := make(chan struct{}, 3)
	pool := NewWorkerPool(b, HandlerFunc(func(context.Context, *Entry) error {
		done <- struct{}{}
		return nil
	}), WorkerPoolConfig{WorkerCount: 2, PollInterval: 10 * time.Millisecond}, logger.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- pool.Run(ctx) }()

	for i := 0; i < 3; i++ {
		require.NoError(t, b.Push(context.Background(), testEntry()))
	}
	for i := 0; i < 3; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("entry was not processed")
		}
	}

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("pool did not stop")
	}

	stats, err := b.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Completed)
}
