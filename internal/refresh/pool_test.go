package refresh

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolBoundsConcurrency(t *testing.T) {
	p := NewPool(2)
	var c concurrency
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		require.NoError(t, p.Go(func(ctx context.Context) {
			defer wg.Done()
			c.enter()
			defer c.leave()
			time.Sleep(10 * time.Millisecond)
		}))
	}
	wg.Wait()
	p.Close()

	calls, peak := c.stats()
	assert.Equal(t, 8, calls)
	assert.LessOrEqual(t, peak, 2)
}

func TestPoolCloseCancelsWork(t *testing.T) {
	p := NewPool(0)
	var canceled atomic.Bool
	started := make(chan struct{})
	require.NoError(t, p.Go(func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		canceled.Store(true)
	}))
	<-started
	p.Close()
	require.True(t, canceled.Load())
	require.ErrorIs(t, p.Go(func(context.Context) {}), ErrPoolClosed)
}

func TestPoolQueuedWorkRunsOnClose(t *testing.T) {
	p := NewPool(1)
	started := make(chan struct{})
	require.NoError(t, p.Go(func(ctx context.Context) {
		close(started)
		<-ctx.Done()
	}))
	<-started

	var ran atomic.Bool
	require.NoError(t, p.Go(func(ctx context.Context) {
		ran.Store(true)
		assert.Error(t, ctx.Err())
	}))
	p.Close()
	require.True(t, ran.Load())
}

func TestRemaining(t *testing.T) {
	now := time.Now()
	assert.Equal(t, 5*time.Second, Remaining(now.Add(5*time.Second), now))
	assert.Equal(t, time.Millisecond, Remaining(now.Add(-time.Second), now))
	assert.Equal(t, time.Millisecond, Remaining(now, now))
}

func TestWithRemaining(t *testing.T) {
	ctx, cancel := WithRemaining(context.Background(), time.Now().Add(-time.Hour))
	defer cancel()
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("context past its deadline was not canceled")
	}
}
