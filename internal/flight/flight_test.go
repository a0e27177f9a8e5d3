package flight

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireOrJoin(t *testing.T) {
	g := NewGroup[string, int]()

	t1, owner := g.AcquireOrJoin("a")
	require.True(t, owner)
	t2, owner := g.AcquireOrJoin("a")
	require.False(t, owner)
	require.Same(t, t1, t2)

	t3, owner := g.AcquireOrJoin("b")
	require.True(t, owner)
	require.NotEqual(t, t1.ID, t3.ID)
	require.Equal(t, 2, g.Len())

	g.Complete("a", t1, 7, nil)
	require.Equal(t, 1, g.Len())

	v, err := t2.Result()
	require.NoError(t, err)
	require.Equal(t, 7, v)

	t4, owner := g.AcquireOrJoin("a")
	require.True(t, owner, "a completed ticket makes way for the next one")
	require.NotSame(t, t1, t4)
}

func TestWaitersReleasedTogether(t *testing.T) {
	g := NewGroup[string, string]()
	owned, _ := g.AcquireOrJoin("k")

	const waiters = 20
	var (
		wg       sync.WaitGroup
		released atomic.Int32
	)
	results := make([]string, waiters)
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tk, owner := g.AcquireOrJoin("k")
			assert.False(t, owner)
			ok := tk.Wait(context.Background(), 5*time.Second)
			assert.True(t, ok)
			v, err := tk.Result()
			assert.NoError(t, err)
			results[i] = v
			released.Add(1)
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	require.Equal(t, int32(0), released.Load())

	g.Complete("k", owned, "fresh", nil)
	wg.Wait()
	for _, r := range results {
		require.Equal(t, "fresh", r)
	}
}

func TestWaiterTimeoutDoesNotCancelTicket(t *testing.T) {
	g := NewGroup[string, int]()
	owned, _ := g.AcquireOrJoin("k")

	joined, _ := g.AcquireOrJoin("k")
	require.False(t, joined.Wait(context.Background(), 10*time.Millisecond))

	live, found := g.Lookup("k")
	require.True(t, found)
	require.Same(t, owned, live)

	select {
	case <-owned.Done():
		t.Fatal("ticket completed after waiter timeout")
	default:
	}

	g.Complete("k", owned, 1, nil)
	require.True(t, joined.Wait(context.Background(), time.Second))
	v, _ := joined.Result()
	require.Equal(t, 1, v)
}

func TestWaitContextCanceled(t *testing.T) {
	g := NewGroup[string, int]()
	tk, _ := g.AcquireOrJoin("k")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.False(t, tk.Wait(ctx, 0))
}

func TestFailureObservedByWaiters(t *testing.T) {
	g := NewGroup[string, int]()
	tk, _ := g.AcquireOrJoin("k")
	boom := errors.New("boom")
	g.Complete("k", tk, 0, boom)
	g.Complete("k", tk, 5, nil)

	v, err := tk.Result()
	require.ErrorIs(t, err, boom)
	require.Zero(t, v)
}

func TestStaleCompleteDoesNotRemoveNewTicket(t *testing.T) {
	g := NewGroup[string, int]()
	old, _ := g.AcquireOrJoin("k")
	g.Complete("k", old, 1, nil)
	fresh, _ := g.AcquireOrJoin("k")

	g.Complete("k", old, 2, nil)
	live, ok := g.Lookup("k")
	require.True(t, ok)
	require.Same(t, fresh, live)
}

func TestSet(t *testing.T) {
	s := NewSet[string]()
	require.True(t, s.TryAdd("a"))
	require.False(t, s.TryAdd("a"))
	require.True(t, s.Contains("a"))
	require.Equal(t, 1, s.Len())
	s.Release("a")
	require.False(t, s.Contains("a"))
	require.True(t, s.TryAdd("a"))
}

func TestSetConcurrentTryAdd(t *testing.T) {
	s := NewSet[int]()
	var (
		wg   sync.WaitGroup
		wins atomic.Int32
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.TryAdd(1) {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), wins.Load())
}

func TestForgetDetachesTicket(t *testing.T) {
	g := NewGroup[string, int]()
	old, owner := g.AcquireOrJoin("k")
	require.True(t, owner)

	g.Forget("k")
	next, owner := g.AcquireOrJoin("k")
	require.True(t, owner)
	require.NotEqual(t, old.ID, next.ID)

	g.Complete("k", old, 1, nil)
	cur, ok := g.Lookup("k")
	require.True(t, ok, "completing the detached ticket leaves the new one live")
	require.Same(t, next, cur)

	v, err := old.Result()
	require.NoError(t, err)
	require.Equal(t, 1, v)
}
