package refresh

import (
	"sync"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// concurrency tracks the peak number of simultaneous calls.
type concurrency struct {
	mu      sync.Mutex
	current int
	peak    int
	calls   int
}

func (c *concurrency) enter() {
	c.mu.Lock()
	c.current++
	c.calls++
	if c.current > c.peak {
		c.peak = c.current
	}
	c.mu.Unlock()
}

func (c *concurrency) leave() {
	c.mu.Lock()
	c.current--
	c.mu.Unlock()
}

func (c *concurrency) stats() (calls, peak int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls, c.peak
}
