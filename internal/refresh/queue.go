package refresh

import (
	"sync"
	"time"

	"github.com/gammazero/deque"
)

// Request asks for a refresh of Key. Context carries whatever the worker needs
// to know about who asked.
type Request[K comparable, C any] struct {
	Key        K
	Context    C
	EnqueuedAt time.Time
}

// pendingQueue is an unbounded FIFO of requests.
type pendingQueue[K comparable, C any] struct {
	mu sync.Mutex
	q  *deque.Deque[Request[K, C]]
}

func newPendingQueue[K comparable, C any]() *pendingQueue[K, C] {
	return &pendingQueue[K, C]{q: deque.New[Request[K, C]]()}
}

func (p *pendingQueue[K, C]) push(reqs ...Request[K, C]) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, r := range reqs {
		p.q.PushBack(r)
	}
}

// drain removes and returns every queued request in FIFO order.
func (p *pendingQueue[K, C]) drain() []Request[K, C] {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Request[K, C], 0, p.q.Len())
	for p.q.Len() > 0 {
		out = append(out, p.q.PopFront())
	}
	return out
}

func (p *pendingQueue[K, C]) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.q.Len()
}
