package fetchqueue

import (
	"container/heap"
	"context"
	"sync"

	"github.com/walletsync/walletsync-go/pkg/clock"
	"github.com/walletsync/walletsync-go/pkg/metrics"
)

// DefaultLimit is the default number of concurrent requests.
const DefaultLimit = 8

// Priority orders waiting callers. Higher runs first.
type Priority int

const (
	// PriorityBackground is for fallback polls and retries.
	PriorityBackground Priority = 0

	// PriorityNormal is for push-triggered fetches.
	PriorityNormal Priority = 10

	// PriorityHigh is for initial loads a user is waiting on.
	PriorityHigh Priority = 20
)

// String returns a human-readable priority name.
func (p Priority) String() string {
	switch p {
	case PriorityBackground:
		return "BACKGROUND"
	case PriorityNormal:
		return "NORMAL"
	case PriorityHigh:
		return "HIGH"
	default:
		return "CUSTOM"
	}
}

// Config configures a Queue.
type Config struct {
	// Limit is the number of concurrent slots. Default DefaultLimit.
	Limit int

	Clock   clock.Clock
	Metrics *metrics.Metrics
}

// Stats is a snapshot of the queue.
type Stats struct {
	Limit    int
	InFlight int
	Waiting  int
}

// Queue is a priority-aware concurrency limiter. It is safe for concurrent
// use.
type Queue struct {
	mu       sync.Mutex
	limit    int
	inFlight int
	waiters  waiterHeap
	seq      uint64

	clock   clock.Clock
	metrics *metrics.Metrics
}

// New creates a queue with limit slots.
func New(limit int) *Queue {
	return NewWithConfig(Config{Limit: limit})
}

// NewWithConfig creates a queue with custom configuration.
func NewWithConfig(cfg Config) *Queue {
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultLimit
	}
	return &Queue{
		limit:   cfg.Limit,
		clock:   clock.OrReal(cfg.Clock),
		metrics: cfg.Metrics,
	}
}

// Acquire blocks until a slot is free or ctx ends. The returned release
// function must be called exactly once; further calls are ignored.
func (q *Queue) Acquire(ctx context.Context, priority Priority) (release func(), err error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	q.mu.Lock()
	if q.inFlight < q.limit && q.waiters.Len() == 0 {
		q.inFlight++
		q.reportLocked()
		q.mu.Unlock()
		return q.releaseFunc(), nil
	}

	w := &waiter{priority: priority, seq: q.seq, ready: make(chan struct{})}
	q.seq++
	heap.Push(&q.waiters, w)
	q.reportLocked()
	q.mu.Unlock()

	start := q.clock.Now()
	select {
	case <-w.ready:
		q.metrics.FetchQueueWait(q.clock.Now().Sub(start))
		return q.releaseFunc(), nil

	case <-ctx.Done():
		q.mu.Lock()
		if w.granted {
			// Granted concurrently with cancellation: hand the slot on.
			q.inFlight--
			q.dispatchLocked()
		} else {
			heap.Remove(&q.waiters, w.index)
		}
		q.reportLocked()
		q.mu.Unlock()
		return nil, ctx.Err()
	}
}

func (q *Queue) releaseFunc() func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			q.mu.Lock()
			defer q.mu.Unlock()
			q.inFlight--
			q.dispatchLocked()
			q.reportLocked()
		})
	}
}

func (q *Queue) dispatchLocked() {
	for q.inFlight < q.limit && q.waiters.Len() > 0 {
		w := heap.Pop(&q.waiters).(*waiter)
		w.granted = true
		q.inFlight++
		close(w.ready)
	}
}

func (q *Queue) reportLocked() {
	q.metrics.FetchQueue(q.inFlight, q.waiters.Len())
}

// Add runs fn once a slot is free and returns its error.
func (q *Queue) Add(ctx context.Context, priority Priority, fn func(ctx context.Context) error) error {
	release, err := q.Acquire(ctx, priority)
	if err != nil {
		return err
	}
	defer release()
	return fn(ctx)
}

// Do runs fn once a slot is free and returns its result.
func Do[T any](ctx context.Context, q *Queue, priority Priority, fn func(ctx context.Context) (T, error)) (T, error) {
	release, err := q.Acquire(ctx, priority)
	if err != nil {
		var zero T
		return zero, err
	}
	defer release()
	return fn(ctx)
}

// Stats returns a snapshot of the queue.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{Limit: q.limit, InFlight: q.inFlight, Waiting: q.waiters.Len()}
}

type waiter struct {
	priority Priority
	seq      uint64
	ready    chan struct{}
	granted  bool
	index    int
}

// waiterHeap orders by priority, then arrival.
type waiterHeap []*waiter

func (h waiterHeap) Len() int { return len(h) }

func (h waiterHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h waiterHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *waiterHeap) Push(x any) {
	w := x.(*waiter)
	w.index = len(*h)
	*h = append(*h, w)
}

func (h *waiterHeap) Pop() any {
	old := *h
	n := len(old)
	w := old[n-1]
	old[n-1] = nil
	w.index = -1
	*h = old[:n-1]
	return w
}
