package subscription

import (
	"sync"

	"github.com/google/uuid"
)

// Target is a single-value cache with ordered fan-out.
type Target[V any] struct {
	id uuid.UUID

	// deliverMu serialises Propagate calls end to end.
	deliverMu sync.Mutex

	mu     sync.Mutex
	latest V
	subs   []*subscriber[V]
	closed bool
	err    error
	done   chan struct{}
}

type subscriber[V any] struct {
	fn     func(V)
	active bool
}

// NewTarget creates an open Target holding initial.
func NewTarget[V any](initial V) *Target[V] {
	return &Target[V]{
		id:     uuid.New(),
		latest: initial,
		done:   make(chan struct{}),
	}
}

// ID returns the process-unique identifier of the target.
func (t *Target[V]) ID() uuid.UUID {
	return t.id
}

// Latest returns the most recent value. It never blocks on delivery and keeps
// working after Close.
func (t *Target[V]) Latest() V {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.latest
}

// Subscribe registers fn for future values. The returned function removes
// exactly this registration and is safe to call more than once. Subscribing
// to a closed target returns a no-op.
func (t *Target[V]) Subscribe(fn func(V)) (unsubscribe func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return func() {}
	}
	s := &subscriber[V]{fn: fn, active: true}
	t.subs = append(t.subs, s)

	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if !s.active {
			return
		}
		s.active = false
		for i, existing := range t.subs {
			if existing == s {
				t.subs = append(t.subs[:i:i], t.subs[i+1:]...)
				break
			}
		}
	}
}

// Propagate stores v and calls every subscriber with it. Values propagated
// after Close are dropped. Subscribers must not call Propagate on the same
// target.
func (t *Target[V]) Propagate(v V) {
	t.deliverMu.Lock()
	defer t.deliverMu.Unlock()

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.latest = v
	subs := t.subs
	t.mu.Unlock()

	for _, s := range subs {
		if t.isActive(s) {
			s.fn(v)
		}
	}
}

func (t *Target[V]) isActive(s *subscriber[V]) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return s.active && !t.closed
}

// Close ends the target cleanly.
func (t *Target[V]) Close() {
	t.CloseWithError(nil)
}

// CloseWithError ends the target with a terminal error. Only the first call
// has an effect.
func (t *Target[V]) CloseWithError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return
	}
	t.closed = true
	t.err = err
	for _, s := range t.subs {
		s.active = false
	}
	t.subs = nil
	close(t.done)
}

// Closed reports whether the target was closed.
func (t *Target[V]) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// Err returns the terminal error, nil while open or after a clean close.
func (t *Target[V]) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Done is closed when the target closes. Producers wait on it to release
// their resources.
func (t *Target[V]) Done() <-chan struct{} {
	return t.done
}

// SubscriberCount returns the number of registered subscribers.
func (t *Target[V]) SubscriberCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}
