package netstate

import (
	"context"
	"slices"
	"sync"
)

// Listener is called with the new state on every online/offline transition.
type Listener func(online bool)

// Monitor tracks device online/offline transitions.
type Monitor struct {
	mu sync.Mutex

	online bool

	// onlineCh is closed while online and replaced by an open channel
	// when going offline, so WaitOnline can select on it.
	onlineCh chan struct{}

	listeners map[uint64]Listener
	nextID    uint64
}

// NewMonitor creates a monitor in the online state.
func NewMonitor() *Monitor {
	ch := make(chan struct{})
	close(ch)
	return &Monitor{
		online:    true,
		onlineCh:  ch,
		listeners: make(map[uint64]Listener),
	}
}

// Online reports the current state.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// SetOnline records a transition. Listeners are only called when the state
// actually changes; they run synchronously in registration order, outside
// the monitor lock.
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	if online {
		close(m.onlineCh)
	} else {
		m.onlineCh = make(chan struct{})
	}
	listeners := m.snapshotLocked()
	m.mu.Unlock()

	for _, l := range listeners {
		l(online)
	}
}

// Subscribe registers a listener and returns a function that removes it.
// The returned function is idempotent.
func (m *Monitor) Subscribe(l Listener) (unsubscribe func()) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = l
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.listeners, id)
			m.mu.Unlock()
		})
	}
}

// WaitOnline blocks until the device is online or ctx is done.
func (m *Monitor) WaitOnline(ctx context.Context) error {
	m.mu.Lock()
	ch := m.onlineCh
	m.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// snapshotLocked returns listeners in registration order.
func (m *Monitor) snapshotLocked() []Listener {
	ids := make([]uint64, 0, len(m.listeners))
	for id := range m.listeners {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	out := make([]Listener, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.listeners[id])
	}
	return out
}
