package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/walletsync/walletsync-go/pkg/clock"
	"github.com/walletsync/walletsync-go/pkg/connection"
	"github.com/walletsync/walletsync-go/pkg/log"
	"github.com/walletsync/walletsync-go/pkg/subscription"
	"github.com/walletsync/walletsync-go/pkg/syncerr"
)

const waitTimeout = 2 * time.Second

type fetchResult struct {
	u   int
	ok  bool
	err error
}

// fakeResource uses sequence numbers as both updates and values.
type fakeResource struct {
	mu      sync.Mutex
	applied int
	initFn  func(ctx context.Context, emit func(int)) (int, error)
	results []fetchResult
	pushFn  func(int)
	failFn  func(error)
	stopped bool
	fetches chan *int
	subbed  chan struct{}
	subOnce sync.Once

	// gate, when set, holds every fetch until it is closed.
	gate chan struct{}
}

func newFakeResource() *fakeResource {
	return &fakeResource{
		fetches: make(chan *int, 100),
		subbed:  make(chan struct{}),
	}
}

func (r *fakeResource) Init(ctx context.Context, emit func(int)) (int, error) {
	r.mu.Lock()
	fn := r.initFn
	r.mu.Unlock()
	if fn != nil {
		return fn(ctx, emit)
	}
	return 0, nil
}

func (r *fakeResource) SubscribeToUpdates(ctx context.Context, push func(int), fail func(error)) func() {
	r.mu.Lock()
	r.pushFn = push
	r.failFn = fail
	r.mu.Unlock()
	r.subOnce.Do(func() { close(r.subbed) })
	return func() {
		r.mu.Lock()
		r.stopped = true
		r.mu.Unlock()
	}
}

// FetchUpdate pops the next queued result. With nothing queued it confirms
// the hint, or reports nothing new for polls.
func (r *fakeResource) FetchUpdate(ctx context.Context, hint *int) (int, bool, error) {
	var recorded *int
	if hint != nil {
		h := *hint
		recorded = &h
	}

	r.mu.Lock()
	var res fetchResult
	switch {
	case len(r.results) > 0:
		res = r.results[0]
		r.results = r.results[1:]
	case hint != nil:
		res = fetchResult{u: *hint, ok: true}
	}
	gate := r.gate
	r.mu.Unlock()

	r.fetches <- recorded
	if gate != nil {
		<-gate
	}
	return res.u, res.ok, res.err
}

func (r *fakeResource) ShouldApplyUpdate(u int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return u > r.applied
}

func (r *fakeResource) ApplyUpdate(u int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.applied = u
	return u
}

func (r *fakeResource) queue(results ...fetchResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, results...)
}

func (r *fakeResource) push(t *testing.T, u int) {
	t.Helper()
	select {
	case <-r.subbed:
	case <-time.After(waitTimeout):
		t.Fatal("push source never subscribed")
	}
	r.mu.Lock()
	fn := r.pushFn
	r.mu.Unlock()
	fn(u)
}

func (r *fakeResource) fail(err error) {
	r.mu.Lock()
	fn := r.failFn
	r.mu.Unlock()
	fn(err)
}

func (r *fakeResource) isStopped() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopped
}

func (r *fakeResource) nextFetch(t *testing.T) *int {
	t.Helper()
	select {
	case hint := <-r.fetches:
		return hint
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for fetch")
		return nil
	}
}

func (r *fakeResource) expectNoFetch(t *testing.T) {
	t.Helper()
	select {
	case hint := <-r.fetches:
		t.Fatalf("unexpected fetch with hint %v", hint)
	case <-time.After(50 * time.Millisecond):
	}
}

type fakeReporter struct {
	mu       sync.Mutex
	reported []error
	cleared  int
}

func (r *fakeReporter) Report(service string, err error) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reported = append(r.reported, err)
	return false
}

func (r *fakeReporter) Clear(service string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cleared++
	return false
}

func (r *fakeReporter) errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.reported...)
}

type harness struct {
	clk      *clock.FakeClock
	res      *fakeResource
	reporter *fakeReporter
	target   *subscription.Target[int]
	values   chan int
	poller   *Poller[int, int]
}

func startHarness(t *testing.T, setup func(*fakeResource), configure ...func(*Options)) *harness {
	t.Helper()
	h := &harness{
		clk:      clock.Fake(time.Unix(1_700_000_000, 0)),
		res:      newFakeResource(),
		reporter: &fakeReporter{},
		target:   subscription.NewTarget(-100),
		values:   make(chan int, 100),
	}
	if setup != nil {
		setup(h.res)
	}
	h.target.Subscribe(func(v int) { h.values <- v })
	opts := Options{
		Service:  "horizon",
		Resource: "test",
		Key:      "k",
		Reporter: h.reporter,
		Clock:    h.clk,
	}
	for _, fn := range configure {
		fn(&opts)
	}
	h.poller = Start(context.Background(), h.target, h.res, opts)
	t.Cleanup(func() {
		h.poller.Close()
		<-h.poller.Done()
	})
	return h
}

func (h *harness) nextValue(t *testing.T) int {
	t.Helper()
	select {
	case v := <-h.values:
		return v
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for value")
		return 0
	}
}

func (h *harness) expectNoValue(t *testing.T) {
	t.Helper()
	select {
	case v := <-h.values:
		t.Fatalf("unexpected value %d", v)
	case <-time.After(50 * time.Millisecond):
	}
}

func connErr() error {
	return syncerr.NewConnectionError("horizon", "fetch", errors.New("connection refused"))
}

func TestPollerInit(t *testing.T) {
	h := startHarness(t, nil)

	assert.Equal(t, 0, h.nextValue(t))
	assert.Eventually(t, func() bool { return h.poller.State() == connection.StateActive }, waitTimeout, time.Millisecond)
	assert.Equal(t, 0, h.target.Latest())
}

func TestPollerInitEmitsInterimValues(t *testing.T) {
	h := startHarness(t, func(r *fakeResource) {
		r.initFn = func(ctx context.Context, emit func(int)) (int, error) {
			emit(-1)
			return 0, nil
		}
	})

	assert.Equal(t, -1, h.nextValue(t))
	assert.Equal(t, 0, h.nextValue(t))
}

func TestPollerInitRetriesConnectionErrors(t *testing.T) {
	calls := 0
	h := startHarness(t, func(r *fakeResource) {
		r.initFn = func(ctx context.Context, emit func(int)) (int, error) {
			calls++
			if calls == 1 {
				return 0, connErr()
			}
			return 3, nil
		}
	})

	h.clk.WaitForTimers(1)
	assert.Equal(t, connection.StateReconnecting, h.poller.State())
	h.clk.Advance(connection.DefaultReconnectDelay)

	assert.Equal(t, 3, h.nextValue(t))
	require.Len(t, h.reporter.errors(), 1)
}

func TestPollerPushTriggersFetch(t *testing.T) {
	h := startHarness(t, nil)
	h.nextValue(t)

	h.res.push(t, 5)
	hint := h.res.nextFetch(t)
	require.NotNil(t, hint)
	assert.Equal(t, 5, *hint)
	assert.Equal(t, 5, h.nextValue(t))
	assert.Equal(t, 5, h.target.Latest())
}

func TestPollerRejectsOutOfOrderUpdates(t *testing.T) {
	h := startHarness(t, nil)
	h.nextValue(t)

	h.res.push(t, 5)
	h.res.nextFetch(t)
	assert.Equal(t, 5, h.nextValue(t))

	h.res.push(t, 3)
	h.res.nextFetch(t)
	h.expectNoValue(t)
	assert.Equal(t, 5, h.target.Latest())
}

func TestPollerStaleRetrySchedule(t *testing.T) {
	h := startHarness(t, func(r *fakeResource) {
		for range 6 {
			r.queue(fetchResult{})
		}
	})
	h.nextValue(t)

	h.res.push(t, 7)
	h.res.nextFetch(t)

	for _, d := range []time.Duration{500 * time.Millisecond, time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second} {
		h.clk.WaitForTimers(2)
		h.clk.Advance(d - time.Millisecond)
		h.res.expectNoFetch(t)
		h.clk.Advance(time.Millisecond)
		hint := h.res.nextFetch(t)
		require.NotNil(t, hint, "retry after %v", d)
		assert.Equal(t, 7, *hint)
	}

	// Five retries used up: only the fallback timer is left.
	assert.Eventually(t, func() bool { return h.clk.PendingCount() == 1 }, waitTimeout, time.Millisecond)
	h.clk.Advance(16 * time.Second)
	h.res.expectNoFetch(t)
	h.expectNoValue(t)
}

func TestPollerStaleRetryEventuallyApplies(t *testing.T) {
	h := startHarness(t, func(r *fakeResource) {
		r.queue(fetchResult{}, fetchResult{})
	})
	h.nextValue(t)

	h.res.push(t, 4)
	h.res.nextFetch(t)
	h.clk.WaitForTimers(2)
	h.clk.Advance(500 * time.Millisecond)
	h.res.nextFetch(t)
	h.clk.WaitForTimers(2)
	h.clk.Advance(time.Second)
	h.res.nextFetch(t)

	assert.Equal(t, 4, h.nextValue(t))
}

func TestPollerNewerPushSupersedesRetry(t *testing.T) {
	h := startHarness(t, func(r *fakeResource) {
		r.queue(fetchResult{})
	})
	h.nextValue(t)

	h.res.push(t, 1)
	h.res.nextFetch(t)
	h.clk.WaitForTimers(2)

	h.res.push(t, 2)
	hint := h.res.nextFetch(t)
	require.NotNil(t, hint)
	assert.Equal(t, 2, *hint)
	assert.Equal(t, 2, h.nextValue(t))

	assert.Eventually(t, func() bool { return h.clk.PendingCount() == 1 }, waitTimeout, time.Millisecond)
	h.clk.Advance(time.Second)
	h.res.expectNoFetch(t)
}

func TestPollerFallbackPoll(t *testing.T) {
	h := startHarness(t, func(r *fakeResource) {
		r.queue(fetchResult{u: 9, ok: true})
	})
	h.nextValue(t)

	h.clk.WaitForTimers(1)
	h.clk.Advance(DefaultFallbackPoll)
	assert.Nil(t, h.res.nextFetch(t))
	assert.Equal(t, 9, h.nextValue(t))

	// A poll with nothing new is not retried; the timer re-arms.
	h.clk.WaitForTimers(1)
	h.clk.Advance(DefaultFallbackPoll)
	assert.Nil(t, h.res.nextFetch(t))
	h.clk.WaitForTimers(1)
	assert.Equal(t, 1, h.clk.PendingCount())
}

func TestPollerApplyResetsFallback(t *testing.T) {
	h := startHarness(t, nil)
	h.nextValue(t)
	h.clk.WaitForTimers(1)

	h.clk.Advance(30 * time.Second)
	h.res.push(t, 1)
	h.res.nextFetch(t)
	h.nextValue(t)

	h.clk.Advance(30 * time.Second)
	h.res.expectNoFetch(t)

	h.clk.Advance(30 * time.Second)
	assert.Nil(t, h.res.nextFetch(t))
}

func TestPollerFallbackDuringFetchIsDropped(t *testing.T) {
	h := startHarness(t, nil)
	h.nextValue(t)
	h.clk.WaitForTimers(1)

	gate := make(chan struct{})
	h.res.mu.Lock()
	h.res.gate = gate
	h.res.mu.Unlock()

	h.res.push(t, 1)
	h.res.nextFetch(t)

	// The fallback fires while the push fetch is still running.
	h.clk.Advance(DefaultFallbackPoll)
	close(gate)
	assert.Equal(t, 1, h.nextValue(t))

	h.res.expectNoFetch(t)
	h.clk.WaitForTimers(1)
	h.clk.Advance(DefaultFallbackPoll)
	assert.Nil(t, h.res.nextFetch(t))
}

func TestPollerPriorityBySource(t *testing.T) {
	type sourceKey struct{}
	var mu sync.Mutex
	var seen []log.UpdateSource
	h := startHarness(t, nil, func(o *Options) {
		o.Priority = func(ctx context.Context, source log.UpdateSource) context.Context {
			mu.Lock()
			seen = append(seen, source)
			mu.Unlock()
			return context.WithValue(ctx, sourceKey{}, source)
		}
	})
	h.nextValue(t)

	h.res.push(t, 1)
	h.res.nextFetch(t)
	h.nextValue(t)

	h.clk.WaitForTimers(1)
	h.clk.Advance(DefaultFallbackPoll)
	h.res.nextFetch(t)

	mu.Lock()
	defer mu.Unlock()
	want := []log.UpdateSource{log.UpdateSourceInit, log.UpdateSourcePush, log.UpdateSourcePoll}
	assert.Equal(t, want, seen)
}

func TestPollerConnectionErrorRetriesWithoutBudget(t *testing.T) {
	h := startHarness(t, func(r *fakeResource) {
		r.queue(fetchResult{err: connErr()}, fetchResult{err: connErr()})
	})
	h.nextValue(t)

	h.res.push(t, 6)
	h.res.nextFetch(t)
	for range 2 {
		h.clk.WaitForTimers(2)
		assert.Equal(t, connection.StateReconnecting, h.poller.State())
		h.clk.Advance(connection.DefaultReconnectDelay)
		hint := h.res.nextFetch(t)
		require.NotNil(t, hint)
		assert.Equal(t, 6, *hint)
	}

	assert.Equal(t, 6, h.nextValue(t))
	assert.Len(t, h.reporter.errors(), 2)
	assert.Eventually(t, func() bool { return h.poller.State() == connection.StateActive }, waitTimeout, time.Millisecond)
}

func TestPollerNewerPushDuringReconnect(t *testing.T) {
	h := startHarness(t, func(r *fakeResource) {
		r.queue(fetchResult{err: connErr()})
	})
	h.nextValue(t)

	h.res.push(t, 1)
	h.res.nextFetch(t)
	h.clk.WaitForTimers(2)
	h.res.push(t, 2)
	h.clk.Advance(connection.DefaultReconnectDelay)

	hint := h.res.nextFetch(t)
	require.NotNil(t, hint)
	assert.Equal(t, 2, *hint)
	assert.Equal(t, 2, h.nextValue(t))
}

func TestPollerClearsReporterOnApply(t *testing.T) {
	h := startHarness(t, nil)
	h.nextValue(t)

	h.res.push(t, 1)
	h.nextValue(t)

	assert.Eventually(t, func() bool {
		h.reporter.mu.Lock()
		defer h.reporter.mu.Unlock()
		return h.reporter.cleared == 2
	}, waitTimeout, time.Millisecond)
}

func TestPollerResourceGone(t *testing.T) {
	h := startHarness(t, func(r *fakeResource) {
		r.queue(fetchResult{err: fmt.Errorf("GET /accounts/G: %w", syncerr.ErrResourceGone)})
	})
	h.nextValue(t)

	h.res.push(t, 1)
	select {
	case <-h.target.Done():
	case <-time.After(waitTimeout):
		t.Fatal("target not closed")
	}
	<-h.poller.Done()

	assert.NoError(t, h.target.Err())
	assert.Equal(t, 0, h.target.Latest())
	assert.True(t, h.res.isStopped())
	assert.Equal(t, connection.StateClosed, h.poller.State())
	assert.Empty(t, h.reporter.errors())
}

func TestPollerGoneFromPushSource(t *testing.T) {
	h := startHarness(t, nil)
	h.nextValue(t)
	<-h.res.subbed

	h.res.fail(syncerr.ErrResourceGone)
	<-h.poller.Done()
	assert.True(t, h.target.Closed())
	assert.NoError(t, h.target.Err())
}

func TestPollerUnexpectedErrorIsTerminal(t *testing.T) {
	bad := syncerr.Unexpected("decode account", errors.New("invalid character"))
	h := startHarness(t, func(r *fakeResource) {
		r.queue(fetchResult{err: bad})
	})
	h.nextValue(t)

	h.res.push(t, 1)
	<-h.poller.Done()

	assert.ErrorIs(t, h.target.Err(), bad)
	require.Len(t, h.reporter.errors(), 1)
	assert.Equal(t, syncerr.KindUnexpected, syncerr.Classify(h.reporter.errors()[0]))
}

func TestPollerConnectionErrorFromPushSourceIsReported(t *testing.T) {
	h := startHarness(t, nil)
	h.nextValue(t)
	<-h.res.subbed

	h.res.fail(connErr())
	assert.Eventually(t, func() bool { return len(h.reporter.errors()) == 1 }, waitTimeout, time.Millisecond)
	assert.False(t, h.target.Closed())
}

func TestPollerStopsWhenTargetClosed(t *testing.T) {
	h := startHarness(t, nil)
	h.nextValue(t)
	<-h.res.subbed

	h.target.Close()
	select {
	case <-h.poller.Done():
	case <-time.After(waitTimeout):
		t.Fatal("poller did not stop")
	}
	assert.True(t, h.res.isStopped())
	assert.Equal(t, 0, h.clk.PendingCount())
}

func TestPollerStopsOnContextCancel(t *testing.T) {
	res := newFakeResource()
	target := subscription.NewTarget(0)
	ctx, cancel := context.WithCancel(context.Background())
	p := Start(ctx, target, res, Options{Clock: clock.Fake(time.Unix(0, 0))})
	<-res.subbed

	cancel()
	<-p.Done()
	assert.True(t, target.Closed())
	assert.NoError(t, target.Err())
}

func TestPollerCancelDuringInit(t *testing.T) {
	started := make(chan struct{})
	h := startHarness(t, func(r *fakeResource) {
		r.initFn = func(ctx context.Context, emit func(int)) (int, error) {
			close(started)
			<-ctx.Done()
			return 0, ctx.Err()
		}
	})
	<-started

	h.poller.Close()
	<-h.poller.Done()
	assert.NoError(t, h.target.Err())
	assert.Empty(t, h.reporter.errors())
}
