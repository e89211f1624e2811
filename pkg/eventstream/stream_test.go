package eventstream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/walletsync/walletsync-go/pkg/clock"
	"github.com/walletsync/walletsync-go/pkg/connection"
	"github.com/walletsync/walletsync-go/pkg/log"
	"github.com/walletsync/walletsync-go/pkg/netstate"
	"github.com/walletsync/walletsync-go/pkg/syncerr"
)

const testTimeout = 5 * time.Second

// sseClient is one accepted stream request on the test server.
type sseClient struct {
	cursor string
	send   chan string
	end    chan struct{}
	gone   chan struct{}
}

// Send writes one SSE frame to the client.
func (c *sseClient) Send(frame string) { c.send <- frame }

// End makes the server close the response.
func (c *sseClient) End() { close(c.end) }

type sseServer struct {
	*httptest.Server
	conns  chan *sseClient
	status atomic.Int32
}

func newSSEServer(t *testing.T) *sseServer {
	t.Helper()
	s := &sseServer{conns: make(chan *sseClient, 16)}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if code := s.status.Load(); code != 0 {
			http.Error(w, "unavailable", int(code))
			return
		}
		c := &sseClient{
			cursor: r.URL.Query().Get("cursor"),
			send:   make(chan string),
			end:    make(chan struct{}),
			gone:   make(chan struct{}),
		}
		defer close(c.gone)

		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		s.conns <- c

		for {
			select {
			case frame := <-c.send:
				fmt.Fprint(w, frame)
				w.(http.Flusher).Flush()
			case <-c.end:
				return
			case <-r.Context().Done():
				return
			}
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *sseServer) accept(t *testing.T) *sseClient {
	t.Helper()
	select {
	case c := <-s.conns:
		return c
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for a stream connection")
		return nil
	}
}

func (s *sseServer) expectNoConn(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case <-s.conns:
		t.Fatal("unexpected stream connection")
	case <-time.After(wait):
	}
}

const helloFrame = "retry: 1000\nevent: open\ndata: \"hello\"\n\n"

func recv[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for value")
		var zero T
		return zero
	}
}

func waitClosed(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(testTimeout):
		t.Fatalf("timed out waiting for %s", what)
	}
}

type collector struct {
	msgs chan Message
	errs chan error
}

func newCollector() *collector {
	return &collector{msgs: make(chan Message, 64), errs: make(chan error, 64)}
}

func (c *collector) options(url string) Options {
	return Options{
		Service:   "horizon",
		CreateURL: func() string { return url },
		OnMessage: func(m Message) { c.msgs <- m },
		OnError:   func(err error) { c.errs <- err },
	}
}

func TestStreamDeliversMessages(t *testing.T) {
	srv := newSSEServer(t)
	col := newCollector()

	s := Start(context.Background(), col.options(srv.URL))
	defer s.Close()

	c := srv.accept(t)
	c.Send(helloFrame)
	c.Send("id: 1\ndata: {\"n\":1}\n\n")
	c.Send("id: 2\ndata: {\"n\":2}\n\n")

	m := recv(t, col.msgs)
	assert.True(t, m.IsHandshake())
	assert.Equal(t, "1", recv(t, col.msgs).ID)
	assert.Equal(t, "2", recv(t, col.msgs).ID)
	assert.Equal(t, connection.StateActive, s.State())
	assert.NotEmpty(t, s.ConnectionID())
}

func TestStreamWatchdogRedialsImmediately(t *testing.T) {
	srv := newSSEServer(t)
	col := newCollector()
	fc := clock.Fake(time.Unix(0, 0))

	opts := col.options(srv.URL)
	opts.Clock = fc
	s := Start(context.Background(), opts)
	defer s.Close()

	first := srv.accept(t)
	first.Send(helloFrame)
	recv(t, col.msgs)
	firstID := s.ConnectionID()

	// Silent for less than the window: nothing happens.
	fc.Advance(DefaultWatchdog - time.Second)
	srv.expectNoConn(t, 50*time.Millisecond)

	fc.Advance(time.Second)
	second := srv.accept(t)
	waitClosed(t, first.gone, "first connection teardown")

	second.Send(helloFrame)
	recv(t, col.msgs)
	assert.NotEqual(t, firstID, s.ConnectionID())
	assert.Equal(t, 2, s.Dials())
	assert.Empty(t, col.errs, "watchdog expiry is not an error")
}

func TestStreamMessagesResetWatchdog(t *testing.T) {
	srv := newSSEServer(t)
	col := newCollector()
	fc := clock.Fake(time.Unix(0, 0))

	opts := col.options(srv.URL)
	opts.Clock = fc
	opts.Watchdog = 10 * time.Second
	s := Start(context.Background(), opts)
	defer s.Close()

	c := srv.accept(t)
	for i := 0; i < 3; i++ {
		fc.Advance(8 * time.Second)
		c.Send(fmt.Sprintf("id: %d\ndata: x\n\n", i))
		recv(t, col.msgs)
	}
	srv.expectNoConn(t, 50*time.Millisecond)
	assert.Equal(t, 1, s.Dials())
}

func TestStreamErrorReconnectsAfterDelay(t *testing.T) {
	srv := newSSEServer(t)
	col := newCollector()
	fc := clock.Fake(time.Unix(0, 0))

	opts := col.options(srv.URL)
	opts.Clock = fc
	s := Start(context.Background(), opts)
	defer s.Close()

	first := srv.accept(t)
	first.Send(helloFrame)
	recv(t, col.msgs)
	first.End()

	err := recv(t, col.errs)
	var connErr *syncerr.ConnectionError
	require.True(t, errors.As(err, &connErr), "error %v is not a ConnectionError", err)
	assert.Equal(t, "horizon", connErr.Service)
	assert.ErrorIs(t, err, ErrStreamClosed)

	// The retry waits for the remainder of the reconnect delay.
	fc.WaitForTimers(1)
	srv.expectNoConn(t, 50*time.Millisecond)
	assert.Equal(t, connection.StateReconnecting, s.State())

	fc.Advance(connection.DefaultReconnectDelay)
	srv.accept(t)
}

func TestStreamStatusError(t *testing.T) {
	srv := newSSEServer(t)
	srv.status.Store(http.StatusServiceUnavailable)
	col := newCollector()

	opts := col.options(srv.URL)
	opts.Clock = clock.Fake(time.Unix(0, 0))
	s := Start(context.Background(), opts)
	defer s.Close()

	err := recv(t, col.errs)
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusServiceUnavailable, statusErr.Code)
	assert.Equal(t, syncerr.KindConnection, syncerr.Classify(err))
}

func TestStreamOfflinePausesAndResumes(t *testing.T) {
	srv := newSSEServer(t)
	col := newCollector()
	monitor := netstate.NewMonitor()

	opts := col.options(srv.URL)
	opts.Monitor = monitor
	s := Start(context.Background(), opts)
	defer s.Close()

	first := srv.accept(t)
	first.Send(helloFrame)
	recv(t, col.msgs)

	monitor.SetOnline(false)
	waitClosed(t, first.gone, "teardown on offline")
	require.Eventually(t, func() bool { return s.State() == connection.StatePaused }, testTimeout, 5*time.Millisecond)
	srv.expectNoConn(t, 50*time.Millisecond)

	monitor.SetOnline(true)
	srv.accept(t)
	assert.Empty(t, col.errs, "going offline is not an error")
}

func TestStreamStartsPausedWhenOffline(t *testing.T) {
	srv := newSSEServer(t)
	col := newCollector()
	monitor := netstate.NewMonitor()
	monitor.SetOnline(false)

	opts := col.options(srv.URL)
	opts.Monitor = monitor
	s := Start(context.Background(), opts)
	defer s.Close()

	srv.expectNoConn(t, 50*time.Millisecond)
	assert.Equal(t, 0, s.Dials())

	monitor.SetOnline(true)
	srv.accept(t)
}

func TestStreamCreateURLPerDial(t *testing.T) {
	srv := newSSEServer(t)
	col := newCollector()
	fc := clock.Fake(time.Unix(0, 0))

	var cursor atomic.Int64
	opts := col.options("")
	opts.Clock = fc
	opts.CreateURL = func() string {
		return fmt.Sprintf("%s/effects?cursor=%d", srv.URL, cursor.Add(1))
	}
	s := Start(context.Background(), opts)
	defer s.Close()

	first := srv.accept(t)
	assert.Equal(t, "1", first.cursor)
	first.Send(helloFrame)
	recv(t, col.msgs)

	fc.Advance(DefaultWatchdog)
	second := srv.accept(t)
	assert.Equal(t, "2", second.cursor)
}

func TestStreamClose(t *testing.T) {
	srv := newSSEServer(t)
	col := newCollector()
	fc := clock.Fake(time.Unix(0, 0))

	opts := col.options(srv.URL)
	opts.Clock = fc
	unsubscribe := Subscribe(context.Background(), opts)

	c := srv.accept(t)
	unsubscribe()
	unsubscribe()

	waitClosed(t, c.gone, "teardown on unsubscribe")
	fc.Advance(time.Hour)
	srv.expectNoConn(t, 50*time.Millisecond)
	assert.Empty(t, col.errs)
}

func TestStreamDoneAndState(t *testing.T) {
	srv := newSSEServer(t)
	ctx, cancel := context.WithCancel(context.Background())

	s := Start(ctx, newCollector().options(srv.URL))
	srv.accept(t)
	cancel()

	waitClosed(t, s.Done(), "stream stop")
	assert.Equal(t, connection.StateClosed, s.State())
}

type recordingLogger struct {
	mu     sync.Mutex
	events []log.Event
}

func (r *recordingLogger) Log(e log.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingLogger) controls() []log.ControlType {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []log.ControlType
	for _, e := range r.events {
		if e.Control != nil {
			out = append(out, e.Control.Type)
		}
	}
	return out
}

func TestStreamCapturesLifecycle(t *testing.T) {
	srv := newSSEServer(t)
	col := newCollector()
	rec := &recordingLogger{}
	fc := clock.Fake(time.Unix(0, 0))

	opts := col.options(srv.URL)
	opts.Clock = fc
	opts.Key = "horizon|effects|GA"
	opts.ProtocolLogger = rec
	s := Start(context.Background(), opts)

	c := srv.accept(t)
	c.Send(helloFrame)
	recv(t, col.msgs)
	fc.Advance(DefaultWatchdog)
	srv.accept(t)

	s.Close()
	waitClosed(t, s.Done(), "stream stop")

	controls := rec.controls()
	require.GreaterOrEqual(t, len(controls), 5)
	assert.Equal(t, []log.ControlType{log.ControlDial, log.ControlOpen, log.ControlWatchdog, log.ControlClose, log.ControlDial}, controls[:5])

	rec.mu.Lock()
	defer rec.mu.Unlock()
	for _, e := range rec.events {
		assert.Equal(t, "horizon", e.Service)
		assert.Equal(t, "horizon|effects|GA", e.Key)
	}
}

func TestStreamWebSocket(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"request:added"}`))
		ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"request:updated"}`))
		ws.ReadMessage()
	}))
	defer srv.Close()

	col := newCollector()
	s := Start(context.Background(), col.options("ws"+strings.TrimPrefix(srv.URL, "http")))
	defer s.Close()

	assert.Equal(t, `{"type":"request:added"}`, string(recv(t, col.msgs).Data))
	m := recv(t, col.msgs)
	assert.Equal(t, DefaultEvent, m.Event)
	assert.Equal(t, `{"type":"request:updated"}`, string(m.Data))
}
