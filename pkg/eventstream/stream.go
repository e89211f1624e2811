package eventstream

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/walletsync/walletsync-go/pkg/clock"
	"github.com/walletsync/walletsync-go/pkg/connection"
	"github.com/walletsync/walletsync-go/pkg/log"
	"github.com/walletsync/walletsync-go/pkg/metrics"
	"github.com/walletsync/walletsync-go/pkg/netstate"
	"github.com/walletsync/walletsync-go/pkg/syncerr"
)

// DefaultWatchdog is how long a connection may stay silent before it is
// considered dead.
const DefaultWatchdog = 15000 * time.Millisecond

// Monitor is the network state source. *netstate.Monitor satisfies it.
type Monitor interface {
	Online() bool
	WaitOnline(ctx context.Context) error
	Subscribe(l netstate.Listener) (unsubscribe func())
}

// Options configures a Stream.
type Options struct {
	// Service names the remote service in errors, logs and metrics.
	Service string

	// Key identifies the subscription in capture events.
	Key string

	// CreateURL returns the URL to dial. It is called before every dial.
	CreateURL func() string

	// Dialer opens connections. Nil uses NewAutoDialer().
	Dialer Dialer

	// Monitor pauses the stream while offline. Nil means always online.
	Monitor Monitor

	// OnMessage receives every message, handshakes included, from a single
	// goroutine.
	OnMessage func(Message)

	// OnError receives dial and stream failures as *syncerr.ConnectionError.
	OnError func(error)

	// Watchdog is the silence window. Default DefaultWatchdog.
	Watchdog time.Duration

	// ReconnectDelay is the minimum spacing of attempts after an error.
	// Default connection.DefaultReconnectDelay.
	ReconnectDelay time.Duration

	Clock          clock.Clock
	Logger         *slog.Logger
	ProtocolLogger log.Logger
	Metrics        *metrics.Metrics
}

type teardown uint8

const (
	teardownClosed teardown = iota
	teardownWatchdog
	teardownError
	teardownOffline
)

func (t teardown) String() string {
	switch t {
	case teardownClosed:
		return "closed"
	case teardownWatchdog:
		return "watchdog"
	case teardownError:
		return "error"
	case teardownOffline:
		return "offline"
	default:
		return "unknown"
	}
}

// Stream is a self-healing push connection.
type Stream struct {
	opts   Options
	clock  clock.Clock
	logger *slog.Logger
	plog   log.Logger
	delay  *connection.Delay

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	state  connection.State
	connID string
	dials  int

	offline        chan struct{}
	unsubscribeNet func()
	closeOnce      sync.Once
}

// Subscribe starts a Stream and returns its Close function.
func Subscribe(ctx context.Context, opts Options) (unsubscribe func()) {
	return Start(ctx, opts).Close
}

// Start dials in the background and keeps the stream alive until Close is
// called or ctx is cancelled.
func Start(ctx context.Context, opts Options) *Stream {
	if opts.Watchdog <= 0 {
		opts.Watchdog = DefaultWatchdog
	}
	if opts.Dialer == nil {
		opts.Dialer = NewAutoDialer()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	clk := clock.OrReal(opts.Clock)

	var online connection.OnlineWaiter
	if opts.Monitor != nil {
		online = opts.Monitor
	}

	sctx, cancel := context.WithCancel(ctx)
	s := &Stream{
		opts:    opts,
		clock:   clk,
		logger:  logger.With("service", opts.Service),
		plog:    log.OrNoop(opts.ProtocolLogger),
		delay:   connection.NewDelay(opts.ReconnectDelay, online, clk),
		ctx:     sctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		offline: make(chan struct{}, 1),
	}

	if opts.Monitor != nil {
		s.unsubscribeNet = opts.Monitor.Subscribe(func(online bool) {
			if online {
				return
			}
			select {
			case s.offline <- struct{}{}:
			default:
			}
		})
	}

	go s.run()
	return s
}

// Close tears the connection down and stops all timers. It does not wait
// for the background goroutine; use Done for that. Close is idempotent.
func (s *Stream) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		if s.unsubscribeNet != nil {
			s.unsubscribeNet()
		}
	})
}

// Done is closed once the stream stopped for good.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// State returns the current lifecycle state.
func (s *Stream) State() connection.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ConnectionID returns the id of the current or last connection.
func (s *Stream) ConnectionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connID
}

// Dials returns the number of connection attempts so far.
func (s *Stream) Dials() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dials
}

func (s *Stream) run() {
	defer close(s.done)
	defer s.setState(connection.StateClosed, "closed")

	for {
		if s.ctx.Err() != nil {
			return
		}
		if !s.online() {
			s.setState(connection.StatePaused, "offline")
			if err := s.opts.Monitor.WaitOnline(s.ctx); err != nil {
				return
			}
		}
		s.drainOffline()

		reason, err := s.connectAndServe()
		if s.ctx.Err() != nil {
			return
		}

		switch reason {
		case teardownWatchdog:
			s.opts.Metrics.StreamReconnect(s.opts.Service, reason.String())
			s.setState(connection.StateReconnecting, reason.String())
		case teardownOffline:
			s.opts.Metrics.StreamReconnect(s.opts.Service, reason.String())
		case teardownError:
			s.opts.Metrics.StreamReconnect(s.opts.Service, reason.String())
			s.setState(connection.StateReconnecting, reason.String())
			s.reportError(err)
			if err := s.delay.Wait(s.ctx); err != nil {
				return
			}
		}
	}
}

// connectAndServe dials once and pumps messages until the connection has
// to be torn down.
func (s *Stream) connectAndServe() (teardown, error) {
	s.delay.MarkAttempt()
	url := s.opts.CreateURL()
	connID := uuid.NewString()

	s.mu.Lock()
	s.connID = connID
	s.dials++
	first := s.state == connection.StateUninitialized
	s.mu.Unlock()
	if first {
		s.setState(connection.StateInitializing, "dial")
	}

	s.capture(log.Event{
		ConnectionID: connID,
		Direction:    log.DirectionOut,
		Layer:        log.LayerTransport,
		Category:     log.CategoryControl,
		URL:          url,
		Control:      &log.ControlEvent{Type: log.ControlDial},
	})

	connCtx, cancelConn := context.WithCancel(s.ctx)
	defer cancelConn()

	// A server that never answers the dial is treated like a silent one.
	var dialed, dialTimedOut atomic.Bool
	dialTimer := s.clock.AfterFunc(s.opts.Watchdog, func() {
		if !dialed.Load() {
			dialTimedOut.Store(true)
			cancelConn()
		}
	})
	conn, err := s.opts.Dialer.Dial(connCtx, url)
	dialed.Store(true)
	dialTimer.Stop()

	if err != nil {
		s.opts.Metrics.StreamDial(s.opts.Service, "error")
		if dialTimedOut.Load() && s.ctx.Err() == nil {
			s.logger.Debug("dial timed out", "url", url)
			return teardownWatchdog, nil
		}
		return teardownError, err
	}
	s.opts.Metrics.StreamDial(s.opts.Service, "ok")
	s.opts.Metrics.StreamConnected(s.opts.Service, 1)
	defer s.opts.Metrics.StreamConnected(s.opts.Service, -1)

	msgs := make(chan Message)
	errs := make(chan error, 1)
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		for {
			m, err := conn.Recv()
			if err != nil {
				errs <- err
				return
			}
			select {
			case msgs <- m:
			case <-connCtx.Done():
				return
			}
		}
	}()

	reason := teardownClosed
	defer func() {
		cancelConn()
		conn.Close()
		<-readerDone
		s.capture(log.Event{
			ConnectionID: connID,
			Layer:        log.LayerTransport,
			Category:     log.CategoryControl,
			Control:      &log.ControlEvent{Type: log.ControlClose, Reason: reason.String()},
		})
	}()

	s.setState(connection.StateActive, "connected")
	s.logger.Debug("stream connected", "url", url, "conn_id", connID)
	s.capture(log.Event{
		ConnectionID: connID,
		Direction:    log.DirectionIn,
		Layer:        log.LayerTransport,
		Category:     log.CategoryControl,
		URL:          url,
		Control:      &log.ControlEvent{Type: log.ControlOpen},
	})

	wd := newWatchdog(s.clock, s.opts.Watchdog)
	defer wd.stop()

	for {
		select {
		case <-s.ctx.Done():
			return reason, nil

		case m := <-msgs:
			wd.reset()
			s.deliver(connID, m)

		case err := <-errs:
			if s.ctx.Err() != nil {
				return reason, nil
			}
			reason = teardownError
			return reason, err

		case <-wd.fired:
			reason = teardownWatchdog
			s.logger.Debug("watchdog expired", "conn_id", connID, "window", s.opts.Watchdog)
			s.capture(log.Event{
				ConnectionID: connID,
				Layer:        log.LayerTransport,
				Category:     log.CategoryControl,
				Control:      &log.ControlEvent{Type: log.ControlWatchdog},
			})
			return reason, nil

		case <-s.offline:
			if s.online() {
				continue
			}
			reason = teardownOffline
			s.logger.Debug("device offline, closing stream", "conn_id", connID)
			return reason, nil
		}
	}
}

func (s *Stream) deliver(connID string, m Message) {
	s.opts.Metrics.StreamMessage(s.opts.Service)
	s.capture(log.Event{
		ConnectionID: connID,
		Direction:    log.DirectionIn,
		Layer:        log.LayerStream,
		Category:     log.CategoryMessage,
		Message:      log.NewMessageEvent(m.Event, m.ID, m.Data),
	})
	if s.ctx.Err() != nil || s.opts.OnMessage == nil {
		return
	}
	s.opts.OnMessage(m)
}

func (s *Stream) reportError(err error) {
	var connErr *syncerr.ConnectionError
	if !errors.As(err, &connErr) {
		err = syncerr.NewConnectionError(s.opts.Service, "stream", err)
	}
	s.logger.Debug("stream error", "error", err)

	kind := syncerr.Classify(err).String()
	event := log.Event{
		ConnectionID: s.ConnectionID(),
		Layer:        log.LayerTransport,
		Category:     log.CategoryError,
		Error:        &log.ErrorEventData{Layer: log.LayerTransport, Message: err.Error(), Kind: kind},
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		code := statusErr.Code
		event.Error.StatusCode = &code
	}
	s.capture(event)

	if s.opts.OnError != nil {
		s.opts.OnError(err)
	}
}

func (s *Stream) online() bool {
	return s.opts.Monitor == nil || s.opts.Monitor.Online()
}

func (s *Stream) drainOffline() {
	select {
	case <-s.offline:
	default:
	}
}

func (s *Stream) setState(state connection.State, reason string) {
	s.mu.Lock()
	old := s.state
	if old == state || old == connection.StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = state
	connID := s.connID
	s.mu.Unlock()

	s.capture(log.Event{
		ConnectionID: connID,
		Layer:        log.LayerTransport,
		Category:     log.CategoryState,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityStream,
			OldState: old.String(),
			NewState: state.String(),
			Reason:   reason,
		},
	})
}

func (s *Stream) capture(event log.Event) {
	event.Timestamp = s.clock.Now()
	event.Service = s.opts.Service
	event.Key = s.opts.Key
	s.plog.Log(event)
}

// watchdog fires once per arming. Every reset arms a fresh timer with its
// own channel, so a timer that fired just before a reset is never observed.
type watchdog struct {
	clock  clock.Clock
	window time.Duration
	timer  *clock.Timer
	fired  chan struct{}
}

func newWatchdog(clk clock.Clock, window time.Duration) *watchdog {
	w := &watchdog{clock: clk, window: window}
	w.reset()
	return w
}

func (w *watchdog) reset() {
	w.timer.Stop()
	fired := make(chan struct{})
	w.fired = fired
	w.timer = w.clock.AfterFunc(w.window, func() { close(fired) })
}

func (w *watchdog) stop() {
	w.timer.Stop()
}
