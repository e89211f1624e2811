package poller

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/walletsync/walletsync-go/pkg/clock"
	"github.com/walletsync/walletsync-go/pkg/connection"
	"github.com/walletsync/walletsync-go/pkg/log"
	"github.com/walletsync/walletsync-go/pkg/metrics"
	"github.com/walletsync/walletsync-go/pkg/subscription"
	"github.com/walletsync/walletsync-go/pkg/syncerr"
)

// DefaultFallbackPoll is the silence after which the poller fetches without
// a push.
const DefaultFallbackPoll = 60 * time.Second

// Resource supplies the resource-specific operations of a poller. All
// methods are called from the poller goroutine except the callbacks handed
// to SubscribeToUpdates, which may be called from any goroutine.
type Resource[V, U any] interface {
	// Init produces the first value. It may emit interim values and block,
	// for example while waiting for an account to be created.
	Init(ctx context.Context, emit func(V)) (V, error)

	// SubscribeToUpdates starts the push source. push delivers hints; fail
	// delivers errors that are not handled by the source itself, such as
	// ErrResourceGone. The returned function stops the source.
	SubscribeToUpdates(ctx context.Context, push func(U), fail func(error)) (stop func())

	// FetchUpdate fetches the authoritative update. hint is the latest
	// pushed update, or nil for polls. ok is false when there is nothing to
	// apply yet.
	FetchUpdate(ctx context.Context, hint *U) (u U, ok bool, err error)

	// ShouldApplyUpdate reports whether u is newer than what was applied.
	ShouldApplyUpdate(u U) bool

	// ApplyUpdate merges u into the visible value.
	ApplyUpdate(u U) V
}

// Reporter receives connection-health signals. *syncerr.Reporter satisfies
// it.
type Reporter interface {
	Report(service string, err error) bool
	Clear(service string) bool
}

// Options configures a Poller.
type Options struct {
	// Service names the remote service for health reporting.
	Service string

	// Resource names the resource kind in metrics and logs.
	Resource string

	// Key identifies the subscription in capture events.
	Key string

	// FallbackPoll defaults to DefaultFallbackPoll.
	FallbackPoll time.Duration

	// StaleRetryInitial and StaleRetryAttempts shape the retry schedule
	// after an empty or stale push fetch. Defaults:
	// connection.StaleRetryInitial and connection.StaleRetryMaxAttempts.
	StaleRetryInitial  time.Duration
	StaleRetryAttempts int

	// ReconnectDelay spaces retries after connection errors.
	ReconnectDelay time.Duration

	// Online pauses retries while offline. Nil means always online.
	Online connection.OnlineWaiter

	// Priority derives the context of one Init or FetchUpdate call from
	// what triggered it, typically to tag the request for a fetch queue.
	// Nil uses the poller context as is.
	Priority func(ctx context.Context, source log.UpdateSource) context.Context

	Reporter       Reporter
	Clock          clock.Clock
	Logger         *slog.Logger
	ProtocolLogger log.Logger
	Metrics        *metrics.Metrics
}

// Poller drives one Target.
type Poller[V, U any] struct {
	target *subscription.Target[V]
	res    Resource[V, U]
	opts   Options

	clock    clock.Clock
	logger   *slog.Logger
	plog     log.Logger
	reporter Reporter
	delay    *connection.Delay
	stale    *connection.Backoff

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	state   connection.State
	pending *U
	fails   []error

	pushSig  chan struct{}
	failSig  chan struct{}
	pollSig  chan struct{}
	retrySig chan struct{}

	// Owned by the run goroutine.
	fallback  *clock.Timer
	retry     *clock.Timer
	retryHint *U
	retryGen  atomic.Uint64
}

// Start runs a poller for target in the background. The poller stops when
// target is closed or ctx is cancelled; in the latter case it closes target.
func Start[V, U any](ctx context.Context, target *subscription.Target[V], res Resource[V, U], opts Options) *Poller[V, U] {
	if opts.FallbackPoll <= 0 {
		opts.FallbackPoll = DefaultFallbackPoll
	}
	if opts.StaleRetryAttempts <= 0 {
		opts.StaleRetryAttempts = connection.StaleRetryMaxAttempts
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	reporter := opts.Reporter
	if reporter == nil {
		reporter = noopReporter{}
	}
	clk := clock.OrReal(opts.Clock)

	pctx, cancel := context.WithCancel(ctx)
	p := &Poller[V, U]{
		target:   target,
		res:      res,
		opts:     opts,
		clock:    clk,
		logger:   logger.With("resource", opts.Resource, "key", opts.Key),
		plog:     log.OrNoop(opts.ProtocolLogger),
		reporter: reporter,
		delay:    connection.NewDelay(opts.ReconnectDelay, opts.Online, clk),
		stale:    connection.StaleRetryBackoff(opts.StaleRetryInitial),
		ctx:      pctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		pushSig:  make(chan struct{}, 1),
		failSig:  make(chan struct{}, 1),
		pollSig:  make(chan struct{}, 1),
		retrySig: make(chan struct{}, 1),
	}

	go func() {
		select {
		case <-target.Done():
			cancel()
		case <-pctx.Done():
		}
	}()
	go p.run()
	return p
}

// Close closes the target, which stops the poller.
func (p *Poller[V, U]) Close() {
	p.target.Close()
	p.cancel()
}

// Done is closed once the poller goroutine exited.
func (p *Poller[V, U]) Done() <-chan struct{} {
	return p.done
}

// State returns the lifecycle state.
func (p *Poller[V, U]) State() connection.State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Poller[V, U]) run() {
	defer close(p.done)
	defer p.finish()

	p.setState(connection.StateInitializing, "start")
	if !p.init() {
		return
	}

	stop := p.res.SubscribeToUpdates(p.ctx, p.push, p.fail)
	defer stop()

	p.fallback = p.clock.AfterFunc(p.opts.FallbackPoll, func() { signal(p.pollSig) })
	defer p.fallback.Stop()
	defer p.cancelRetry()

	for {
		select {
		case <-p.ctx.Done():
			return

		case <-p.pushSig:
			hint := p.takePending()
			if hint == nil {
				continue
			}
			p.cancelRetry()
			p.stale.Reset()
			if !p.fetch(log.UpdateSourcePush, hint) {
				return
			}

		case <-p.retrySig:
			if p.retryHint == nil {
				continue
			}
			if !p.fetch(log.UpdateSourceRetry, p.retryHint) {
				return
			}

		case <-p.pollSig:
			if !p.fetch(log.UpdateSourcePoll, nil) {
				return
			}
			p.resetFallback()

		case <-p.failSig:
			for _, err := range p.takeFails() {
				if !p.handleError(err) {
					return
				}
			}
		}
	}
}

func (p *Poller[V, U]) init() bool {
	emit := func(v V) { p.target.Propagate(v) }

	for {
		p.delay.MarkAttempt()
		start := p.clock.Now()
		v, err := p.res.Init(p.sourceContext(log.UpdateSourceInit), emit)
		if err == nil {
			p.target.Propagate(v)
			p.reporter.Clear(p.opts.Service)
			p.setState(connection.StateActive, "initialized")
			p.record(log.UpdateSourceInit, log.UpdateApplied, 0, p.clock.Now().Sub(start))
			return true
		}
		if !p.retryable(err) {
			return p.handleError(err)
		}
		p.setState(connection.StateReconnecting, "init failed")
		if p.delay.Wait(p.ctx) != nil {
			return false
		}
	}
}

// fetch runs one fetch cycle. It returns false when the poller must stop.
func (p *Poller[V, U]) fetch(source log.UpdateSource, hint *U) bool {
	for {
		p.delay.MarkAttempt()
		start := p.clock.Now()
		u, ok, err := p.res.FetchUpdate(p.sourceContext(source), hint)
		elapsed := p.clock.Now().Sub(start)
		p.opts.Metrics.FetchDuration(p.opts.Resource, elapsed)

		if err != nil && syncerr.Classify(err) != syncerr.KindNotYetPresent {
			if !p.retryable(err) {
				return p.handleError(err)
			}
			p.setState(connection.StateReconnecting, "fetch failed")
			if p.delay.Wait(p.ctx) != nil {
				return false
			}
			if newer := p.takePending(); newer != nil {
				hint = newer
				source = log.UpdateSourcePush
				p.cancelRetry()
				p.stale.Reset()
			}
			continue
		}
		p.setState(connection.StateActive, "fetched")

		outcome := log.UpdateApplied
		switch {
		case err != nil || !ok:
			outcome = log.UpdateEmpty
		case !p.res.ShouldApplyUpdate(u):
			outcome = log.UpdateStale
		}

		attempt := 0
		if source == log.UpdateSourceRetry {
			attempt = p.stale.Attempts()
		}
		p.record(source, outcome, attempt, elapsed)

		if outcome == log.UpdateApplied {
			v := p.res.ApplyUpdate(u)
			p.resetFallback()
			p.cancelRetry()
			p.stale.Reset()
			p.target.Propagate(v)
			p.reporter.Clear(p.opts.Service)
			return true
		}

		if source != log.UpdateSourcePoll {
			p.scheduleRetry(hint)
		}
		return true
	}
}

// retryable reports whether err should be retried after the reconnect
// delay. Connection errors are reported on the way.
func (p *Poller[V, U]) retryable(err error) bool {
	switch syncerr.Classify(err) {
	case syncerr.KindConnection:
		p.report(err)
		return true
	case syncerr.KindNotYetPresent:
		return true
	case syncerr.KindCancelled:
		if p.ctx.Err() != nil {
			return false
		}
		p.report(syncerr.NewConnectionError(p.opts.Service, p.opts.Resource, err))
		return true
	default:
		return false
	}
}

// handleError deals with errors that are not retried here. It returns
// false when the poller must stop.
func (p *Poller[V, U]) handleError(err error) bool {
	switch syncerr.Classify(err) {
	case syncerr.KindGone:
		p.logger.Info("resource gone, closing subscription", "error", err)
		p.target.Close()
		return false
	case syncerr.KindCancelled:
		return p.ctx.Err() == nil
	case syncerr.KindConnection:
		p.report(err)
		return true
	case syncerr.KindNotYetPresent:
		return true
	default:
		p.logger.Error("unexpected error, closing subscription", "error", err)
		p.report(err)
		p.target.CloseWithError(err)
		return false
	}
}

func (p *Poller[V, U]) report(err error) {
	p.logger.Debug("update error", "error", err)
	p.capture(log.Event{
		Layer:    log.LayerPoller,
		Category: log.CategoryError,
		Error: &log.ErrorEventData{
			Layer:   log.LayerPoller,
			Message: err.Error(),
			Kind:    syncerr.Classify(err).String(),
		},
	})
	p.reporter.Report(p.opts.Service, err)
}

func (p *Poller[V, U]) scheduleRetry(hint *U) {
	if p.stale.Attempts() >= p.opts.StaleRetryAttempts {
		p.logger.Debug("update still not visible, giving up", "attempts", p.stale.Attempts())
		p.cancelRetry()
		p.stale.Reset()
		return
	}
	d := p.stale.Next()
	p.retry.Stop()
	p.retryHint = hint
	gen := p.retryGen.Add(1)
	p.retry = p.clock.AfterFunc(d, func() {
		if p.retryGen.Load() == gen {
			signal(p.retrySig)
		}
	})
}

// resetFallback restarts the fallback timer and drops a poll that fired
// while a fetch was running.
func (p *Poller[V, U]) resetFallback() {
	p.fallback.Reset(p.opts.FallbackPoll)
	select {
	case <-p.pollSig:
	default:
	}
}

func (p *Poller[V, U]) sourceContext(source log.UpdateSource) context.Context {
	if p.opts.Priority == nil {
		return p.ctx
	}
	return p.opts.Priority(p.ctx, source)
}

func (p *Poller[V, U]) cancelRetry() {
	p.retryGen.Add(1)
	p.retry.Stop()
	p.retry = nil
	p.retryHint = nil
	select {
	case <-p.retrySig:
	default:
	}
}

func (p *Poller[V, U]) push(u U) {
	p.mu.Lock()
	p.pending = &u
	p.mu.Unlock()
	signal(p.pushSig)
}

func (p *Poller[V, U]) takePending() *U {
	p.mu.Lock()
	defer p.mu.Unlock()
	hint := p.pending
	p.pending = nil
	return hint
}

func (p *Poller[V, U]) fail(err error) {
	p.mu.Lock()
	p.fails = append(p.fails, err)
	p.mu.Unlock()
	signal(p.failSig)
}

func (p *Poller[V, U]) takeFails() []error {
	p.mu.Lock()
	defer p.mu.Unlock()
	fails := p.fails
	p.fails = nil
	return fails
}

func (p *Poller[V, U]) finish() {
	p.cancel()
	if !p.target.Closed() {
		p.target.Close()
	}
	p.setState(connection.StateClosed, "stopped")
}

func (p *Poller[V, U]) setState(state connection.State, reason string) {
	p.mu.Lock()
	old := p.state
	if old == state || old == connection.StateClosed {
		p.mu.Unlock()
		return
	}
	p.state = state
	p.mu.Unlock()

	p.logger.Debug("poller state", "from", old, "to", state, "reason", reason)
	p.capture(log.Event{
		Layer:    log.LayerPoller,
		Category: log.CategoryState,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityPoller,
			OldState: old.String(),
			NewState: state.String(),
			Reason:   reason,
		},
	})
}

func (p *Poller[V, U]) record(source log.UpdateSource, outcome log.UpdateOutcome, attempt int, elapsed time.Duration) {
	p.opts.Metrics.PollerUpdate(p.opts.Resource, strings.ToLower(source.String()), strings.ToLower(outcome.String()))
	p.capture(log.Event{
		Direction: log.DirectionIn,
		Layer:     log.LayerPoller,
		Category:  log.CategoryMessage,
		Update: &log.UpdateEvent{
			Source:   source,
			Outcome:  outcome,
			Attempt:  attempt,
			Duration: &elapsed,
		},
	})
}

func (p *Poller[V, U]) capture(event log.Event) {
	event.Timestamp = p.clock.Now()
	event.ConnectionID = p.target.ID().String()
	event.Service = p.opts.Service
	event.Key = p.opts.Key
	p.plog.Log(event)
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

type noopReporter struct{}

func (noopReporter) Report(string, error) bool { return false }
func (noopReporter) Clear(string) bool { return false }
