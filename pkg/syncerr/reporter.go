package syncerr

import (
	"log/slog"
	"sync"
	"time"

	"github.com/walletsync/walletsync-go/pkg/clock"
)

// DefaultThrottleWindow is how close two connection errors for the same
// service must be for the second to be surfaced.
const DefaultThrottleWindow = 3000 * time.Millisecond

// DefaultHealthBuffer is the capacity of the Events channel.
const DefaultHealthBuffer = 64

// HealthEvent is one entry on the UI-facing connection-health channel.
type HealthEvent struct {
	// Service is the logical service the event concerns.
	Service string

	// Err is the surfaced error. Nil for a Cleared event.
	Err error

	// Cleared marks the recovery of a previously surfaced error.
	Cleared bool

	// Unexpected marks a non-retryable error surfaced without throttling.
	Unexpected bool

	Time time.Time
}

// ReporterConfig configures a Reporter.
type ReporterConfig struct {
	// Window is the throttle window.
	Window time.Duration

	// Buffer is the capacity of the Events channel.
	Buffer int

	// OnEvent is called synchronously for every emitted event, in addition
	// to the channel delivery.
	OnEvent func(HealthEvent)

	Clock  clock.Clock
	Logger *slog.Logger
}

// Reporter is the error-reporting channel injected into every subsystem.
// It is safe for concurrent use.
type Reporter struct {
	mu sync.Mutex

	window  time.Duration
	clock   clock.Clock
	logger  *slog.Logger
	onEvent func(HealthEvent)

	// lastError is the per-service time of the most recent connection error.
	lastError map[string]time.Time

	// surfaced holds services with an uncleared surfaced error.
	surfaced map[string]bool

	events chan HealthEvent
}

// NewReporter creates a Reporter.
func NewReporter(config ReporterConfig) *Reporter {
	if config.Window <= 0 {
		config.Window = DefaultThrottleWindow
	}
	if config.Buffer <= 0 {
		config.Buffer = DefaultHealthBuffer
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Reporter{
		window:    config.Window,
		clock:     clock.OrReal(config.Clock),
		logger:    logger,
		onEvent:   config.OnEvent,
		lastError: make(map[string]time.Time),
		surfaced:  make(map[string]bool),
		events:    make(chan HealthEvent, config.Buffer),
	}
}

// Events returns the health channel. Events are dropped when it is full.
func (r *Reporter) Events() <-chan HealthEvent {
	return r.events
}

// Report records err for service and applies the taxonomy: cancellations
// are ignored, unexpected errors are surfaced immediately and connection
// errors go through the throttle. It returns true if an event was emitted.
func (r *Reporter) Report(service string, err error) bool {
	switch Classify(err) {
	case KindNone, KindCancelled, KindNotYetPresent, KindGone:
		return false
	case KindUnexpected:
		r.logger.Error("unexpected error", "service", service, "error", err)
		r.emit(HealthEvent{Service: service, Err: err, Unexpected: true, Time: r.clock.Now()})
		return true
	}

	now := r.clock.Now()

	r.mu.Lock()
	last, seen := r.lastError[service]
	r.lastError[service] = now
	surface := seen && now.Sub(last) <= r.window
	if surface {
		r.surfaced[service] = true
	}
	r.mu.Unlock()

	if !surface {
		r.logger.Debug("swallowing isolated connection error", "service", service, "error", err)
		return false
	}
	r.logger.Warn("connection error", "service", service, "error", err)
	r.emit(HealthEvent{Service: service, Err: err, Time: now})
	return true
}

// Clear signals that service recovered. A Cleared event is emitted only if
// an error was surfaced for service since the last clear.
func (r *Reporter) Clear(service string) bool {
	r.mu.Lock()
	wasSurfaced := r.surfaced[service]
	delete(r.surfaced, service)
	r.mu.Unlock()

	if !wasSurfaced {
		return false
	}
	r.logger.Info("connection recovered", "service", service)
	r.emit(HealthEvent{Service: service, Cleared: true, Time: r.clock.Now()})
	return true
}

// Surfaced reports whether service currently has an uncleared error.
func (r *Reporter) Surfaced(service string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.surfaced[service]
}

func (r *Reporter) emit(ev HealthEvent) {
	if r.onEvent != nil {
		r.onEvent(ev)
	}
	select {
	case r.events <- ev:
	default:
		// full, drop
	}
}
