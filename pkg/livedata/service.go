package livedata

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/walletsync/walletsync-go/pkg/clock"
	"github.com/walletsync/walletsync-go/pkg/connection"
	"github.com/walletsync/walletsync-go/pkg/dedup"
	"github.com/walletsync/walletsync-go/pkg/eventstream"
	"github.com/walletsync/walletsync-go/pkg/fetchqueue"
	"github.com/walletsync/walletsync-go/pkg/horizon"
	"github.com/walletsync/walletsync-go/pkg/log"
	"github.com/walletsync/walletsync-go/pkg/metrics"
	"github.com/walletsync/walletsync-go/pkg/multisig"
	"github.com/walletsync/walletsync-go/pkg/poller"
	"github.com/walletsync/walletsync-go/pkg/subscription"
	"github.com/walletsync/walletsync-go/pkg/syncerr"
)

// Default list sizes.
const (
	DefaultEffectsLimit      = 50
	DefaultTransactionsLimit = 20
	DefaultOffersLimit       = 200
	DefaultOrderbookLimit    = 20
)

// Resource kinds used in cache keys, metrics and capture events.
const (
	KindAccount           = "account"
	KindEffects           = "effects"
	KindOrders            = "orders"
	KindOrderbook         = "orderbook"
	KindTransactions      = "transactions"
	KindSignatureRequests = "signature-requests"
)

// Timing holds the timing knobs of all subscriptions. Zero values use the
// package defaults of the component that owns the knob.
type Timing struct {
	ErrorThrottle        time.Duration
	Watchdog             time.Duration
	FallbackPoll         time.Duration
	ReconnectDelay       time.Duration
	StaleRetryInitial    time.Duration
	StaleRetryAttempts   int
	ActivationInitial    time.Duration
	ActivationMax        time.Duration
	ActivationMultiplier float64
}

// Config configures a Service.
type Config struct {
	// HTTPClient performs REST fetches. Use a fetchqueue client to bound
	// concurrency. Nil uses a plain client.
	HTTPClient *http.Client

	// Dialer opens push streams. It must not share the REST client's
	// concurrency limit. Nil uses eventstream.NewAutoDialer().
	Dialer eventstream.Dialer

	// Monitor pauses streams and retries while offline. Nil means always
	// online.
	Monitor eventstream.Monitor

	// Reporter receives connection-health signals. Nil creates one using
	// Timing.ErrorThrottle.
	Reporter *syncerr.Reporter

	Timing Timing

	EffectsLimit      int
	TransactionsLimit int

	Clock          clock.Clock
	Logger         *slog.Logger
	ProtocolLogger log.Logger
	Metrics        *metrics.Metrics
}

// Service hands out shared live targets.
type Service struct {
	cfg      Config
	clock    clock.Clock
	logger   *slog.Logger
	reporter *syncerr.Reporter
	registry *subscription.Registry

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	horizons  map[string]*horizon.Client
	multisigs map[string]*multisig.Client
}

// New creates a Service.
func New(cfg Config) *Service {
	if cfg.Dialer == nil {
		cfg.Dialer = eventstream.NewAutoDialer()
	}
	if cfg.EffectsLimit <= 0 {
		cfg.EffectsLimit = DefaultEffectsLimit
	}
	if cfg.TransactionsLimit <= 0 {
		cfg.TransactionsLimit = DefaultTransactionsLimit
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	clk := clock.OrReal(cfg.Clock)
	reporter := cfg.Reporter
	if reporter == nil {
		reporter = syncerr.NewReporter(syncerr.ReporterConfig{
			Window:  cfg.Timing.ErrorThrottle,
			OnEvent: healthMetrics(cfg.Metrics),
			Clock:   clk,
			Logger:  logger,
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		cfg:       cfg,
		clock:     clk,
		logger:    logger,
		reporter:  reporter,
		registry:  subscription.NewRegistry(subscription.RegistryOptions{Logger: logger, Metrics: cfg.Metrics}),
		ctx:       ctx,
		cancel:    cancel,
		horizons:  make(map[string]*horizon.Client),
		multisigs: make(map[string]*multisig.Client),
	}
}

// Errors returns the throttled connection-health events.
func (s *Service) Errors() <-chan syncerr.HealthEvent {
	return s.reporter.Events()
}

// Reporter returns the health reporter.
func (s *Service) Reporter() *syncerr.Reporter {
	return s.reporter
}

// ResetAllSubscriptions closes every live target. Use it after the selected
// endpoint changed; callers then subscribe again.
func (s *Service) ResetAllSubscriptions() {
	s.logger.Info("resetting all subscriptions", "targets", s.registry.Len())
	s.registry.InvalidateAll()
}

// Shutdown closes every target and refuses new subscriptions. Later
// Subscribe calls return closed targets.
func (s *Service) Shutdown() {
	s.registry.Shutdown()
	s.cancel()
}

// Keys lists the cache keys of live targets.
func (s *Service) Keys() []string {
	return s.registry.Keys()
}

func (s *Service) horizonClient(endpoint string) *horizon.Client {
	endpoint = strings.TrimRight(endpoint, "/")
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.horizons[endpoint]
	if !ok {
		c = horizon.NewClient(horizon.ClientConfig{
			URL:        endpoint,
			HTTPClient: s.cfg.HTTPClient,
			Logger:     s.logger,
		})
		s.horizons[endpoint] = c
	}
	return c
}

func (s *Service) multisigClient(endpoint string) *multisig.Client {
	endpoint = strings.TrimRight(endpoint, "/")
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.multisigs[endpoint]
	if !ok {
		c = multisig.NewClient(multisig.ClientConfig{
			URL:        endpoint,
			HTTPClient: s.cfg.HTTPClient,
			Logger:     s.logger,
		})
		s.multisigs[endpoint] = c
	}
	return c
}

// start creates a target for key and runs a poller for it.
func start[V, U any](s *Service, key, service, kind string, initial V, res poller.Resource[V, U]) *subscription.Target[V] {
	return subscription.GetOrCreate(s.registry, key, func() *subscription.Target[V] {
		target := subscription.NewTarget(initial)

		var online connection.OnlineWaiter
		if s.cfg.Monitor != nil {
			online = s.cfg.Monitor
		}
		poller.Start(s.ctx, target, res, poller.Options{
			Service:            service,
			Resource:           kind,
			Key:                key,
			FallbackPoll:       s.cfg.Timing.FallbackPoll,
			StaleRetryInitial:  s.cfg.Timing.StaleRetryInitial,
			StaleRetryAttempts: s.cfg.Timing.StaleRetryAttempts,
			ReconnectDelay:     s.cfg.Timing.ReconnectDelay,
			Online:             online,
			Priority:           fetchPriority,
			Reporter:           s.reporter,
			Clock:              s.clock,
			Logger:             s.logger,
			ProtocolLogger:     s.cfg.ProtocolLogger,
			Metrics:            s.cfg.Metrics,
		})
		s.logger.Debug("subscription created", "key", key, "target", target.ID())
		return target
	})
}

// stream opens a deduplicated push stream. handle runs on the stream
// goroutine and never sees handshakes.
func (s *Service) stream(ctx context.Context, service, key string, createURL func() string, handle func(eventstream.Message)) (stop func()) {
	return eventstream.Subscribe(ctx, eventstream.Options{
		Service:        service,
		Key:            key,
		CreateURL:      createURL,
		Dialer:         s.cfg.Dialer,
		Monitor:        s.cfg.Monitor,
		OnMessage:      dedupMessages(handle),
		OnError:        func(err error) { s.reporter.Report(service, err) },
		Watchdog:       s.cfg.Timing.Watchdog,
		ReconnectDelay: s.cfg.Timing.ReconnectDelay,
		Clock:          s.clock,
		Logger:         s.logger,
		ProtocolLogger: s.cfg.ProtocolLogger,
		Metrics:        s.cfg.Metrics,
	})
}

// dedupMessages drops handshakes and consecutive duplicate records.
// Handshakes feed the watchdog only and never reach the deduplicator, so a
// record replayed after a reconnect is still recognised.
func dedupMessages(handle func(eventstream.Message)) func(eventstream.Message) {
	d := dedup.New(handle)
	return func(m eventstream.Message) {
		if m.IsHandshake() {
			return
		}
		d.Handle(m)
	}
}

// fetchPriority queues initial loads ahead of push confirmations, and both
// ahead of fallback polls and stale retries.
func fetchPriority(ctx context.Context, source log.UpdateSource) context.Context {
	switch source {
	case log.UpdateSourceInit:
		return fetchqueue.WithPriority(ctx, fetchqueue.PriorityHigh)
	case log.UpdateSourcePush:
		return fetchqueue.WithPriority(ctx, fetchqueue.PriorityNormal)
	default:
		return fetchqueue.WithPriority(ctx, fetchqueue.PriorityBackground)
	}
}

func healthMetrics(m *metrics.Metrics) func(syncerr.HealthEvent) {
	return func(ev syncerr.HealthEvent) {
		kind := "error"
		switch {
		case ev.Cleared:
			kind = "cleared"
		case ev.Unexpected:
			kind = "unexpected"
		}
		m.HealthEvent(ev.Service, kind)
	}
}

// notYetPresent reports whether err means the resource does not exist yet.
func notYetPresent(err error) bool {
	return errors.Is(err, syncerr.ErrNotYetPresent)
}
