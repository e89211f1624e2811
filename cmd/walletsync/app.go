package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/walletsync/walletsync-go/cmd/walletsync/interactive"
	"github.com/walletsync/walletsync-go/pkg/config"
	"github.com/walletsync/walletsync-go/pkg/discovery"
	"github.com/walletsync/walletsync-go/pkg/endpoint"
	"github.com/walletsync/walletsync-go/pkg/eventstream"
	"github.com/walletsync/walletsync-go/pkg/fetchqueue"
	"github.com/walletsync/walletsync-go/pkg/horizon"
	"github.com/walletsync/walletsync-go/pkg/livedata"
	"github.com/walletsync/walletsync-go/pkg/log"
	"github.com/walletsync/walletsync-go/pkg/metrics"
	"github.com/walletsync/walletsync-go/pkg/multisig"
	"github.com/walletsync/walletsync-go/pkg/netstate"
)

// app wires every component together.
type app struct {
	cfg      config.Config
	logger   *slog.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	monitor  *netstate.Monitor
	queue    *fetchqueue.Queue
	browser  discovery.Browser
	selector *endpoint.Selector
	capture  *log.FileLogger
	svc      *livedata.Service

	metricsServer *http.Server
	stopMonitor   func()

	mu       sync.Mutex
	watching []string
}

func newApp(cfg config.Config, logger *slog.Logger) (*app, error) {
	a := &app{
		cfg:      cfg,
		logger:   logger,
		registry: prometheus.NewRegistry(),
		monitor:  netstate.NewMonitor(),
	}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = metrics.New(a.registry)
	a.queue = fetchqueue.NewWithConfig(fetchqueue.Config{Limit: cfg.FetchConcurrency, Metrics: a.metrics})

	var protocol log.Logger = log.NewSlogAdapter(logger).WithLevel(slog.LevelDebug)
	if cfg.Capture != "" {
		fl, err := log.NewFileLogger(cfg.Capture)
		if err != nil {
			return nil, fmt.Errorf("open capture file: %w", err)
		}
		a.capture = fl
		protocol = log.NewMultiLogger(fl, protocol)
		logger.Info("capturing stream protocol", "file", cfg.Capture)
	}

	selectorOpts := endpoint.Options{
		Client:   fetchqueue.NewClient(a.queue, nil),
		OnChange: a.endpointChanged,
		Logger:   logger,
		Metrics:  a.metrics,
	}
	if cfg.Discovery.Enabled {
		browserCfg := discovery.DefaultBrowserConfig()
		browserCfg.Interface = cfg.Discovery.Interface
		browserCfg.Network = cfg.Discovery.Network
		if cfg.Discovery.Timeout > 0 {
			browserCfg.BrowseTimeout = cfg.Discovery.Timeout.Std()
		}
		a.browser = discovery.NewMDNSBrowser(browserCfg, logger)
		selectorOpts.Candidates = a.browser.Candidates
	}
	a.selector = endpoint.NewSelector(selectorOpts)

	a.svc = livedata.New(livedata.Config{
		HTTPClient:        fetchqueue.NewClient(a.queue, nil),
		Dialer:            eventstream.NewAutoDialer(),
		Monitor:           a.monitor,
		Timing:            cfg.Timing.LiveData(),
		EffectsLimit:      cfg.EffectsLimit,
		TransactionsLimit: cfg.TransactionsLimit,
		Logger:            logger,
		ProtocolLogger:    protocol,
		Metrics:           a.metrics,
	})
	return a, nil
}

// Start selects endpoints and starts the background loops.
func (a *app) Start(ctx context.Context) error {
	selections, err := a.selector.SelectAll(ctx, a.cfg.Services()...)
	if err != nil {
		return fmt.Errorf("select endpoints: %w", err)
	}
	for _, sel := range selections {
		a.logger.Info("endpoint selected", "service", sel.Service, "url", sel.URL, "source", sel.Source)
	}

	if a.cfg.Probe.URL != "" {
		prober := netstate.NewProber(a.monitor, netstate.ProberConfig{
			URL:      a.cfg.Probe.URL,
			Interval: a.cfg.Probe.Interval.Std(),
			Timeout:  a.cfg.Probe.Timeout.Std(),
			Logger:   a.logger,
		})
		go prober.Run(ctx)
	}

	// Servers may have come back while we were offline.
	a.stopMonitor = a.monitor.Subscribe(func(online bool) {
		a.logger.Info("network state changed", "online", online)
		if online {
			go a.reselectAll(ctx)
		}
	})

	if a.cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
		a.metricsServer = &http.Server{Addr: a.cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := a.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("metrics server failed", "error", err)
			}
		}()
		a.logger.Info("serving metrics", "addr", a.cfg.MetricsAddr)
	}

	go a.healthLoop(ctx)
	return nil
}

// Close shuts every component down.
func (a *app) Close() {
	if a.stopMonitor != nil {
		a.stopMonitor()
	}
	a.svc.Shutdown()
	if a.browser != nil {
		a.browser.Stop()
	}
	if a.metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = a.metricsServer.Shutdown(ctx)
		cancel()
	}
	if a.capture != nil {
		written, dropped := a.capture.Stats()
		if err := a.capture.Close(); err != nil {
			a.logger.Warn("closing capture file failed", "error", err)
		}
		a.logger.Info("capture closed", "events", written, "dropped", dropped)
	}
}

// Env returns what the interactive shell needs.
func (a *app) Env() interactive.Env {
	return interactive.Env{
		Service:  a.svc,
		Selector: a.selector,
		Services: a.cfg.Services(),
		Monitor:  a.monitor,
		Queue:    a.queue,
		Accounts: a.cfg.Accounts,
	}
}

// WatchAccounts subscribes to the state and signature requests of accounts
// and logs every change. The subscriptions are renewed after an endpoint
// switch.
func (a *app) WatchAccounts(accounts []string) {
	if len(accounts) == 0 {
		a.logger.Warn("no accounts configured, nothing to watch")
		return
	}
	a.mu.Lock()
	a.watching = accounts
	a.mu.Unlock()
	a.subscribeWatched()
}

func (a *app) subscribeWatched() {
	a.mu.Lock()
	accounts := a.watching
	a.mu.Unlock()
	if len(accounts) == 0 {
		return
	}

	ledger := a.selector.URL(horizon.ServiceName)
	for _, id := range accounts {
		account := a.svc.SubscribeToAccount(ledger, id)
		account.Subscribe(func(s livedata.AccountState) {
			a.logger.Info("account", "id", s.ID, "activated", s.Activated,
				"ledger", s.Account.LastModifiedLedger, "balances", len(s.Account.Balances))
		})
	}

	requests := a.svc.SubscribeToSignatureRequests(a.selector.URL(multisig.ServiceName), accounts)
	requests.Subscribe(func(r livedata.SignatureRequests) {
		args := []any{"count", len(r.Requests)}
		if r.LastEvent != nil {
			args = append(args, "event", r.LastEvent.Kind, "request", r.LastEvent.Request.ID)
		}
		a.logger.Info("signature requests", args...)
	})
}

func (a *app) healthLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-a.svc.Errors():
			switch {
			case ev.Cleared:
				a.logger.Info("service recovered", "service", ev.Service)
			case ev.Unexpected:
				a.logger.Error("unexpected service error", "service", ev.Service, "error", ev.Err)
			default:
				a.logger.Warn("service unreachable", "service", ev.Service, "error", ev.Err)
			}
		}
	}
}

func (a *app) reselectAll(ctx context.Context) {
	for _, svc := range a.cfg.Services() {
		if _, err := a.selector.Reselect(ctx, svc); err != nil {
			a.logger.Warn("reselect failed", "service", svc.Name, "error", err)
		}
	}
}

// endpointChanged restarts every subscription on the new servers. Targets
// are keyed by endpoint, so consumers subscribe again to pick them up.
func (a *app) endpointChanged(service, oldURL, newURL string) {
	a.logger.Info("switching endpoint", "service", service, "from", oldURL, "to", newURL)
	a.svc.ResetAllSubscriptions()
	a.subscribeWatched()
}
