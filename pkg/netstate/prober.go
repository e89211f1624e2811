package netstate

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/walletsync/walletsync-go/pkg/clock"
)

// Prober defaults.
const (
	DefaultProbeInterval    = 10 * time.Second
	DefaultProbeTimeout     = 3 * time.Second
	DefaultFailureThreshold = 2
)

// ProberConfig configures a reachability Prober.
type ProberConfig struct {
	// URL is fetched with GET on every probe. Any HTTP response counts as
	// reachable; only transport failures count against the threshold.
	URL string

	// Interval between probes.
	Interval time.Duration

	// Timeout bounds a single probe.
	Timeout time.Duration

	// FailureThreshold is the number of consecutive failures before the
	// monitor is switched offline.
	FailureThreshold int

	Client *http.Client
	Clock  clock.Clock
	Logger *slog.Logger
}

// Prober drives a Monitor from periodic reachability checks. It is meant for
// hosts that have no OS-level online/offline notification.
type Prober struct {
	config  ProberConfig
	monitor *Monitor
	clock   clock.Clock
	logger  *slog.Logger

	failures int
}

// NewProber creates a prober for monitor.
func NewProber(monitor *Monitor, config ProberConfig) *Prober {
	if config.Interval <= 0 {
		config.Interval = DefaultProbeInterval
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultProbeTimeout
	}
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = DefaultFailureThreshold
	}
	if config.Client == nil {
		config.Client = &http.Client{}
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Prober{
		config:  config,
		monitor: monitor,
		clock:   clock.OrReal(config.Clock),
		logger:  logger,
	}
}

// Run probes until ctx is done.
func (p *Prober) Run(ctx context.Context) {
	for {
		p.ProbeOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-p.clock.After(p.config.Interval):
		}
	}
}

// ProbeOnce performs one probe and updates the monitor.
func (p *Prober) ProbeOnce(ctx context.Context) {
	err := p.probe(ctx)
	if ctx.Err() != nil {
		return
	}
	if err == nil {
		p.failures = 0
		if !p.monitor.Online() {
			p.logger.Info("reachability restored", "url", p.config.URL)
		}
		p.monitor.SetOnline(true)
		return
	}

	p.failures++
	p.logger.Debug("reachability probe failed", "url", p.config.URL, "failures", p.failures, "error", err)
	if p.failures >= p.config.FailureThreshold && p.monitor.Online() {
		p.logger.Warn("switching to offline", "url", p.config.URL, "failures", p.failures)
		p.monitor.SetOnline(false)
	}
}

func (p *Prober) probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.config.URL, nil)
	if err != nil {
		return fmt.Errorf("building probe request: %w", err)
	}
	resp, err := p.config.Client.Do(req)
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	resp.Body.Close()
	return nil
}
