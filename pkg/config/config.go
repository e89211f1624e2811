package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/walletsync/walletsync-go/pkg/connection"
	"github.com/walletsync/walletsync-go/pkg/discovery"
	"github.com/walletsync/walletsync-go/pkg/endpoint"
	"github.com/walletsync/walletsync-go/pkg/eventstream"
	"github.com/walletsync/walletsync-go/pkg/fetchqueue"
	"github.com/walletsync/walletsync-go/pkg/horizon"
	"github.com/walletsync/walletsync-go/pkg/livedata"
	"github.com/walletsync/walletsync-go/pkg/multisig"
	"github.com/walletsync/walletsync-go/pkg/netstate"
	"github.com/walletsync/walletsync-go/pkg/poller"
	"github.com/walletsync/walletsync-go/pkg/syncerr"
)

// Validation errors.
var (
	ErrNoPrimary       = errors.New("primary URL is required")
	ErrInvalidTiming   = errors.New("invalid timing")
	ErrInvalidLimit    = errors.New("invalid limit")
	ErrInvalidLogLevel = errors.New("invalid log level")
	ErrInvalidDuration = errors.New("invalid duration")
)

// LoadError describes a configuration file that could not be used.
type LoadError struct {
	// File is the path of the file, empty for in-memory data.
	File string

	Message string
	Cause   error
}

func (e *LoadError) Error() string {
	msg := e.Message
	if e.File != "" {
		msg = e.File + ": " + msg
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *LoadError) Unwrap() error {
	return e.Cause
}

// Duration is a time.Duration written as a string in YAML.
type Duration time.Duration

// UnmarshalYAML parses "1.5s" style strings. Plain integers are read as
// milliseconds.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		ms, convErr := strconv.ParseInt(s, 10, 64)
		if convErr != nil {
			return fmt.Errorf("%w %q at line %d", ErrInvalidDuration, s, node.Line)
		}
		parsed = time.Duration(ms) * time.Millisecond
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML writes the string form.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Service is one remote service with its fallbacks.
type Service struct {
	Primary   string   `yaml:"primary"`
	Fallbacks []string `yaml:"fallbacks,omitempty"`
	ProbePath string   `yaml:"probe_path,omitempty"`
}

// Discovery configures mDNS lookup of LAN nodes.
type Discovery struct {
	Enabled   bool     `yaml:"enabled"`
	Interface string   `yaml:"interface,omitempty"`
	Network   string   `yaml:"network,omitempty"`
	Timeout   Duration `yaml:"timeout,omitempty"`
}

// Probe configures the reachability prober that drives the online state.
type Probe struct {
	URL      string   `yaml:"url,omitempty"`
	Interval Duration `yaml:"interval,omitempty"`
	Timeout  Duration `yaml:"timeout,omitempty"`
}

// Timing holds every subscription timing knob.
type Timing struct {
	ErrorThrottle        Duration `yaml:"error_throttle"`
	Watchdog             Duration `yaml:"watchdog"`
	FallbackPoll         Duration `yaml:"fallback_poll"`
	ReconnectDelay       Duration `yaml:"reconnect_delay"`
	StaleRetryInitial    Duration `yaml:"stale_retry_initial"`
	StaleRetryAttempts   int      `yaml:"stale_retry_attempts"`
	ActivationInitial    Duration `yaml:"activation_initial"`
	ActivationMax        Duration `yaml:"activation_max"`
	ActivationMultiplier float64  `yaml:"activation_multiplier"`
}

// Config is the complete configuration.
type Config struct {
	Horizon  Service  `yaml:"horizon"`
	Multisig Service  `yaml:"multisig"`
	Accounts []string `yaml:"accounts,omitempty"`

	FetchConcurrency  int `yaml:"fetch_concurrency"`
	EffectsLimit      int `yaml:"effects_limit"`
	TransactionsLimit int `yaml:"transactions_limit"`

	Timing    Timing    `yaml:"timing"`
	Discovery Discovery `yaml:"discovery"`
	Probe     Probe     `yaml:"probe"`

	// Capture is a file that receives the stream protocol log. Empty
	// disables capture.
	Capture     string `yaml:"capture,omitempty"`
	MetricsAddr string `yaml:"metrics_addr,omitempty"`
	LogLevel    string `yaml:"log_level"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Horizon:           Service{Primary: "https://horizon.stellar.org"},
		Multisig:          Service{Primary: "https://multisig.satoshipay.io"},
		FetchConcurrency:  fetchqueue.DefaultLimit,
		EffectsLimit:      livedata.DefaultEffectsLimit,
		TransactionsLimit: livedata.DefaultTransactionsLimit,
		Timing:            DefaultTiming(),
		Discovery: Discovery{
			Network: "public",
			Timeout: Duration(discovery.BrowseTimeout),
		},
		Probe: Probe{
			Interval: Duration(netstate.DefaultProbeInterval),
			Timeout:  Duration(netstate.DefaultProbeTimeout),
		},
		LogLevel: "info",
	}
}

// DefaultTiming returns the default timings of every component.
func DefaultTiming() Timing {
	return Timing{
		ErrorThrottle:        Duration(syncerr.DefaultThrottleWindow),
		Watchdog:             Duration(eventstream.DefaultWatchdog),
		FallbackPoll:         Duration(poller.DefaultFallbackPoll),
		ReconnectDelay:       Duration(connection.DefaultReconnectDelay),
		StaleRetryInitial:    Duration(connection.StaleRetryInitial),
		StaleRetryAttempts:   connection.StaleRetryMaxAttempts,
		ActivationInitial:    Duration(connection.ActivationInitial),
		ActivationMax:        Duration(connection.ActivationMax),
		ActivationMultiplier: connection.ActivationMultiplier,
	}
}

// Load reads, parses and validates the file at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, &LoadError{File: path, Message: "failed to read file", Cause: err}
	}
	cfg, err := Parse(data)
	if err != nil {
		var le *LoadError
		if errors.As(err, &le) {
			le.File = path
		}
		return Config{}, err
	}
	return cfg, nil
}

// Parse decodes YAML on top of Default and validates the result.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, &LoadError{Message: "failed to parse YAML", Cause: err}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, &LoadError{Message: "invalid configuration", Cause: err}
	}
	return cfg, nil
}

// Validate checks the configuration for values no component accepts.
func (c Config) Validate() error {
	if c.Horizon.Primary == "" {
		return fmt.Errorf("horizon: %w", ErrNoPrimary)
	}
	if c.Multisig.Primary == "" {
		return fmt.Errorf("multisig: %w", ErrNoPrimary)
	}
	if c.FetchConcurrency < 1 {
		return fmt.Errorf("%w: fetch_concurrency %d", ErrInvalidLimit, c.FetchConcurrency)
	}
	if c.EffectsLimit < 1 || c.TransactionsLimit < 1 {
		return fmt.Errorf("%w: list limits must be positive", ErrInvalidLimit)
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return c.Timing.Validate()
}

// Validate checks timings for consistency.
func (t Timing) Validate() error {
	durations := map[string]Duration{
		"error_throttle":      t.ErrorThrottle,
		"watchdog":            t.Watchdog,
		"fallback_poll":       t.FallbackPoll,
		"reconnect_delay":     t.ReconnectDelay,
		"stale_retry_initial": t.StaleRetryInitial,
		"activation_initial":  t.ActivationInitial,
		"activation_max":      t.ActivationMax,
	}
	for name, d := range durations {
		if d <= 0 {
			return fmt.Errorf("%w: %s must be positive", ErrInvalidTiming, name)
		}
	}
	if t.ActivationMax < t.ActivationInitial {
		return fmt.Errorf("%w: activation_max below activation_initial", ErrInvalidTiming)
	}
	if t.ActivationMultiplier < 1 {
		return fmt.Errorf("%w: activation_multiplier must be at least 1", ErrInvalidTiming)
	}
	if t.StaleRetryAttempts < 0 {
		return fmt.Errorf("%w: stale_retry_attempts is negative", ErrInvalidTiming)
	}
	return nil
}

// LiveData converts the timings for livedata.Config.
func (t Timing) LiveData() livedata.Timing {
	return livedata.Timing{
		ErrorThrottle:        t.ErrorThrottle.Std(),
		Watchdog:             t.Watchdog.Std(),
		FallbackPoll:         t.FallbackPoll.Std(),
		ReconnectDelay:       t.ReconnectDelay.Std(),
		StaleRetryInitial:    t.StaleRetryInitial.Std(),
		StaleRetryAttempts:   t.StaleRetryAttempts,
		ActivationInitial:    t.ActivationInitial.Std(),
		ActivationMax:        t.ActivationMax.Std(),
		ActivationMultiplier: t.ActivationMultiplier,
	}
}

// Services returns the endpoint selector entries for both remote services.
func (c Config) Services() []endpoint.Service {
	return []endpoint.Service{
		{Name: horizon.ServiceName, Primary: c.Horizon.Primary, Fallbacks: c.Horizon.Fallbacks, ProbePath: c.Horizon.ProbePath},
		{Name: multisig.ServiceName, Primary: c.Multisig.Primary, Fallbacks: c.Multisig.Fallbacks, ProbePath: c.Multisig.ProbePath},
	}
}
