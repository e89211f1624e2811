// Command walletsync keeps wallet state live against a ledger API server
// and a multi-signature coordination service.
//
// It selects a reachable server for each service, subscribes to the
// configured accounts and prints every change. In interactive mode any
// subscription can be opened and closed from a shell.
//
// Usage:
//
//	walletsync [flags]
//
// Flags:
//
//	-config string             Configuration file path
//	-horizon string            Ledger API server URL
//	-multisig string           Coordination service URL
//	-accounts string           Comma separated accounts to watch
//	-log-level string          Log level: debug, info, warn, error (default "info")
//	-interactive               Enable interactive command mode
//	-discover                  Look for ledger API nodes on the local network
//	-probe-url string          URL probed to detect online/offline
//	-fetch-concurrency int     Concurrent REST requests
//	-capture string            Write the stream protocol log to this file
//	-metrics-addr string       Serve Prometheus metrics on this address
//
// Flags override the configuration file, which overrides the defaults.
//
// Examples:
//
//	# Watch one account
//	walletsync -accounts GABC...
//
//	# Interactive shell with a protocol capture
//	walletsync -interactive -capture /tmp/walletsync.cbor
//
//	# Serve metrics
//	walletsync -config walletsync.yaml -metrics-addr :9100
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/chzyer/readline"

	"github.com/walletsync/walletsync-go/cmd/walletsync/interactive"
	"github.com/walletsync/walletsync-go/pkg/config"
)

// Flags holds the command line flags.
type Flags struct {
	ConfigFile       string
	Horizon          string
	Multisig         string
	Accounts         string
	LogLevel         string
	Interactive      bool
	Discover         bool
	ProbeURL         string
	FetchConcurrency int
	Capture          string
	MetricsAddr      string
}

var flags Flags

func init() {
	flag.StringVar(&flags.ConfigFile, "config", "", "Configuration file path")
	flag.StringVar(&flags.Horizon, "horizon", "", "Ledger API server URL")
	flag.StringVar(&flags.Multisig, "multisig", "", "Coordination service URL")
	flag.StringVar(&flags.Accounts, "accounts", "", "Comma separated accounts to watch")
	flag.StringVar(&flags.LogLevel, "log-level", "info", "Log level: debug, info, warn, error")
	flag.BoolVar(&flags.Interactive, "interactive", false, "Enable interactive command mode")
	flag.BoolVar(&flags.Discover, "discover", false, "Look for ledger API nodes on the local network")
	flag.StringVar(&flags.ProbeURL, "probe-url", "", "URL probed to detect online/offline")
	flag.IntVar(&flags.FetchConcurrency, "fetch-concurrency", 0, "Concurrent REST requests")
	flag.StringVar(&flags.Capture, "capture", "", "Write the stream protocol log to this file")
	flag.StringVar(&flags.MetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
}

func main() {
	flag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "walletsync: %v\n", err)
		os.Exit(1)
	}
	level, _ := config.ParseLevel(cfg.LogLevel)

	var rl *readline.Instance
	var logOut io.Writer = os.Stderr
	if flags.Interactive {
		rl, err = readline.NewEx(&readline.Config{
			Prompt:          "walletsync> ",
			InterruptPrompt: "^C",
			EOFPrompt:       "exit",
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "walletsync: failed to create readline: %v\n", err)
			os.Exit(1)
		}
		// Log through readline so output does not break the prompt.
		logOut = rl.Stderr()
	}
	logger := slog.New(slog.NewTextHandler(logOut, &slog.HandlerOptions{Level: level}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := newApp(cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	if err := a.Start(ctx); err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}

	if flags.Interactive {
		shell := interactive.New(rl, a.Env())
		go shell.Run(ctx, cancel)
	} else {
		a.WatchAccounts(cfg.Accounts)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received signal", "signal", sig)
	case <-ctx.Done():
	}
	logger.Info("shutting down")
}

// loadConfig reads the configuration file, if any, and applies flags that
// were set explicitly.
func loadConfig() (config.Config, error) {
	cfg := config.Default()
	if flags.ConfigFile != "" {
		loaded, err := config.Load(flags.ConfigFile)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "horizon":
			cfg.Horizon.Primary = flags.Horizon
		case "multisig":
			cfg.Multisig.Primary = flags.Multisig
		case "accounts":
			cfg.Accounts = splitList(flags.Accounts)
		case "log-level":
			cfg.LogLevel = flags.LogLevel
		case "discover":
			cfg.Discovery.Enabled = flags.Discover
		case "probe-url":
			cfg.Probe.URL = flags.ProbeURL
		case "fetch-concurrency":
			cfg.FetchConcurrency = flags.FetchConcurrency
		case "capture":
			cfg.Capture = flags.Capture
		case "metrics-addr":
			cfg.MetricsAddr = flags.MetricsAddr
		}
	})
	return cfg, cfg.Validate()
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
