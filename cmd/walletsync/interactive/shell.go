// Package interactive provides the interactive command-line interface
// for walletsync.
package interactive

import (
	"context"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/chzyer/readline"

	"github.com/walletsync/walletsync-go/pkg/endpoint"
	"github.com/walletsync/walletsync-go/pkg/fetchqueue"
	"github.com/walletsync/walletsync-go/pkg/horizon"
	"github.com/walletsync/walletsync-go/pkg/livedata"
	"github.com/walletsync/walletsync-go/pkg/multisig"
	"github.com/walletsync/walletsync-go/pkg/netstate"
	"github.com/walletsync/walletsync-go/pkg/subscription"
)

// Env is everything the shell operates on.
type Env struct {
	Service  *livedata.Service
	Selector *endpoint.Selector
	Services []endpoint.Service
	Monitor  *netstate.Monitor
	Queue    *fetchqueue.Queue

	// Accounts are the configured accounts, used when a command omits the
	// account argument.
	Accounts []string
}

// Shell handles interactive mode.
type Shell struct {
	env Env
	rl  *readline.Instance
	out io.Writer

	mu      sync.Mutex
	watches map[string]*watchEntry
	closed  chan struct{}
}

type watchEntry struct {
	unsubscribe func()
}

// New creates a shell reading from rl.
func New(rl *readline.Instance, env Env) *Shell {
	s := newShell(rl.Stdout(), env)
	s.rl = rl
	return s
}

func newShell(out io.Writer, env Env) *Shell {
	return &Shell{
		env:     env,
		out:     out,
		watches: make(map[string]*watchEntry),
		closed:  make(chan struct{}),
	}
}

// Run starts the interactive command loop.
func (s *Shell) Run(ctx context.Context, cancel context.CancelFunc) {
	defer s.rl.Close()
	defer s.stop()

	s.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := s.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(s.out, "Exiting...")
			cancel()
			return
		}

		if !s.Exec(ctx, line) {
			fmt.Fprintln(s.out, "Exiting...")
			cancel()
			return
		}
	}
}

// Exec runs one command line. It returns false when the shell should exit.
func (s *Shell) Exec(ctx context.Context, line string) bool {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return true
	}
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "help", "?":
		s.printHelp()

	case "account", "acc":
		s.cmdAccount(args)

	case "effects":
		s.cmdEffects(args)

	case "txs", "transactions":
		s.cmdTransactions(args)

	case "orders", "offers":
		s.cmdOrders(args)

	case "orderbook", "book":
		s.cmdOrderbook(args)

	case "sigreqs", "requests":
		s.cmdSignatureRequests(args)

	case "unwatch":
		s.cmdUnwatch(args)

	case "watches":
		s.cmdWatches()

	case "keys":
		s.cmdKeys()

	case "endpoints":
		s.cmdEndpoints()

	case "reselect":
		s.cmdReselect(ctx, args)

	case "online":
		s.env.Monitor.SetOnline(true)
		fmt.Fprintln(s.out, "Network marked online")

	case "offline":
		s.env.Monitor.SetOnline(false)
		fmt.Fprintln(s.out, "Network marked offline")

	case "queue":
		s.cmdQueue()

	case "reset":
		s.env.Service.ResetAllSubscriptions()
		fmt.Fprintln(s.out, "All subscriptions reset")

	case "shutdown":
		s.env.Service.Shutdown()
		fmt.Fprintln(s.out, "Service shut down; new subscriptions are refused")

	case "quit", "exit", "q":
		return false

	default:
		fmt.Fprintf(s.out, "Unknown command: %s (type 'help' for commands)\n", cmd)
	}
	return true
}

func (s *Shell) printHelp() {
	fmt.Fprintln(s.out, `
walletsync Commands:
  Subscriptions:
    account [id]                      - Watch account state
    effects [id]                      - Watch recent effects
    txs [id]                          - Watch recent transactions
    orders [id]                       - Watch open offers
    orderbook <selling> <buying>      - Watch an order book (native or CODE:ISSUER)
    sigreqs [id...]                   - Watch pending signature requests
    unwatch <name>|all                - Stop watching
    watches                           - List watches

  Service:
    keys                              - List live subscriptions
    endpoints                         - Show selected endpoints
    reselect [service]                - Probe endpoints again
    online | offline                  - Force the network state
    queue                             - Show fetch queue statistics
    reset                             - Reset all subscriptions
    shutdown                          - Shut the subscription service down

  General:
    help                              - Show this help
    quit                              - Exit`)
}

func (s *Shell) accounts(args []string) []string {
	if len(args) > 0 {
		return args
	}
	return s.env.Accounts
}

func (s *Shell) ledgerURL() string {
	return s.env.Selector.URL(horizon.ServiceName)
}

func (s *Shell) cmdAccount(args []string) {
	ids := s.accounts(args)
	if len(ids) == 0 {
		fmt.Fprintln(s.out, "Usage: account <id>")
		return
	}
	for _, id := range ids {
		watch(s, "account "+id, s.env.Service.SubscribeToAccount(s.ledgerURL(), id), formatAccount)
	}
}

func (s *Shell) cmdEffects(args []string) {
	ids := s.accounts(args)
	if len(ids) == 0 {
		fmt.Fprintln(s.out, "Usage: effects <id>")
		return
	}
	for _, id := range ids {
		watch(s, "effects "+id, s.env.Service.SubscribeToEffects(s.ledgerURL(), id), formatEffects)
	}
}

func (s *Shell) cmdTransactions(args []string) {
	ids := s.accounts(args)
	if len(ids) == 0 {
		fmt.Fprintln(s.out, "Usage: txs <id>")
		return
	}
	for _, id := range ids {
		watch(s, "txs "+id, s.env.Service.SubscribeToRecentTransactions(s.ledgerURL(), id), formatTransactions)
	}
}

func (s *Shell) cmdOrders(args []string) {
	ids := s.accounts(args)
	if len(ids) == 0 {
		fmt.Fprintln(s.out, "Usage: orders <id>")
		return
	}
	for _, id := range ids {
		watch(s, "orders "+id, s.env.Service.SubscribeToOrders(s.ledgerURL(), id), formatOffers)
	}
}

func (s *Shell) cmdOrderbook(args []string) {
	if len(args) != 2 {
		fmt.Fprintln(s.out, "Usage: orderbook <selling> <buying>")
		fmt.Fprintln(s.out, "  Example: orderbook native USD:GDUKMGUGDZQK6YHYA5Z6AY2G4XDSZPSZ3SW5UN3ARVMO6QSRDWP5YLEX")
		return
	}
	selling, err := horizon.ParseAsset(args[0])
	if err != nil {
		fmt.Fprintf(s.out, "Invalid selling asset: %v\n", err)
		return
	}
	buying, err := horizon.ParseAsset(args[1])
	if err != nil {
		fmt.Fprintf(s.out, "Invalid buying asset: %v\n", err)
		return
	}
	name := "orderbook " + selling.String() + "/" + buying.String()
	watch(s, name, s.env.Service.SubscribeToOrderbook(s.ledgerURL(), selling, buying), formatOrderbook)
}

func (s *Shell) cmdSignatureRequests(args []string) {
	ids := s.accounts(args)
	if len(ids) == 0 {
		fmt.Fprintln(s.out, "Usage: sigreqs <id...>")
		return
	}
	target := s.env.Service.SubscribeToSignatureRequests(s.env.Selector.URL(multisig.ServiceName), ids)
	watch(s, "sigreqs "+strings.Join(ids, ","), target, formatSignatureRequests)
}

func (s *Shell) cmdUnwatch(args []string) {
	if len(args) == 0 {
		fmt.Fprintln(s.out, "Usage: unwatch <name>|all")
		return
	}
	if args[0] == "all" {
		s.mu.Lock()
		n := len(s.watches)
		for name, w := range s.watches {
			w.unsubscribe()
			delete(s.watches, name)
		}
		s.mu.Unlock()
		fmt.Fprintf(s.out, "Stopped %d watch(es)\n", n)
		return
	}
	name := strings.Join(args, " ")
	if !s.unwatch(name) {
		fmt.Fprintf(s.out, "No watch named %q\n", name)
		return
	}
	fmt.Fprintf(s.out, "Stopped %s\n", name)
}

func (s *Shell) cmdWatches() {
	names := s.watchNames()
	if len(names) == 0 {
		fmt.Fprintln(s.out, "No watches")
		return
	}
	for _, name := range names {
		fmt.Fprintf(s.out, "  %s\n", name)
	}
}

func (s *Shell) cmdKeys() {
	keys := s.env.Service.Keys()
	if len(keys) == 0 {
		fmt.Fprintln(s.out, "No live subscriptions")
		return
	}
	slices.Sort(keys)
	fmt.Fprintf(s.out, "Live subscriptions (%d):\n", len(keys))
	for _, k := range keys {
		fmt.Fprintf(s.out, "  %s\n", k)
	}
}

func (s *Shell) cmdEndpoints() {
	for _, svc := range s.env.Services {
		sel, ok := s.env.Selector.Selected(svc.Name)
		if !ok {
			fmt.Fprintf(s.out, "  %-10s not selected\n", svc.Name)
			continue
		}
		fmt.Fprintf(s.out, "  %-10s %s (%s, %s)\n", sel.Service, sel.URL, sel.Source, sel.Time.Format("15:04:05"))
	}
}

func (s *Shell) cmdReselect(ctx context.Context, args []string) {
	for _, svc := range s.env.Services {
		if len(args) > 0 && !slices.Contains(args, svc.Name) {
			continue
		}
		rctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		sel, err := s.env.Selector.Reselect(rctx, svc)
		cancel()
		if err != nil {
			fmt.Fprintf(s.out, "Reselect %s failed: %v\n", svc.Name, err)
			continue
		}
		fmt.Fprintf(s.out, "  %-10s %s (%s)\n", sel.Service, sel.URL, sel.Source)
	}
}

func (s *Shell) cmdQueue() {
	st := s.env.Queue.Stats()
	fmt.Fprintf(s.out, "Fetch queue: %d/%d in flight, %d waiting\n", st.InFlight, st.Limit, st.Waiting)
}

// watch prints the current value of target and every later one under name.
// A watch with the same name is replaced.
func watch[V any](s *Shell, name string, target *subscription.Target[V], format func(V) string) {
	s.unwatch(name)

	if target.Closed() {
		fmt.Fprintf(s.out, "[%s] closed: %v\n", name, target.Err())
		return
	}
	entry := &watchEntry{}
	entry.unsubscribe = target.Subscribe(func(v V) {
		fmt.Fprintf(s.out, "[%s] %s\n", name, format(v))
	})
	s.mu.Lock()
	s.watches[name] = entry
	s.mu.Unlock()
	fmt.Fprintf(s.out, "[%s] %s\n", name, format(target.Latest()))

	go func() {
		select {
		case <-target.Done():
		case <-s.closed:
			return
		}
		s.mu.Lock()
		current := s.watches[name] == entry
		if current {
			delete(s.watches, name)
		}
		s.mu.Unlock()
		if !current {
			return
		}
		if err := target.Err(); err != nil {
			fmt.Fprintf(s.out, "[%s] closed: %v\n", name, err)
		} else {
			fmt.Fprintf(s.out, "[%s] closed\n", name)
		}
	}()
}

func (s *Shell) unwatch(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.watches[name]
	if ok {
		w.unsubscribe()
		delete(s.watches, name)
	}
	return ok
}

func (s *Shell) watchNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.watches))
	for name := range s.watches {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (s *Shell) stop() {
	s.mu.Lock()
	for name, w := range s.watches {
		w.unsubscribe()
		delete(s.watches, name)
	}
	s.mu.Unlock()
	close(s.closed)
}
