package subscription

import (
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/walletsync/walletsync-go/pkg/metrics"
)

// ErrShutdown is the terminal error of targets handed out after Shutdown.
var ErrShutdown = errors.New("subscription registry shut down")

// entry is the type-erased view of a Target the registry needs.
type entry interface {
	Close()
	Closed() bool
}

// RegistryOptions configures a Registry.
type RegistryOptions struct {
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Registry maps cache keys to live targets. It is safe for concurrent use.
type Registry struct {
	mu       sync.Mutex
	targets  map[string]entry
	shutdown bool

	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewRegistry creates an empty registry.
func NewRegistry(opts RegistryOptions) *Registry {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Registry{
		targets: make(map[string]entry),
		logger:  logger,
		metrics: opts.Metrics,
	}
}

// Key builds a cache key from an endpoint, a resource kind and resource ids.
func Key(endpoint, kind string, ids ...string) string {
	parts := make([]string, 0, len(ids)+2)
	parts = append(parts, strings.TrimRight(endpoint, "/"), kind)
	parts = append(parts, ids...)
	return strings.Join(parts, "|")
}

// GetOrCreate returns the open target stored under key, or calls factory and
// stores its result. factory runs with the registry locked, so concurrent
// callers for one key build exactly one target; it must not call back into
// the registry. After Shutdown a closed target is returned and factory is
// not called.
func GetOrCreate[V any](r *Registry, key string, factory func() *Target[V]) *Target[V] {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.shutdown {
		var zero V
		t := NewTarget(zero)
		t.CloseWithError(ErrShutdown)
		return t
	}

	if existing, ok := r.targets[key]; ok && !existing.Closed() {
		if t, ok := existing.(*Target[V]); ok {
			return t
		}
		r.logger.Warn("replacing target of a different type", "key", key)
		existing.Close()
	}

	t := factory()
	r.targets[key] = t
	r.logger.Debug("target created", "key", key, "target_id", t.ID())
	r.metrics.RegistryTargets(r.liveLocked())
	return t
}

// InvalidateAll closes and evicts every target. Consumers re-subscribe on
// their next GetOrCreate.
func (r *Registry) InvalidateAll() {
	r.mu.Lock()
	targets := r.targets
	r.targets = make(map[string]entry)
	r.metrics.RegistryTargets(0)
	r.mu.Unlock()

	for _, t := range targets {
		t.Close()
	}
	if len(targets) > 0 {
		r.logger.Info("invalidated subscriptions", "count", len(targets))
	}
}

// Shutdown invalidates everything and refuses further creation.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	r.shutdown = true
	r.mu.Unlock()

	r.InvalidateAll()
}

// Len returns the number of open targets.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.liveLocked()
}

// Keys returns the keys of open targets.
func (r *Registry) Keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	keys := make([]string, 0, len(r.targets))
	for k, t := range r.targets {
		if !t.Closed() {
			keys = append(keys, k)
		}
	}
	return keys
}

func (r *Registry) liveLocked() int {
	n := 0
	for _, t := range r.targets {
		if !t.Closed() {
			n++
		}
	}
	return n
}
