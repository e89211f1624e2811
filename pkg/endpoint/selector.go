package endpoint

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/walletsync/walletsync-go/pkg/clock"
	"github.com/walletsync/walletsync-go/pkg/metrics"
)

// DefaultProbeTimeout bounds each probe request.
const DefaultProbeTimeout = 5 * time.Second

// Errors.
var (
	ErrNoPrimary = errors.New("service has no primary URL")
	ErrNoName    = errors.New("service has no name")
)

// Source tells how a selection was made.
type Source uint8

const (
	// SourcePrimary means the primary answered its probe.
	SourcePrimary Source = iota

	// SourceFallback means a configured fallback answered.
	SourceFallback

	// SourceDiscovered means a candidate from the Candidates hook answered.
	SourceDiscovered

	// SourceFailOpen means nothing answered and the primary was used.
	SourceFailOpen
)

// String returns the source name.
func (s Source) String() string {
	switch s {
	case SourcePrimary:
		return "PRIMARY"
	case SourceFallback:
		return "FALLBACK"
	case SourceDiscovered:
		return "DISCOVERED"
	case SourceFailOpen:
		return "FAIL_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Service describes one logical service.
type Service struct {
	Name      string
	Primary   string
	Fallbacks []string

	// ProbePath is appended to a candidate URL to form the probe URL.
	// Empty probes the base URL itself.
	ProbePath string
}

func (s Service) validate() error {
	if s.Name == "" {
		return ErrNoName
	}
	if s.Primary == "" {
		return fmt.Errorf("%s: %w", s.Name, ErrNoPrimary)
	}
	return nil
}

// Selection is the result of Select.
type Selection struct {
	Service string
	URL     string
	Source  Source
	Time    time.Time
}

// Options configures a Selector.
type Options struct {
	// Client sends probe requests. Default: a fresh http.Client.
	Client *http.Client

	// ProbeTimeout bounds each probe. Default: DefaultProbeTimeout.
	ProbeTimeout time.Duration

	// Candidates returns extra URLs to try after the configured fallbacks,
	// such as nodes found on the local network. Errors are logged and
	// ignored.
	Candidates func(ctx context.Context, service string) ([]string, error)

	// OnChange is called after Reselect moved a service to a different URL.
	OnChange func(service, oldURL, newURL string)

	Clock   clock.Clock
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Selector probes and caches endpoint selections.
type Selector struct {
	opts   Options
	client *http.Client
	clock  clock.Clock
	logger *slog.Logger
	group  singleflight.Group

	mu       sync.RWMutex
	selected map[string]Selection
}

// NewSelector creates a Selector.
func NewSelector(opts Options) *Selector {
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = DefaultProbeTimeout
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Selector{
		opts:     opts,
		client:   client,
		clock:    clock.OrReal(opts.Clock),
		logger:   logger,
		selected: make(map[string]Selection),
	}
}

// Select returns the cached selection for svc, probing on first use.
// Concurrent callers for one service share one probe run. The only errors
// are an invalid Service and cancellation of ctx.
func (s *Selector) Select(ctx context.Context, svc Service) (Selection, error) {
	if err := svc.validate(); err != nil {
		return Selection{}, err
	}
	if sel, ok := s.Selected(svc.Name); ok {
		return sel, nil
	}
	return s.probeShared(ctx, svc)
}

// Reselect drops the cached selection for svc and probes again.
func (s *Selector) Reselect(ctx context.Context, svc Service) (Selection, error) {
	if err := svc.validate(); err != nil {
		return Selection{}, err
	}

	s.mu.Lock()
	old, had := s.selected[svc.Name]
	delete(s.selected, svc.Name)
	s.mu.Unlock()

	sel, err := s.probeShared(ctx, svc)
	if err != nil {
		return Selection{}, err
	}
	if had && old.URL != sel.URL {
		s.logger.Info("endpoint changed", "service", svc.Name, "from", old.URL, "to", sel.URL)
		if s.opts.OnChange != nil {
			s.opts.OnChange(svc.Name, old.URL, sel.URL)
		}
	}
	return sel, nil
}

// SelectAll selects several services concurrently.
func (s *Selector) SelectAll(ctx context.Context, services ...Service) (map[string]Selection, error) {
	results := make([]Selection, len(services))

	g, gctx := errgroup.WithContext(ctx)
	for i, svc := range services {
		g.Go(func() error {
			sel, err := s.Select(gctx, svc)
			if err != nil {
				return err
			}
			results[i] = sel
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[string]Selection, len(services))
	for _, sel := range results {
		out[sel.Service] = sel
	}
	return out, nil
}

// Selected returns the cached selection for name.
func (s *Selector) Selected(name string) (Selection, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sel, ok := s.selected[name]
	return sel, ok
}

// URL returns the selected URL for name, or "" when nothing is selected.
func (s *Selector) URL(name string) string {
	sel, _ := s.Selected(name)
	return sel.URL
}

func (s *Selector) probeShared(ctx context.Context, svc Service) (Selection, error) {
	ch := s.group.DoChan(svc.Name, func() (any, error) {
		if sel, ok := s.Selected(svc.Name); ok {
			return sel, nil
		}
		sel := s.probe(context.WithoutCancel(ctx), svc)
		s.mu.Lock()
		s.selected[svc.Name] = sel
		s.mu.Unlock()
		return sel, nil
	})
	select {
	case res := <-ch:
		return res.Val.(Selection), nil
	case <-ctx.Done():
		return Selection{}, ctx.Err()
	}
}

func (s *Selector) probe(ctx context.Context, svc Service) Selection {
	sel := Selection{Service: svc.Name, Time: s.clock.Now()}

	try := func(url string, source Source) bool {
		if err := s.check(ctx, url+svc.ProbePath); err != nil {
			s.logger.Debug("probe failed", "service", svc.Name, "url", url, "error", err)
			return false
		}
		sel.URL = url
		sel.Source = source
		return true
	}

	primary := strings.TrimRight(svc.Primary, "/")
	found := try(primary, SourcePrimary)
	for _, u := range svc.Fallbacks {
		if found {
			break
		}
		found = try(strings.TrimRight(u, "/"), SourceFallback)
	}
	if !found && s.opts.Candidates != nil {
		candidates, err := s.opts.Candidates(ctx, svc.Name)
		if err != nil {
			s.logger.Warn("endpoint candidates failed", "service", svc.Name, "error", err)
		}
		for _, u := range candidates {
			if found {
				break
			}
			found = try(strings.TrimRight(u, "/"), SourceDiscovered)
		}
	}
	if !found {
		sel.URL = primary
		sel.Source = SourceFailOpen
		s.logger.Warn("no endpoint answered, using primary", "service", svc.Name, "url", primary)
	}

	s.opts.Metrics.EndpointSelection(svc.Name, strings.ToLower(sel.Source.String()))
	return sel
}

func (s *Selector) check(ctx context.Context, url string) error {
	ctx, cancel := context.WithTimeout(ctx, s.opts.ProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("probe status %d", resp.StatusCode)
	}
	return nil
}
