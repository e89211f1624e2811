package endpoint

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/walletsync/walletsync-go/pkg/metrics"
)

type probeServer struct {
	*httptest.Server
	status atomic.Int32
	hits   atomic.Int32
	path   atomic.Value
}

func newProbeServer(t *testing.T, status int) *probeServer {
	t.Helper()
	ps := &probeServer{}
	ps.status.Store(int32(status))
	ps.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ps.hits.Add(1)
		ps.path.Store(r.URL.Path)
		w.WriteHeader(int(ps.status.Load()))
	}))
	t.Cleanup(ps.Close)
	return ps
}

func TestSelectPrimaryHealthy(t *testing.T) {
	primary := newProbeServer(t, http.StatusOK)
	fallback := newProbeServer(t, http.StatusOK)

	s := NewSelector(Options{})
	sel, err := s.Select(context.Background(), Service{
		Name: "horizon", Primary: primary.URL + "/", Fallbacks: []string{fallback.URL}, ProbePath: "/health",
	})
	require.NoError(t, err)

	assert.Equal(t, primary.URL, sel.URL)
	assert.Equal(t, SourcePrimary, sel.Source)
	assert.Equal(t, "/health", primary.path.Load())
	assert.Equal(t, int32(0), fallback.hits.Load())
}

func TestSelectFallback(t *testing.T) {
	primary := newProbeServer(t, http.StatusServiceUnavailable)
	bad := newProbeServer(t, http.StatusNotFound)
	good := newProbeServer(t, http.StatusNoContent)

	s := NewSelector(Options{})
	sel, err := s.Select(context.Background(), Service{
		Name: "horizon", Primary: primary.URL, Fallbacks: []string{bad.URL, good.URL},
	})
	require.NoError(t, err)

	assert.Equal(t, good.URL, sel.URL)
	assert.Equal(t, SourceFallback, sel.Source)
}

func TestSelectFailOpen(t *testing.T) {
	primary := newProbeServer(t, http.StatusInternalServerError)
	dead := httptest.NewServer(http.NotFoundHandler())
	dead.Close()

	reg := prometheus.NewRegistry()
	s := NewSelector(Options{Metrics: metrics.New(reg)})
	sel, err := s.Select(context.Background(), Service{
		Name: "horizon", Primary: primary.URL, Fallbacks: []string{dead.URL},
	})
	require.NoError(t, err)

	assert.Equal(t, primary.URL, sel.URL)
	assert.Equal(t, SourceFailOpen, sel.Source)
	assert.Equal(t, 1, testutil.CollectAndCount(reg, "walletsync_endpoint_selections_total"))
}

func TestSelectProbeTimeout(t *testing.T) {
	release := make(chan struct{})
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer slow.Close()
	defer close(release)
	good := newProbeServer(t, http.StatusOK)

	s := NewSelector(Options{ProbeTimeout: 50 * time.Millisecond})
	sel, err := s.Select(context.Background(), Service{
		Name: "horizon", Primary: slow.URL, Fallbacks: []string{good.URL},
	})
	require.NoError(t, err)
	assert.Equal(t, good.URL, sel.URL)
}

func TestSelectDiscoveredCandidates(t *testing.T) {
	primary := newProbeServer(t, http.StatusBadGateway)
	lan := newProbeServer(t, http.StatusOK)

	var asked string
	s := NewSelector(Options{
		Candidates: func(ctx context.Context, service string) ([]string, error) {
			asked = service
			return []string{lan.URL}, nil
		},
	})
	sel, err := s.Select(context.Background(), Service{Name: "horizon", Primary: primary.URL})
	require.NoError(t, err)

	assert.Equal(t, "horizon", asked)
	assert.Equal(t, lan.URL, sel.URL)
	assert.Equal(t, SourceDiscovered, sel.Source)
}

func TestSelectCandidatesNotAskedWhenHealthy(t *testing.T) {
	primary := newProbeServer(t, http.StatusOK)

	s := NewSelector(Options{
		Candidates: func(ctx context.Context, service string) ([]string, error) {
			t.Error("Candidates called although primary is healthy")
			return nil, nil
		},
	})
	_, err := s.Select(context.Background(), Service{Name: "horizon", Primary: primary.URL})
	require.NoError(t, err)
}

func TestSelectCached(t *testing.T) {
	primary := newProbeServer(t, http.StatusOK)
	s := NewSelector(Options{})
	svc := Service{Name: "horizon", Primary: primary.URL}

	_, err := s.Select(context.Background(), svc)
	require.NoError(t, err)
	_, err = s.Select(context.Background(), svc)
	require.NoError(t, err)

	assert.Equal(t, int32(1), primary.hits.Load())

	sel, ok := s.Selected("horizon")
	assert.True(t, ok)
	assert.Equal(t, primary.URL, sel.URL)
	assert.Equal(t, primary.URL, s.URL("horizon"))
	assert.Equal(t, "", s.URL("multisig"))
}

func TestSelectConcurrentSharesProbe(t *testing.T) {
	gate := make(chan struct{})
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		<-gate
	}))
	defer srv.Close()

	s := NewSelector(Options{})
	svc := Service{Name: "horizon", Primary: srv.URL}

	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sel, err := s.Select(context.Background(), svc)
			assert.NoError(t, err)
			assert.Equal(t, srv.URL, sel.URL)
		}()
	}
	require.Eventually(t, func() bool { return hits.Load() == 1 }, time.Second, 5*time.Millisecond)
	close(gate)
	wg.Wait()

	assert.Equal(t, int32(1), hits.Load())
}

func TestReselect(t *testing.T) {
	primary := newProbeServer(t, http.StatusOK)
	fallback := newProbeServer(t, http.StatusOK)

	var changes []string
	s := NewSelector(Options{
		OnChange: func(service, oldURL, newURL string) {
			changes = append(changes, service+" "+oldURL+" -> "+newURL)
		},
	})
	svc := Service{Name: "horizon", Primary: primary.URL, Fallbacks: []string{fallback.URL}}

	_, err := s.Select(context.Background(), svc)
	require.NoError(t, err)

	_, err = s.Reselect(context.Background(), svc)
	require.NoError(t, err)
	assert.Empty(t, changes)

	primary.status.Store(http.StatusServiceUnavailable)
	sel, err := s.Reselect(context.Background(), svc)
	require.NoError(t, err)

	assert.Equal(t, fallback.URL, sel.URL)
	assert.Equal(t, []string{"horizon " + primary.URL + " -> " + fallback.URL}, changes)
}

func TestSelectAll(t *testing.T) {
	horizon := newProbeServer(t, http.StatusOK)
	multisig := newProbeServer(t, http.StatusOK)

	s := NewSelector(Options{})
	got, err := s.SelectAll(context.Background(),
		Service{Name: "horizon", Primary: horizon.URL},
		Service{Name: "multisig", Primary: multisig.URL},
	)
	require.NoError(t, err)

	assert.Len(t, got, 2)
	assert.Equal(t, horizon.URL, got["horizon"].URL)
	assert.Equal(t, multisig.URL, got["multisig"].URL)
}

func TestSelectInvalidService(t *testing.T) {
	s := NewSelector(Options{})

	_, err := s.Select(context.Background(), Service{Name: "horizon"})
	assert.True(t, errors.Is(err, ErrNoPrimary))

	_, err = s.SelectAll(context.Background(), Service{Primary: "http://x"})
	assert.True(t, errors.Is(err, ErrNoName))
}

func TestSelectCancelled(t *testing.T) {
	gate := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-gate
	}))
	defer srv.Close()
	defer close(gate)

	s := NewSelector(Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Select(ctx, Service{Name: "horizon", Primary: srv.URL})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSourceString(t *testing.T) {
	for src, want := range map[Source]string{
		SourcePrimary:    "PRIMARY",
		SourceFallback:   "FALLBACK",
		SourceDiscovered: "DISCOVERED",
		SourceFailOpen:   "FAIL_OPEN",
		Source(42):       "UNKNOWN",
	} {
		if got := src.String(); got != want {
			t.Errorf("String() = %q, want %q", got, want)
		}
	}
}
