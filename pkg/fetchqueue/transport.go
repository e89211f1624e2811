package fetchqueue

import (
	"context"
	"io"
	"net/http"
	"sync"
)

type priorityKey struct{}

// WithPriority returns a context that makes Transport queue its requests at p.
func WithPriority(ctx context.Context, p Priority) context.Context {
	return context.WithValue(ctx, priorityKey{}, p)
}

// PriorityFrom returns the priority stored in ctx, or def.
func PriorityFrom(ctx context.Context, def Priority) Priority {
	if p, ok := ctx.Value(priorityKey{}).(Priority); ok {
		return p
	}
	return def
}

// Transport is an http.RoundTripper that runs every request through a Queue.
type Transport struct {
	// Base performs the request. Nil uses http.DefaultTransport.
	Base http.RoundTripper

	Queue *Queue

	// DefaultPriority applies to requests without WithPriority.
	DefaultPriority Priority
}

// NewClient returns an http.Client whose requests pass through q.
func NewClient(q *Queue, base http.RoundTripper) *http.Client {
	return &http.Client{Transport: &Transport{Base: base, Queue: q, DefaultPriority: PriorityNormal}}
}

// RoundTrip implements http.RoundTripper. The slot is held until the
// response body is closed or read to the end.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}

	release, err := t.Queue.Acquire(req.Context(), PriorityFrom(req.Context(), t.DefaultPriority))
	if err != nil {
		return nil, err
	}

	resp, err := base.RoundTrip(req)
	if err != nil {
		release()
		return nil, err
	}
	resp.Body = &releasingBody{ReadCloser: resp.Body, release: release}
	return resp, nil
}

type releasingBody struct {
	io.ReadCloser
	release func()
	once    sync.Once
}

func (b *releasingBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	if err == io.EOF {
		b.once.Do(b.release)
	}
	return n, err
}

func (b *releasingBody) Close() error {
	err := b.ReadCloser.Close()
	b.once.Do(b.release)
	return err
}

// Compile-time interface satisfaction check.
var _ http.RoundTripper = (*Transport)(nil)
