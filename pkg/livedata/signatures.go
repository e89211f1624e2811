package livedata

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/walletsync/walletsync-go/pkg/eventstream"
	"github.com/walletsync/walletsync-go/pkg/multisig"
	"github.com/walletsync/walletsync-go/pkg/subscription"
)

// SignatureRequests is the visible value of a signature request
// subscription.
type SignatureRequests struct {
	// Requests are the pending requests concerning any subscribed account.
	Requests []multisig.Request

	// LastEvent is the push event that led to this value, nil for polls and
	// the initial load.
	LastEvent *multisig.Event
}

// signatureUpdate is a fetched request list plus the event that caused the
// fetch.
type signatureUpdate struct {
	Event    *multisig.Event
	Requests []multisig.Request
}

// SubscribeToSignatureRequests returns the shared target for the signature
// requests of a set of accounts. The order of accountIDs does not matter.
func (s *Service) SubscribeToSignatureRequests(endpoint string, accountIDs []string) *subscription.Target[SignatureRequests] {
	ids := slices.Clone(accountIDs)
	slices.Sort(ids)
	ids = slices.Compact(ids)

	key := subscription.Key(endpoint, KindSignatureRequests, ids...)
	res := &signatureResource{
		svc:    s,
		client: s.multisigClient(endpoint),
		key:    key,
		ids:    ids,
	}
	return start(s, key, multisig.ServiceName, KindSignatureRequests, SignatureRequests{}, res)
}

type signatureResource struct {
	svc    *Service
	client *multisig.Client
	key    string
	ids    []string

	mu       sync.Mutex
	current  map[string]multisig.Request
	snapshot snapshotState
}

func (r *signatureResource) Init(ctx context.Context, emit func(SignatureRequests)) (SignatureRequests, error) {
	requests, err := r.client.Requests(ctx, r.ids)
	if err != nil && !notYetPresent(err) {
		return SignatureRequests{}, err
	}
	r.store(requests)
	return SignatureRequests{Requests: requests}, nil
}

func (r *signatureResource) SubscribeToUpdates(ctx context.Context, push func(signatureUpdate), fail func(error)) func() {
	return r.svc.stream(ctx, multisig.ServiceName, r.key,
		func() string { return r.client.StreamURL(r.ids) },
		func(m eventstream.Message) {
			ev, err := multisig.ParseEvent(m)
			if errors.Is(err, multisig.ErrIgnoredEvent) {
				return
			}
			if err != nil {
				fail(err)
				return
			}
			push(signatureUpdate{Event: &ev})
		})
}

// FetchUpdate lists the requests again. The update is only complete once
// the listed version of the pushed request has caught up with the event.
func (r *signatureResource) FetchUpdate(ctx context.Context, hint *signatureUpdate) (signatureUpdate, bool, error) {
	requests, err := r.client.Requests(ctx, r.ids)
	if err != nil {
		if notYetPresent(err) {
			return signatureUpdate{}, false, nil
		}
		return signatureUpdate{}, false, err
	}
	u := signatureUpdate{Requests: requests}
	if hint != nil {
		u.Event = hint.Event
		if !reflects(requests, *hint.Event) {
			return u, false, nil
		}
	}
	return u, true, nil
}

// ShouldApplyUpdate rejects lists that carry an older version of any known
// request, and lists identical to the visible one.
func (r *signatureResource) ShouldApplyUpdate(u signatureUpdate) bool {
	r.mu.Lock()
	for _, req := range u.Requests {
		if known, ok := r.current[req.ID]; ok && known.Newer(req) {
			r.mu.Unlock()
			return false
		}
	}
	r.mu.Unlock()
	return r.snapshot.changed(u.Requests)
}

func (r *signatureResource) ApplyUpdate(u signatureUpdate) SignatureRequests {
	r.store(u.Requests)
	return SignatureRequests{Requests: u.Requests, LastEvent: u.Event}
}

func (r *signatureResource) store(requests []multisig.Request) {
	r.mu.Lock()
	r.current = make(map[string]multisig.Request, len(requests))
	for _, req := range requests {
		r.current[req.ID] = req
	}
	r.mu.Unlock()
	r.snapshot.apply(0, requests)
}

// reflects reports whether requests already show the change announced by
// ev. A submitted request may have left the pending list.
func reflects(requests []multisig.Request, ev multisig.Event) bool {
	for _, req := range requests {
		if req.ID == ev.Request.ID {
			return !ev.Request.Newer(req)
		}
	}
	return ev.Kind == multisig.EventSubmitted
}
