package livedata

import (
	"context"
	"strings"
	"sync"

	"github.com/walletsync/walletsync-go/pkg/dedup"
	"github.com/walletsync/walletsync-go/pkg/eventstream"
	"github.com/walletsync/walletsync-go/pkg/horizon"
	"github.com/walletsync/walletsync-go/pkg/subscription"
)

// sequenced tags a snapshot with the order in which its fetch was issued.
// A snapshot from an earlier request never replaces one from a later
// request, whatever order the responses arrive in.
type sequenced[T any] struct {
	Seq   uint64
	Value T
}

// snapshotState tracks the applied request sequence and content digest of
// a snapshot resource.
type snapshotState struct {
	mu      sync.Mutex
	nextSeq uint64
	applied uint64
	digest  [32]byte
}

func (s *snapshotState) issue() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSeq++
	return s.nextSeq
}

// newer reports whether a snapshot with seq and content v would change the
// visible value.
func (s *snapshotState) newer(seq uint64, v any) bool {
	s.mu.Lock()
	stale := seq <= s.applied
	s.mu.Unlock()
	return !stale && s.changed(v)
}

// changed reports whether v differs from the applied content. Values that
// cannot be digested always count as changed.
func (s *snapshotState) changed(v any) bool {
	digest, err := dedup.Digest(v)
	if err != nil {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return digest != s.digest
}

func (s *snapshotState) apply(seq uint64, v any) {
	digest, _ := dedup.Digest(v)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applied = seq
	s.digest = digest
}

// SubscribeToOrders returns the shared target for an account's open
// orders. Trade and offer effects on the account trigger a refetch.
func (s *Service) SubscribeToOrders(endpoint, accountID string) *subscription.Target[[]horizon.Offer] {
	key := subscription.Key(endpoint, KindOrders, accountID)
	res := &ordersResource{
		svc:       s,
		client:    s.horizonClient(endpoint),
		key:       key,
		accountID: accountID,
	}
	return start(s, key, horizon.ServiceName, KindOrders, []horizon.Offer(nil), res)
}

type ordersResource struct {
	svc       *Service
	client    *horizon.Client
	key       string
	accountID string
	state     snapshotState
}

func (r *ordersResource) fetch(ctx context.Context) (sequenced[[]horizon.Offer], error) {
	seq := r.state.issue()
	offers, err := r.client.Offers(ctx, r.accountID, horizon.PageRequest{Limit: DefaultOffersLimit})
	if notYetPresent(err) {
		return sequenced[[]horizon.Offer]{Seq: seq}, nil
	}
	return sequenced[[]horizon.Offer]{Seq: seq, Value: offers}, err
}

func (r *ordersResource) Init(ctx context.Context, emit func([]horizon.Offer)) ([]horizon.Offer, error) {
	u, err := r.fetch(ctx)
	if err != nil {
		return nil, err
	}
	r.state.apply(u.Seq, u.Value)
	return u.Value, nil
}

func (r *ordersResource) SubscribeToUpdates(ctx context.Context, push func(sequenced[[]horizon.Offer]), fail func(error)) func() {
	return r.svc.stream(ctx, horizon.ServiceName, r.key,
		func() string { return r.client.EffectsStreamURL(r.accountID, horizon.CursorNow) },
		func(m eventstream.Message) {
			if isOfferEffect(horizon.RecordType(m.Data)) {
				push(sequenced[[]horizon.Offer]{})
			}
		})
}

func (r *ordersResource) FetchUpdate(ctx context.Context, hint *sequenced[[]horizon.Offer]) (sequenced[[]horizon.Offer], bool, error) {
	u, err := r.fetch(ctx)
	if err != nil {
		return u, false, err
	}
	return u, true, nil
}

func (r *ordersResource) ShouldApplyUpdate(u sequenced[[]horizon.Offer]) bool {
	return r.state.newer(u.Seq, u.Value)
}

func (r *ordersResource) ApplyUpdate(u sequenced[[]horizon.Offer]) []horizon.Offer {
	r.state.apply(u.Seq, u.Value)
	return u.Value
}

func isOfferEffect(effectType string) bool {
	return effectType == "trade" || strings.HasPrefix(effectType, "offer_")
}
