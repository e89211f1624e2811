package livedata

import (
	"context"
	"encoding/json"

	"github.com/walletsync/walletsync-go/pkg/eventstream"
	"github.com/walletsync/walletsync-go/pkg/horizon"
	"github.com/walletsync/walletsync-go/pkg/subscription"
	"github.com/walletsync/walletsync-go/pkg/syncerr"
)

// SubscribeToOrderbook returns the shared target for the order book of a
// trading pair.
func (s *Service) SubscribeToOrderbook(endpoint string, selling, buying horizon.Asset) *subscription.Target[horizon.Orderbook] {
	key := subscription.Key(endpoint, KindOrderbook, selling.String(), buying.String())
	res := &orderbookResource{
		svc:     s,
		client:  s.horizonClient(endpoint),
		key:     key,
		selling: selling,
		buying:  buying,
	}
	initial := horizon.Orderbook{Base: selling, Counter: buying}
	return start(s, key, horizon.ServiceName, KindOrderbook, initial, res)
}

type orderbookResource struct {
	svc     *Service
	client  *horizon.Client
	key     string
	selling horizon.Asset
	buying  horizon.Asset
	state   snapshotState
}

func (r *orderbookResource) fetch(ctx context.Context) (sequenced[horizon.Orderbook], error) {
	seq := r.state.issue()
	book, err := r.client.Orderbook(ctx, r.selling, r.buying, DefaultOrderbookLimit)
	return sequenced[horizon.Orderbook]{Seq: seq, Value: book}, err
}

func (r *orderbookResource) Init(ctx context.Context, emit func(horizon.Orderbook)) (horizon.Orderbook, error) {
	u, err := r.fetch(ctx)
	if err != nil {
		return horizon.Orderbook{}, err
	}
	r.state.apply(u.Seq, u.Value)
	return u.Value, nil
}

// SubscribeToUpdates pushes complete order books. They get a sequence
// number on arrival.
func (r *orderbookResource) SubscribeToUpdates(ctx context.Context, push func(sequenced[horizon.Orderbook]), fail func(error)) func() {
	return r.svc.stream(ctx, horizon.ServiceName, r.key,
		func() string { return r.client.OrderbookStreamURL(r.selling, r.buying, horizon.CursorNow) },
		func(m eventstream.Message) {
			var book horizon.Orderbook
			if err := json.Unmarshal(m.Data, &book); err != nil {
				fail(syncerr.Unexpected("decode orderbook push", err))
				return
			}
			push(sequenced[horizon.Orderbook]{Seq: r.state.issue(), Value: book})
		})
}

// FetchUpdate uses a pushed book as is, since the stream carries complete
// snapshots. Polls fetch.
func (r *orderbookResource) FetchUpdate(ctx context.Context, hint *sequenced[horizon.Orderbook]) (sequenced[horizon.Orderbook], bool, error) {
	if hint != nil {
		return *hint, true, nil
	}
	u, err := r.fetch(ctx)
	if err != nil {
		return u, false, err
	}
	return u, true, nil
}

func (r *orderbookResource) ShouldApplyUpdate(u sequenced[horizon.Orderbook]) bool {
	return r.state.newer(u.Seq, u.Value)
}

func (r *orderbookResource) ApplyUpdate(u sequenced[horizon.Orderbook]) horizon.Orderbook {
	r.state.apply(u.Seq, u.Value)
	return u.Value
}
