package livedata

import (
	"context"
	"encoding/json"
	"slices"
	"sync"

	"github.com/walletsync/walletsync-go/pkg/eventstream"
	"github.com/walletsync/walletsync-go/pkg/horizon"
	"github.com/walletsync/walletsync-go/pkg/subscription"
	"github.com/walletsync/walletsync-go/pkg/syncerr"
)

// SubscribeToEffects returns the shared target for an account's most recent
// effects, newest first.
func (s *Service) SubscribeToEffects(endpoint, accountID string) *subscription.Target[[]horizon.Effect] {
	key := subscription.Key(endpoint, KindEffects, accountID)
	client := s.horizonClient(endpoint)
	res := &feedResource[horizon.Effect]{
		svc:       s,
		key:       key,
		accountID: accountID,
		limit:     s.cfg.EffectsLimit,
		list:      client.Effects,
		streamURL: client.EffectsStreamURL,
		token:     func(e horizon.Effect) string { return e.PagingToken },
	}
	return start(s, key, horizon.ServiceName, KindEffects, []horizon.Effect(nil), res)
}

// SubscribeToRecentTransactions returns the shared target for an account's
// most recent transactions, newest first.
func (s *Service) SubscribeToRecentTransactions(endpoint, accountID string) *subscription.Target[[]horizon.Transaction] {
	key := subscription.Key(endpoint, KindTransactions, accountID)
	client := s.horizonClient(endpoint)
	res := &feedResource[horizon.Transaction]{
		svc:       s,
		key:       key,
		accountID: accountID,
		limit:     s.cfg.TransactionsLimit,
		list:      client.Transactions,
		streamURL: client.TransactionsStreamURL,
		token:     func(tx horizon.Transaction) string { return tx.PagingToken },
	}
	return start(s, key, horizon.ServiceName, KindTransactions, []horizon.Transaction(nil), res)
}

// feedResource keeps the newest records of a paged collection. The paging
// token of the newest applied record is the cursor for both the push
// stream and catch-up fetches.
type feedResource[T any] struct {
	svc       *Service
	key       string
	accountID string
	limit     int
	list      func(ctx context.Context, accountID string, req horizon.PageRequest) ([]T, error)
	streamURL func(accountID, cursor string) string
	token     func(T) string

	mu     sync.Mutex
	cursor string
	items  []T
}

func (r *feedResource[T]) Init(ctx context.Context, emit func([]T)) ([]T, error) {
	items, err := r.list(ctx, r.accountID, horizon.PageRequest{Limit: r.limit, Order: horizon.OrderDesc})
	if err != nil && !notYetPresent(err) {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = items
	if len(items) > 0 {
		r.cursor = r.token(items[0])
	}
	return slices.Clone(r.items), nil
}

func (r *feedResource[T]) SubscribeToUpdates(ctx context.Context, push func([]T), fail func(error)) func() {
	return r.svc.stream(ctx, horizon.ServiceName, r.key,
		func() string { return r.streamURL(r.accountID, r.currentCursor()) },
		func(m eventstream.Message) {
			if !horizon.IsRecord(m.Data) {
				return
			}
			var item T
			if err := json.Unmarshal(m.Data, &item); err != nil {
				fail(syncerr.Unexpected("decode "+r.key, err))
				return
			}
			push([]T{item})
		})
}

// FetchUpdate fetches everything after the current cursor. The hint only
// says that something newer exists.
func (r *feedResource[T]) FetchUpdate(ctx context.Context, hint *[]T) ([]T, bool, error) {
	req := horizon.PageRequest{Limit: r.limit, Order: horizon.OrderDesc}
	if cursor := r.currentCursor(); cursor != "" {
		req = horizon.PageRequest{Cursor: cursor, Limit: r.limit, Order: horizon.OrderAsc}
	}
	items, err := r.list(ctx, r.accountID, req)
	if err != nil {
		if notYetPresent(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return items, len(items) > 0, nil
}

func (r *feedResource[T]) ShouldApplyUpdate(items []T) bool {
	cursor := r.currentCursor()
	for _, item := range items {
		if cursor == "" || horizon.Newer(r.token(item), cursor) {
			return true
		}
	}
	return false
}

func (r *feedResource[T]) ApplyUpdate(items []T) []T {
	r.mu.Lock()
	defer r.mu.Unlock()

	var fresh []T
	for _, item := range items {
		if r.cursor == "" || horizon.Newer(r.token(item), r.cursor) {
			fresh = append(fresh, item)
		}
	}
	slices.SortStableFunc(fresh, func(a, b T) int {
		return horizon.CompareCursors(r.token(b), r.token(a))
	})

	merged := append(fresh, r.items...)
	if len(merged) > r.limit {
		merged = merged[:r.limit]
	}
	r.items = merged
	if len(merged) > 0 {
		r.cursor = r.token(merged[0])
	}
	return slices.Clone(r.items)
}

func (r *feedResource[T]) currentCursor() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cursor
}
