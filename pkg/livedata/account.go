package livedata

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/walletsync/walletsync-go/pkg/connection"
	"github.com/walletsync/walletsync-go/pkg/eventstream"
	"github.com/walletsync/walletsync-go/pkg/horizon"
	"github.com/walletsync/walletsync-go/pkg/subscription"
	"github.com/walletsync/walletsync-go/pkg/syncerr"
)

// AccountState is the visible value of an account subscription.
type AccountState struct {
	ID string

	// Activated is false while the account does not exist on the ledger
	// yet. Account is the zero value then.
	Activated bool
	Account   horizon.Account

	// Loading is true until the first fetch finished.
	Loading bool
}

// SubscribeToAccount returns the shared target for an account. The first
// value is a Loading placeholder. If the account does not exist yet, an
// inactive state is emitted and the ledger is polled until it appears.
// The target closes when the account is merged away.
func (s *Service) SubscribeToAccount(endpoint, accountID string) *subscription.Target[AccountState] {
	key := subscription.Key(endpoint, KindAccount, accountID)
	res := &accountResource{
		svc:       s,
		client:    s.horizonClient(endpoint),
		key:       key,
		accountID: accountID,
	}
	return start(s, key, horizon.ServiceName, KindAccount, AccountState{ID: accountID, Loading: true}, res)
}

type accountResource struct {
	svc       *Service
	client    *horizon.Client
	key       string
	accountID string

	mu      sync.Mutex
	current horizon.Account
}

func (r *accountResource) Init(ctx context.Context, emit func(AccountState)) (AccountState, error) {
	t := r.svc.cfg.Timing
	backoff := connection.ActivationBackoff(t.ActivationInitial, t.ActivationMax, t.ActivationMultiplier)
	announced := false

	for {
		account, err := r.client.Account(ctx, r.accountID)
		if err == nil {
			r.mu.Lock()
			r.current = account
			r.mu.Unlock()
			return AccountState{ID: r.accountID, Activated: true, Account: account}, nil
		}
		if !notYetPresent(err) {
			return AccountState{}, err
		}

		if !announced {
			announced = true
			r.svc.logger.Info("account not activated yet, waiting", "account", r.accountID)
			emit(AccountState{ID: r.accountID})
		}
		select {
		case <-ctx.Done():
			return AccountState{}, ctx.Err()
		case <-r.svc.clock.After(backoff.Next()):
		}
	}
}

func (r *accountResource) SubscribeToUpdates(ctx context.Context, push func(horizon.Account), fail func(error)) func() {
	return r.svc.stream(ctx, horizon.ServiceName, r.key,
		func() string { return r.client.AccountStreamURL(r.accountID) },
		func(m eventstream.Message) {
			var account horizon.Account
			if err := json.Unmarshal(m.Data, &account); err != nil {
				fail(syncerr.Unexpected("decode account push", err))
				return
			}
			push(account)
		})
}

// FetchUpdate always fetches, since pushed records may come from a replica
// that is ahead of the one serving REST. The account existed when Init
// returned, so a 404 now means it was merged away.
func (r *accountResource) FetchUpdate(ctx context.Context, hint *horizon.Account) (horizon.Account, bool, error) {
	account, err := r.client.Account(ctx, r.accountID)
	if err != nil {
		if notYetPresent(err) {
			return horizon.Account{}, false, fmt.Errorf("account %s: %w", r.accountID, syncerr.ErrResourceGone)
		}
		return horizon.Account{}, false, err
	}
	if hint != nil && account.LastModifiedLedger < hint.LastModifiedLedger {
		return account, false, nil
	}
	return account, true, nil
}

func (r *accountResource) ShouldApplyUpdate(account horizon.Account) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return account.LastModifiedLedger > r.current.LastModifiedLedger
}

func (r *accountResource) ApplyUpdate(account horizon.Account) AccountState {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current = account
	return AccountState{ID: r.accountID, Activated: true, Account: account}
}
