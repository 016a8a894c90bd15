package payments

import (
	"context"
	"sync"
)

// BalanceStore persists account balances. Apply must reject any batch that
// would drive an account negative and must apply the whole batch or nothing.
type BalanceStore interface {
	Balance(ctx context.Context, acct Account) (int64, error)
	Apply(ctx context.Context, entries []Entry) error
}

// MemoryBalanceStore keeps balances in process. Used by tests and by the
// single node deployment profile.
type MemoryBalanceStore struct {
	mu       sync.Mutex
	balances map[Account]int64
}

func NewMemoryBalanceStore() *MemoryBalanceStore {
	return &MemoryBalanceStore{balances: make(map[Account]int64)}
}

func (s *MemoryBalanceStore) Balance(_ context.Context, acct Account) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[acct], nil
}

func (s *MemoryBalanceStore) Apply(_ context.Context, entries []Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make(map[Account]int64, len(entries))
	for _, e := range entries {
		bal, seen := next[e.Account]
		if !seen {
			bal = s.balances[e.Account]
		}
		bal += e.Delta
		if bal < 0 {
			return ErrOverdraft
		}
		next[e.Account] = bal
	}
	for acct, bal := range next {
		s.balances[acct] = bal
	}
	return nil
}
