package funds

import (
	"context"
	"sync"
	"time"

	"github.com/mbd888/auctionledger/internal/idgen"
)

// MemoryStore is an in-memory funds store for development and tests.
type MemoryStore struct {
	balances map[string]*Balance
	entries  []*Entry
	mu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory funds store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		balances: make(map[string]*Balance),
	}
}

func (m *MemoryStore) GetBalance(ctx context.Context, account string) (*Balance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if bal, ok := m.balances[account]; ok {
		cp := *bal
		return &cp, nil
	}
	return &Balance{Address: account, UpdatedAt: time.Now()}, nil
}

func (m *MemoryStore) Credit(ctx context.Context, account string, amount uint64, reference string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	bal := m.balanceLocked(account)
	if bal.Available > MaxAmount-amount {
		return ErrBalanceOverflow
	}

	now := time.Now()
	bal.Available += amount
	bal.TotalIn += amount
	bal.UpdatedAt = now

	m.entries = append(m.entries, &Entry{
		ID:        idgen.WithPrefix("fe_"),
		Account:   account,
		Type:      EntryDeposit,
		Amount:    amount,
		Reference: reference,
		CreatedAt: now,
	})
	return nil
}

func (m *MemoryStore) Transfer(ctx context.Context, from, to string, amount uint64, reference string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	src, ok := m.balances[from]
	if !ok || src.Available < amount {
		return ErrInsufficientFunds
	}
	dst := m.balanceLocked(to)
	if dst.Available > MaxAmount-amount {
		return ErrBalanceOverflow
	}

	now := time.Now()
	src.Available -= amount
	src.TotalOut += amount
	src.UpdatedAt = now
	dst.Available += amount
	dst.TotalIn += amount
	dst.UpdatedAt = now

	m.entries = append(m.entries,
		&Entry{
			ID:           idgen.WithPrefix("fe_"),
			Account:      from,
			Type:         EntryTransferOut,
			Amount:       amount,
			Counterparty: to,
			Reference:    reference,
			CreatedAt:    now,
		},
		&Entry{
			ID:           idgen.WithPrefix("fe_"),
			Account:      to,
			Type:         EntryTransferIn,
			Amount:       amount,
			Counterparty: from,
			Reference:    reference,
			CreatedAt:    now,
		},
	)
	return nil
}

func (m *MemoryStore) GetHistory(ctx context.Context, account string, limit int) ([]*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Entry
	for i := len(m.entries) - 1; i >= 0 && len(result) < limit; i-- {
		if e := m.entries[i]; e.Account == account {
			cp := *e
			result = append(result, &cp)
		}
	}
	return result, nil
}

// balanceLocked returns the live balance for account, creating it at zero.
// Caller must hold m.mu for writing.
func (m *MemoryStore) balanceLocked(account string) *Balance {
	bal, ok := m.balances[account]
	if !ok {
		bal = &Balance{Address: account}
		m.balances[account] = bal
	}
	return bal
}

var _ Store = (*MemoryStore)(nil)
