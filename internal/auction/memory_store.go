package auction

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory auction store for demo/development mode.
type MemoryStore struct {
	auctions map[string]*Ledger
	custody  map[string]string                   // custody account -> auction ID
	records  map[string]map[string]*EscrowRecord // auction ID -> owner -> record
	mu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory auction store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		auctions: make(map[string]*Ledger),
		custody:  make(map[string]string),
		records:  make(map[string]map[string]*EscrowRecord),
	}
}

func (m *MemoryStore) CreateAuction(ctx context.Context, l *Ledger) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, taken := m.custody[l.CustodyAccount]; taken {
		return fmt.Errorf("%w: custody account already bound to an auction", ErrInvalidAccount)
	}
	m.auctions[l.ID] = copyLedger(l)
	m.custody[l.CustodyAccount] = l.ID
	return nil
}

func (m *MemoryStore) IsCustodyAccount(ctx context.Context, addr string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.custody[addr]
	return ok, nil
}

func (m *MemoryStore) GetAuction(ctx context.Context, id string) (*Ledger, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	l, ok := m.auctions[id]
	if !ok {
		return nil, ErrAuctionNotFound
	}
	return copyLedger(l), nil
}

func (m *MemoryStore) UpdateAuction(ctx context.Context, l *Ledger) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.auctions[l.ID]; !ok {
		return ErrAuctionNotFound
	}
	m.auctions[l.ID] = copyLedger(l)
	return nil
}

func (m *MemoryStore) ListAuctions(ctx context.Context, filter ListFilter) ([]*Ledger, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Ledger
	for _, l := range m.auctions {
		if filter.Phase != "" && l.Phase != filter.Phase {
			continue
		}
		if filter.Seller != "" && l.Seller != filter.Seller {
			continue
		}
		if !filter.After.Follows(l.CreatedAt, l.ID) {
			continue
		}
		result = append(result, copyLedger(l))
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID > result[j].ID
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (m *MemoryStore) ListAwaitingSettlement(ctx context.Context, now time.Time, limit int) ([]*Ledger, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Ledger
	for _, l := range m.auctions {
		if l.AwaitingSettlement(now) {
			result = append(result, copyLedger(l))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].EndTime().Before(result[j].EndTime())
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MemoryStore) ApplyBid(ctx context.Context, l *Ledger, rec *EscrowRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.auctions[l.ID]; !ok {
		return ErrAuctionNotFound
	}
	m.auctions[l.ID] = copyLedger(l)

	byOwner, ok := m.records[l.ID]
	if !ok {
		byOwner = make(map[string]*EscrowRecord)
		m.records[l.ID] = byOwner
	}
	cp := *rec
	byOwner[rec.Owner] = &cp
	return nil
}

func (m *MemoryStore) GetRecord(ctx context.Context, auctionID, owner string) (*EscrowRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[auctionID][owner]
	if !ok {
		return nil, ErrRecordNotFound
	}
	cp := *rec
	return &cp, nil
}

func (m *MemoryStore) ListRecords(ctx context.Context, auctionID string) ([]*EscrowRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*EscrowRecord, 0, len(m.records[auctionID]))
	for _, rec := range m.records[auctionID] {
		cp := *rec
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].EscrowedAmount > result[j].EscrowedAmount
	})
	return result, nil
}

func (m *MemoryStore) DeleteRecord(ctx context.Context, auctionID, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[auctionID][owner]; !ok {
		return ErrRecordNotFound
	}
	delete(m.records[auctionID], owner)
	return nil
}

func copyLedger(l *Ledger) *Ledger {
	cp := *l
	if l.ClosedAt != nil {
		t := *l.ClosedAt
		cp.ClosedAt = &t
	}
	return &cp
}

var _ Store = (*MemoryStore)(nil)
