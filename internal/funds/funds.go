// Package funds tracks account balances and moves value between accounts.
//
// It is the custody capability behind the auction ledger: bidders' funds are
// transferred into an auction's custody account when they bid, out to the
// seller on settlement, and back to losing bidders on refund.
package funds

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/mbd888/auctionledger/internal/metrics"
	"github.com/mbd888/auctionledger/internal/traces"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrSameAccount       = errors.New("source and destination account are the same")
	ErrBalanceOverflow   = errors.New("balance would exceed maximum amount")
)

// MaxAmount is the largest balance or transfer the store accepts. It keeps
// every value representable as a Postgres BIGINT.
const MaxAmount uint64 = math.MaxInt64

// EntryType classifies a journal entry.
type EntryType string

const (
	EntryDeposit     EntryType = "deposit"
	EntryTransferIn  EntryType = "transfer_in"
	EntryTransferOut EntryType = "transfer_out"
)

// Entry is one line of an account's journal.
type Entry struct {
	ID           string    `json:"id"`
	Account      string    `json:"account"`
	Type         EntryType `json:"type"`
	Amount       uint64    `json:"amount"`
	Counterparty string    `json:"counterparty,omitempty"`
	Reference    string    `json:"reference,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Balance is an account's current position. Unknown accounts read as zero.
type Balance struct {
	Address   string    `json:"address"`
	Available uint64    `json:"available"`
	TotalIn   uint64    `json:"totalIn"`
	TotalOut  uint64    `json:"totalOut"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Store persists balances and journal entries. Transfer must be atomic: the
// debit, the credit and both entries are applied together or not at all.
type Store interface {
	GetBalance(ctx context.Context, account string) (*Balance, error)
	Credit(ctx context.Context, account string, amount uint64, reference string) error
	Transfer(ctx context.Context, from, to string, amount uint64, reference string) error
	GetHistory(ctx context.Context, account string, limit int) ([]*Entry, error)
}

// Service validates and instruments balance operations.
type Service struct {
	store  Store
	logger *slog.Logger
}

// NewService creates a new funds service.
func NewService(store Store) *Service {
	return &Service{store: store, logger: slog.Default()}
}

// WithLogger sets the logger used for transfer failures.
func (s *Service) WithLogger(logger *slog.Logger) *Service {
	s.logger = logger
	return s
}

// Deposit credits an account from outside the system.
func (s *Service) Deposit(ctx context.Context, account string, amount uint64, reference string) error {
	if amount == 0 || amount > MaxAmount {
		return ErrInvalidAmount
	}
	return s.store.Credit(ctx, normalize(account), amount, reference)
}

// Transfer moves amount from one account to another.
func (s *Service) Transfer(ctx context.Context, from, to string, amount uint64, reference string) (err error) {
	from, to = normalize(from), normalize(to)

	ctx, span := traces.StartSpan(ctx, "funds.Transfer",
		traces.Account(from), traces.Amount(amount), traces.Reference(reference))
	defer func() { traces.End(span, err) }()

	if amount == 0 || amount > MaxAmount {
		return ErrInvalidAmount
	}
	if from == to {
		return ErrSameAccount
	}

	if err = s.store.Transfer(ctx, from, to, amount, reference); err != nil {
		metrics.FundTransfersTotal.WithLabelValues(transferResult(err)).Inc()
		if !errors.Is(err, ErrInsufficientFunds) {
			s.logger.Error("funds transfer failed",
				"from", from, "to", to, "amount", amount, "reference", reference, "error", err)
		}
		return fmt.Errorf("transfer %s: %w", reference, err)
	}
	metrics.FundTransfersTotal.WithLabelValues("ok").Inc()
	return nil
}

// Balance returns an account's balance.
func (s *Service) Balance(ctx context.Context, account string) (*Balance, error) {
	return s.store.GetBalance(ctx, normalize(account))
}

// History returns the newest journal entries for an account.
func (s *Service) History(ctx context.Context, account string, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.GetHistory(ctx, normalize(account), limit)
}

func normalize(account string) string {
	return strings.ToLower(strings.TrimSpace(account))
}

func transferResult(err error) string {
	switch {
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrBalanceOverflow):
		return "overflow"
	default:
		return "error"
	}
}
