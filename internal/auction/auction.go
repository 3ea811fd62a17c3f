// Package auction implements an escrowed ascending auction ledger.
//
// Flow:
//  1. Seller initializes an auction → a custody account is bound to it
//  2. Bidders outbid each other → each bidder's latest bid sits in custody
//  3. Window elapses, seller ends the auction → highest bid paid to seller
//  4. Losing bidders refund → escrow and storage deposit returned, record deleted
package auction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/mbd888/auctionledger/internal/idgen"
	"github.com/mbd888/auctionledger/internal/metrics"
	"github.com/mbd888/auctionledger/internal/pagination"
	"github.com/mbd888/auctionledger/internal/retry"
	"github.com/mbd888/auctionledger/internal/syncutil"
	"github.com/mbd888/auctionledger/internal/traces"
	"github.com/mbd888/auctionledger/internal/validation"
)

var (
	ErrBidTooLow            = errors.New("bid must exceed the current highest bid")
	ErrAlreadyHighestBidder = errors.New("bidder already holds the highest bid")
	ErrAuctionStillOpen     = errors.New("auction is still open")
	ErrAuctionClosed        = errors.New("auction is closed")
	ErrWrongAccount         = errors.New("caller is not authorized for this operation")
	ErrRecordNotFound       = errors.New("escrow record not found")
	ErrAuctionNotFound      = errors.New("auction not found")
	ErrInvalidDuration      = errors.New("duration must be positive")
	ErrInvalidAmount        = errors.New("invalid amount")
	ErrInvalidAccount       = errors.New("invalid account")
	ErrInsufficientFunds    = errors.New("insufficient funds")
)

// MaxAmount is the largest price or bid accepted.
const MaxAmount uint64 = math.MaxInt64

// DefaultStorageCost is charged once per escrow record when none is configured.
const DefaultStorageCost uint64 = 1_000

// Phase is the lifecycle stage of an auction. It only moves open → closed.
type Phase string

const (
	PhaseOpen   Phase = "open"
	PhaseClosed Phase = "closed"
)

// Ledger is the state of a single auction.
type Ledger struct {
	ID             string        `json:"id"`
	Seller         string        `json:"seller"`
	CustodyAccount string        `json:"custodyAccount"`
	StartTime      time.Time     `json:"startTime"`
	Duration       time.Duration `json:"-"`
	InitialPrice   uint64        `json:"initialPrice"`
	HighestBid     uint64        `json:"highestBid"`
	HighestBidder  string        `json:"highestBidder,omitempty"`
	Phase          Phase         `json:"phase"`
	BidCount       int           `json:"bidCount"`
	ClosedAt       *time.Time    `json:"closedAt,omitempty"`
	CreatedAt      time.Time     `json:"createdAt"`
	UpdatedAt      time.Time     `json:"updatedAt"`
}

// EndTime is when the bidding window elapses.
func (l *Ledger) EndTime() time.Time {
	return l.StartTime.Add(l.Duration)
}

// AcceptingBids reports whether a bid placed at now can be accepted.
func (l *Ledger) AcceptingBids(now time.Time) bool {
	return l.Phase == PhaseOpen && now.Before(l.EndTime())
}

// AwaitingSettlement reports whether the window has elapsed but the seller
// has not ended the auction yet.
func (l *Ledger) AwaitingSettlement(now time.Time) bool {
	return l.Phase == PhaseOpen && !now.Before(l.EndTime())
}

func (l *Ledger) MarshalJSON() ([]byte, error) {
	type plain Ledger
	return json.Marshal(struct {
		*plain
		DurationMs int64     `json:"durationMs"`
		EndTime    time.Time `json:"endTime"`
	}{(*plain)(l), l.Duration.Milliseconds(), l.EndTime()})
}

func (l *Ledger) UnmarshalJSON(data []byte) error {
	type plain Ledger
	aux := struct {
		*plain
		DurationMs int64 `json:"durationMs"`
	}{plain: (*plain)(l)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	l.Duration = time.Duration(aux.DurationMs) * time.Millisecond
	return nil
}

// EscrowRecord holds one bidder's custody position in one auction.
type EscrowRecord struct {
	AuctionID      string    `json:"auctionId"`
	Owner          string    `json:"owner"`
	EscrowedAmount uint64    `json:"escrowedAmount"`
	StorageDeposit uint64    `json:"storageDeposit"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// ListFilter narrows ListAuctions. Zero values match everything.
type ListFilter struct {
	Phase  Phase
	Seller string
	Limit  int
	After  *pagination.Cursor // resume after this (createdAt, id) key
}

// Store persists auctions and escrow records.
type Store interface {
	CreateAuction(ctx context.Context, l *Ledger) error
	GetAuction(ctx context.Context, id string) (*Ledger, error)
	UpdateAuction(ctx context.Context, l *Ledger) error
	ListAuctions(ctx context.Context, filter ListFilter) ([]*Ledger, error)
	ListAwaitingSettlement(ctx context.Context, now time.Time, limit int) ([]*Ledger, error)
	// IsCustodyAccount reports whether addr holds escrow for any auction.
	IsCustodyAccount(ctx context.Context, addr string) (bool, error)

	// ApplyBid writes the updated auction and the bidder's record together.
	ApplyBid(ctx context.Context, l *Ledger, rec *EscrowRecord) error
	GetRecord(ctx context.Context, auctionID, owner string) (*EscrowRecord, error)
	ListRecords(ctx context.Context, auctionID string) ([]*EscrowRecord, error)
	DeleteRecord(ctx context.Context, auctionID, owner string) error
}

// Bank moves value between accounts. Implementations report a short balance
// as ErrInsufficientFunds.
type Bank interface {
	Transfer(ctx context.Context, from, to string, amount uint64, reference string) error
}

// EventType names a lifecycle notification.
type EventType string

const (
	EventAuctionCreated EventType = "auction_created"
	EventBidPlaced      EventType = "bid_placed"
	EventAuctionSettled EventType = "auction_settled"
	EventRefundIssued   EventType = "refund_issued"
	EventAuctionExpired EventType = "auction_expired"
)

// Event describes a committed state change.
type Event struct {
	Type      EventType `json:"type"`
	AuctionID string    `json:"auctionId"`
	Account   string    `json:"account,omitempty"`
	Amount    uint64    `json:"amount,omitempty"`
	Auction   *Ledger   `json:"auction,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// EventEmitter receives events after a change is persisted. Emit must not block.
type EventEmitter interface {
	Emit(event Event)
}

// InitializeRequest contains the parameters for creating an auction.
type InitializeRequest struct {
	Seller         string
	CustodyAccount string
	Duration       time.Duration
	InitialPrice   uint64
}

// BidResult is returned by a successful bid.
type BidResult struct {
	Auction *Ledger       `json:"auction"`
	Escrow  *EscrowRecord `json:"escrow"`
	Charged uint64        `json:"charged"`
}

// RefundResult is returned by a successful refund.
type RefundResult struct {
	Auction        *Ledger `json:"auction"`
	Owner          string  `json:"owner"`
	Refunded       uint64  `json:"refunded"`
	StorageDeposit uint64  `json:"storageDeposit"`
}

// Service implements the auction state machine.
type Service struct {
	store        Store
	bank         Bank
	locks        *syncutil.KeyedMutex
	now          func() time.Time
	storageCost  uint64
	reserve      string
	emitter      EventEmitter
	logger       *slog.Logger
	compensation retry.Policy
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithStorageCost sets the one-time cost charged when a bidder's record is created.
func WithStorageCost(cost uint64) Option {
	return func(s *Service) { s.storageCost = cost }
}

// WithReserveAccount sets the account that holds storage deposits.
func WithReserveAccount(addr string) Option {
	return func(s *Service) { s.reserve = validation.NormalizeAccount(addr) }
}

// WithEmitter sets the event sink.
func WithEmitter(e EventEmitter) Option {
	return func(s *Service) { s.emitter = e }
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithCompensationPolicy overrides the retry policy for undoing transfers.
func WithCompensationPolicy(p retry.Policy) Option {
	return func(s *Service) { s.compensation = p }
}

// DefaultReserveAccount holds storage deposits unless configured otherwise.
const DefaultReserveAccount = "0x00000000000000000000000000000000000000ee"

// NewService creates a new auction service.
func NewService(store Store, bank Bank, opts ...Option) *Service {
	s := &Service{
		store:        store,
		bank:         bank,
		locks:        syncutil.NewKeyedMutex(0),
		now:          time.Now,
		storageCost:  DefaultStorageCost,
		reserve:      DefaultReserveAccount,
		logger:       slog.Default(),
		compensation: retry.Compensation,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Initialize creates a new open auction. No funds move.
func (s *Service) Initialize(ctx context.Context, req InitializeRequest) (l *Ledger, err error) {
	ctx, span := traces.StartSpan(ctx, "auction.Initialize", traces.Account(req.Seller))
	defer func() { traces.End(span, err) }()

	seller := validation.NormalizeAccount(req.Seller)
	if !validation.IsValidAccount(seller) {
		return nil, fmt.Errorf("%w: seller", ErrInvalidAccount)
	}
	// Durations persist in whole milliseconds.
	if req.Duration < time.Millisecond {
		return nil, ErrInvalidDuration
	}
	if req.InitialPrice > MaxAmount {
		return nil, ErrInvalidAmount
	}

	custody := validation.NormalizeAccount(req.CustodyAccount)
	if custody == "" {
		custody = idgen.Address()
	}
	if !validation.IsValidAccount(custody) {
		return nil, fmt.Errorf("%w: custody account", ErrInvalidAccount)
	}
	if custody == seller || custody == s.reserve {
		return nil, fmt.Errorf("%w: custody account must be dedicated to the auction", ErrInvalidAccount)
	}
	if err := s.rejectCustody(ctx, seller, "seller"); err != nil {
		return nil, err
	}

	now := s.now()
	l = &Ledger{
		ID:             idgen.WithPrefix("auc_"),
		Seller:         seller,
		CustodyAccount: custody,
		StartTime:      now,
		Duration:       req.Duration,
		InitialPrice:   req.InitialPrice,
		HighestBid:     req.InitialPrice,
		Phase:          PhaseOpen,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.CreateAuction(ctx, l); err != nil {
		return nil, err
	}

	metrics.AuctionsCreatedTotal.Inc()
	s.logger.Info("auction initialized",
		"auctionId", l.ID, "seller", seller, "custody", custody,
		"initialPrice", l.InitialPrice, "endTime", l.EndTime())
	s.emit(EventAuctionCreated, l, seller, l.InitialPrice)
	return l, nil
}

// Bid places or raises a bid. Only the difference between the new bid and
// the bidder's current escrow moves into custody.
func (s *Service) Bid(ctx context.Context, auctionID, bidder string, amount uint64) (res *BidResult, err error) {
	ctx, span := traces.StartSpan(ctx, "auction.Bid",
		traces.AuctionID(auctionID), traces.Account(bidder), traces.Amount(amount))
	defer func() {
		metrics.BidsTotal.WithLabelValues(bidResult(err)).Inc()
		traces.End(span, err)
	}()

	bidder = validation.NormalizeAccount(bidder)
	if !validation.IsValidAccount(bidder) {
		return nil, fmt.Errorf("%w: bidder", ErrInvalidAccount)
	}
	if amount > MaxAmount {
		return nil, ErrInvalidAmount
	}

	unlock, err := s.locks.LockContext(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	l, err := s.store.GetAuction(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	if bidder == l.CustodyAccount || bidder == s.reserve {
		return nil, fmt.Errorf("%w: bidder", ErrInvalidAccount)
	}
	if err := s.rejectCustody(ctx, bidder, "bidder"); err != nil {
		return nil, err
	}

	now := s.now()
	if !l.AcceptingBids(now) {
		return nil, ErrAuctionClosed
	}
	if amount <= l.HighestBid {
		return nil, ErrBidTooLow
	}
	if bidder == l.HighestBidder {
		return nil, ErrAlreadyHighestBidder
	}

	rec, err := s.store.GetRecord(ctx, auctionID, bidder)
	if err != nil && !errors.Is(err, ErrRecordNotFound) {
		return nil, err
	}

	var moves []transfer
	if rec == nil {
		rec = &EscrowRecord{
			AuctionID:      auctionID,
			Owner:          bidder,
			StorageDeposit: s.storageCost,
			CreatedAt:      now,
		}
		moves = append(moves, transfer{bidder, l.CustodyAccount, amount})
		if s.storageCost > 0 {
			moves = append(moves, transfer{bidder, s.reserve, s.storageCost})
		}
	} else {
		// Existing escrow is a previous highest bid, so it is below amount.
		moves = append(moves, transfer{bidder, l.CustodyAccount, amount - rec.EscrowedAmount})
	}
	charged := moves[0].amount

	if err := s.move(ctx, auctionID, moves); err != nil {
		return nil, err
	}

	rec.EscrowedAmount = amount
	rec.UpdatedAt = now
	l.HighestBid = amount
	l.HighestBidder = bidder
	l.BidCount++
	l.UpdatedAt = now

	if err := s.store.ApplyBid(ctx, l, rec); err != nil {
		s.compensate(ctx, auctionID, moves)
		return nil, fmt.Errorf("failed to record bid: %w", err)
	}

	s.logger.Info("bid accepted",
		"auctionId", auctionID, "bidder", bidder, "amount", amount, "charged", charged)
	s.emit(EventBidPlaced, l, bidder, amount)
	return &BidResult{Auction: l, Escrow: rec, Charged: charged}, nil
}

// EndAuction pays the highest bid to the seller and closes the auction.
// claimedHighestBidder must match the current highest bidder so that the
// seller cannot settle against a stale view.
func (s *Service) EndAuction(ctx context.Context, auctionID, caller, claimedHighestBidder string) (l *Ledger, err error) {
	ctx, span := traces.StartSpan(ctx, "auction.EndAuction",
		traces.AuctionID(auctionID), traces.Account(caller))
	defer func() { traces.End(span, err) }()

	caller = validation.NormalizeAccount(caller)
	claimed := validation.NormalizeAccount(claimedHighestBidder)

	unlock, err := s.locks.LockContext(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	l, err = s.store.GetAuction(ctx, auctionID)
	if err != nil {
		return nil, err
	}

	if caller != l.Seller {
		return nil, ErrWrongAccount
	}
	if l.Phase == PhaseClosed {
		return nil, fmt.Errorf("%w: already closed", ErrAuctionStillOpen)
	}
	now := s.now()
	if now.Before(l.EndTime()) {
		return nil, ErrAuctionStillOpen
	}
	if claimed != l.HighestBidder {
		return nil, fmt.Errorf("%w: claimed highest bidder does not match", ErrWrongAccount)
	}

	var moves []transfer
	if l.HighestBidder != "" {
		moves = append(moves, transfer{l.CustodyAccount, l.Seller, l.HighestBid})
	}
	if err := s.move(ctx, auctionID, moves); err != nil {
		return nil, err
	}

	l.Phase = PhaseClosed
	l.ClosedAt = &now
	l.UpdatedAt = now
	if err := s.store.UpdateAuction(ctx, l); err != nil {
		s.compensate(ctx, auctionID, moves)
		return nil, fmt.Errorf("failed to close auction: %w", err)
	}

	var paid uint64
	if l.HighestBidder != "" {
		paid = l.HighestBid
	}
	metrics.AuctionsSettledTotal.Inc()
	metrics.SettledAmountTotal.Add(float64(paid))
	s.logger.Info("auction settled",
		"auctionId", auctionID, "seller", l.Seller, "winner", l.HighestBidder, "amount", paid)
	s.emit(EventAuctionSettled, l, l.HighestBidder, paid)
	return l, nil
}

// Refund returns a losing bidder's escrow and storage deposit and deletes
// their record.
func (s *Service) Refund(ctx context.Context, auctionID, caller string) (res *RefundResult, err error) {
	ctx, span := traces.StartSpan(ctx, "auction.Refund",
		traces.AuctionID(auctionID), traces.Account(caller))
	defer func() { traces.End(span, err) }()

	caller = validation.NormalizeAccount(caller)

	unlock, err := s.locks.LockContext(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	l, err := s.store.GetAuction(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	if l.Phase != PhaseClosed {
		return nil, ErrAuctionStillOpen
	}
	rec, err := s.store.GetRecord(ctx, auctionID, caller)
	if err != nil {
		return nil, err
	}
	if caller == l.HighestBidder {
		return nil, fmt.Errorf("%w: winning escrow was paid to the seller", ErrWrongAccount)
	}

	moves := []transfer{{l.CustodyAccount, caller, rec.EscrowedAmount}}
	if rec.StorageDeposit > 0 {
		moves = append(moves, transfer{s.reserve, caller, rec.StorageDeposit})
	}
	if err := s.move(ctx, auctionID, moves); err != nil {
		return nil, err
	}

	if err := s.store.DeleteRecord(ctx, auctionID, caller); err != nil {
		s.compensate(ctx, auctionID, moves)
		return nil, fmt.Errorf("failed to delete escrow record: %w", err)
	}

	metrics.RefundsTotal.Inc()
	metrics.RefundedAmountTotal.Add(float64(rec.EscrowedAmount))
	s.logger.Info("refund issued",
		"auctionId", auctionID, "owner", caller,
		"amount", rec.EscrowedAmount, "storageDeposit", rec.StorageDeposit)
	s.emit(EventRefundIssued, l, caller, rec.EscrowedAmount)
	return &RefundResult{
		Auction:        l,
		Owner:          caller,
		Refunded:       rec.EscrowedAmount,
		StorageDeposit: rec.StorageDeposit,
	}, nil
}

// Get returns an auction by ID.
func (s *Service) Get(ctx context.Context, id string) (*Ledger, error) {
	return s.store.GetAuction(ctx, id)
}

// List returns auctions matching filter, newest first.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]*Ledger, error) {
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 100
	}
	filter.Seller = validation.NormalizeAccount(filter.Seller)
	return s.store.ListAuctions(ctx, filter)
}

// GetEscrow returns one bidder's record.
func (s *Service) GetEscrow(ctx context.Context, auctionID, owner string) (*EscrowRecord, error) {
	if _, err := s.store.GetAuction(ctx, auctionID); err != nil {
		return nil, err
	}
	return s.store.GetRecord(ctx, auctionID, validation.NormalizeAccount(owner))
}

// ListEscrows returns every live record of an auction.
func (s *Service) ListEscrows(ctx context.Context, auctionID string) ([]*EscrowRecord, error) {
	if _, err := s.store.GetAuction(ctx, auctionID); err != nil {
		return nil, err
	}
	return s.store.ListRecords(ctx, auctionID)
}

// AwaitingSettlement returns open auctions whose window has elapsed.
func (s *Service) AwaitingSettlement(ctx context.Context, limit int) ([]*Ledger, error) {
	return s.store.ListAwaitingSettlement(ctx, s.now(), limit)
}

// rejectCustody fails when addr is the custody account of any auction, since
// its balance belongs to that auction's bidders.
func (s *Service) rejectCustody(ctx context.Context, addr, role string) error {
	bound, err := s.store.IsCustodyAccount(ctx, addr)
	if err != nil {
		return err
	}
	if bound {
		return fmt.Errorf("%w: %s is an auction custody account", ErrInvalidAccount, role)
	}
	return nil
}

type transfer struct {
	from, to string
	amount   uint64
}

// move applies transfers in order. If one fails, the ones already applied
// are reversed before returning.
func (s *Service) move(ctx context.Context, auctionID string, moves []transfer) error {
	for i, m := range moves {
		if err := s.bank.Transfer(ctx, m.from, m.to, m.amount, auctionID); err != nil {
			s.compensate(ctx, auctionID, moves[:i])
			return err
		}
	}
	return nil
}

// compensate reverses applied transfers, newest first.
func (s *Service) compensate(ctx context.Context, auctionID string, applied []transfer) {
	ctx = context.WithoutCancel(ctx)
	for i := len(applied) - 1; i >= 0; i-- {
		m := applied[i]
		err := s.compensation.Do(ctx, func() error {
			err := s.bank.Transfer(ctx, m.to, m.from, m.amount, auctionID)
			if errors.Is(err, ErrInsufficientFunds) {
				return retry.Permanent(err)
			}
			return err
		})
		if err != nil {
			metrics.CompensationsTotal.WithLabelValues("failed").Inc()
			s.logger.Error("CRITICAL: compensating transfer failed, manual resolution required",
				"auctionId", auctionID, "from", m.to, "to", m.from, "amount", m.amount, "error", err)
			continue
		}
		metrics.CompensationsTotal.WithLabelValues("ok").Inc()
	}
}

func (s *Service) emit(typ EventType, l *Ledger, account string, amount uint64) {
	if s.emitter == nil {
		return
	}
	snapshot := *l
	s.emitter.Emit(Event{
		Type:      typ,
		AuctionID: l.ID,
		Account:   account,
		Amount:    amount,
		Auction:   &snapshot,
		Timestamp: s.now(),
	})
}

func bidResult(err error) string {
	switch {
	case err == nil:
		return "accepted"
	case errors.Is(err, ErrBidTooLow):
		return "too_low"
	case errors.Is(err, ErrAlreadyHighestBidder):
		return "already_highest"
	case errors.Is(err, ErrAuctionClosed):
		return "closed"
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	default:
		return "error"
	}
}
