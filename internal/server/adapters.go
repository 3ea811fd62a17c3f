package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/mbd888/auctionledger/internal/auction"
	"github.com/mbd888/auctionledger/internal/funds"
	"github.com/mbd888/auctionledger/internal/realtime"
)

// bankAdapter adapts funds.Service to auction.Bank, translating the funds
// sentinels the auction service needs to recognise.
type bankAdapter struct {
	funds *funds.Service
}

func (a *bankAdapter) Transfer(ctx context.Context, from, to string, amount uint64, reference string) error {
	err := a.funds.Transfer(ctx, from, to, amount, reference)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, funds.ErrInsufficientFunds):
		return fmt.Errorf("%w: %s", auction.ErrInsufficientFunds, from)
	case errors.Is(err, funds.ErrInvalidAmount):
		return auction.ErrInvalidAmount
	default:
		return err
	}
}

// realtimeEmitter forwards committed auction changes to WebSocket subscribers.
type realtimeEmitter struct {
	hub *realtime.Hub
}

func (e *realtimeEmitter) Emit(ev auction.Event) {
	e.hub.Broadcast(&realtime.Event{
		Type:      realtime.EventType(ev.Type),
		Timestamp: ev.Timestamp,
		AuctionID: ev.AuctionID,
		Account:   ev.Account,
		Amount:    ev.Amount,
		Data:      ev.Auction,
	})
}
