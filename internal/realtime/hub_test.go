package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func testHub() *Hub {
	return NewHub(slog.Default())
}

// ---------------------------------------------------------------------------
// matches tests
// ---------------------------------------------------------------------------

func TestMatches_AllEvents(t *testing.T) {
	client := &Client{sub: Subscription{AllEvents: true, AuctionIDs: []string{"auc_other"}}}

	event := &Event{Type: EventBidPlaced, AuctionID: "auc_1"}
	if !client.matches(event) {
		t.Error("AllEvents client should receive all events")
	}
}

func TestMatches_EventTypeFilter(t *testing.T) {
	client := &Client{sub: Subscription{
		EventTypes: []EventType{EventBidPlaced, EventAuctionSettled},
	}}

	if !client.matches(&Event{Type: EventBidPlaced}) {
		t.Error("Should receive bid_placed events")
	}
	if !client.matches(&Event{Type: EventAuctionSettled}) {
		t.Error("Should receive auction_settled events")
	}
	if client.matches(&Event{Type: EventRefundIssued}) {
		t.Error("Should NOT receive refund_issued events")
	}
}

func TestMatches_AuctionFilter(t *testing.T) {
	client := &Client{sub: Subscription{AuctionIDs: []string{"auc_1", "auc_2"}}}

	if !client.matches(&Event{Type: EventBidPlaced, AuctionID: "auc_2"}) {
		t.Error("Should match watched auction")
	}
	if client.matches(&Event{Type: EventBidPlaced, AuctionID: "auc_3"}) {
		t.Error("Should NOT match other auctions")
	}
}

func TestMatches_AccountFilter(t *testing.T) {
	client := &Client{sub: Subscription{Accounts: []string{"0xabc"}}}

	if !client.matches(&Event{Type: EventRefundIssued, Account: "0xABC"}) {
		t.Error("Account match should be case-insensitive")
	}
	if client.matches(&Event{Type: EventRefundIssued, Account: "0xdef"}) {
		t.Error("Should NOT match other accounts")
	}
	if client.matches(&Event{Type: EventAuctionExpired}) {
		t.Error("Events without an account should not pass an account filter")
	}
}

func TestMatches_MinAmount(t *testing.T) {
	client := &Client{sub: Subscription{MinAmount: 100}}

	if !client.matches(&Event{Type: EventBidPlaced, Amount: 150}) {
		t.Error("Should receive large bid")
	}
	if client.matches(&Event{Type: EventBidPlaced, Amount: 99}) {
		t.Error("Should NOT receive small bid")
	}
}

func TestMatches_EmptySubscription(t *testing.T) {
	client := &Client{sub: Subscription{}}

	if !client.matches(&Event{Type: EventAuctionCreated}) {
		t.Error("Empty subscription (no filters) should receive events")
	}
}

// ---------------------------------------------------------------------------
// Hub lifecycle tests
// ---------------------------------------------------------------------------

func TestHub_Stats_Initial(t *testing.T) {
	h := testHub()

	stats := h.Stats()
	if stats["connectedClients"].(int) != 0 {
		t.Errorf("Expected 0 connected clients, got %v", stats["connectedClients"])
	}
	if stats["totalEvents"].(int64) != 0 {
		t.Errorf("Expected 0 total events, got %v", stats["totalEvents"])
	}
}

func TestHub_BroadcastAndStats(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	h.Broadcast(&Event{Type: EventAuctionCreated, AuctionID: "auc_1"})
	time.Sleep(50 * time.Millisecond)

	stats := h.Stats()
	if stats["totalEvents"].(int64) != 1 {
		t.Errorf("Expected 1 total event, got %v", stats["totalEvents"])
	}
}

func TestHub_RegisterUnregister(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	client := &Client{
		hub:  h,
		send: make(chan []byte, 256),
		sub:  Subscription{AllEvents: true},
	}

	h.register <- client
	time.Sleep(50 * time.Millisecond)

	stats := h.Stats()
	if stats["connectedClients"].(int) != 1 {
		t.Errorf("Expected 1 connected client, got %v", stats["connectedClients"])
	}

	h.unregister <- client
	time.Sleep(50 * time.Millisecond)

	stats = h.Stats()
	if stats["connectedClients"].(int) != 0 {
		t.Errorf("Expected 0 connected clients after unregister, got %v", stats["connectedClients"])
	}
	if stats["peakClients"].(int64) != 1 {
		t.Errorf("Expected peak still 1, got %v", stats["peakClients"])
	}
}

func TestHub_FilteredBroadcast(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	client := &Client{
		hub:  h,
		send: make(chan []byte, 256),
		sub:  Subscription{AuctionIDs: []string{"auc_watched"}},
	}

	h.register <- client
	time.Sleep(50 * time.Millisecond)

	h.Broadcast(&Event{Type: EventBidPlaced, AuctionID: "auc_other", Amount: 10})
	time.Sleep(100 * time.Millisecond)

	select {
	case <-client.send:
		t.Error("Client should NOT receive events for other auctions")
	default:
	}

	h.Broadcast(&Event{Type: EventBidPlaced, AuctionID: "auc_watched", Amount: 20})

	select {
	case msg := <-client.send:
		var got Event
		if err := json.Unmarshal(msg, &got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got.AuctionID != "auc_watched" || got.Amount != 20 {
			t.Errorf("unexpected event %+v", got)
		}
		if got.Timestamp.IsZero() {
			t.Error("Broadcast should stamp the event")
		}
	case <-time.After(time.Second):
		t.Error("Client should receive watched auction event")
	}
}

func TestHub_ContextCancellation(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Error("Hub did not stop after context cancellation")
	}
}

func TestHub_WebSocketSubscription(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(h.HandleWebSocket))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = conn.Close() }()

	sub := Subscription{EventTypes: []EventType{EventAuctionSettled}}
	if err := conn.WriteJSON(sub); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	h.Broadcast(&Event{Type: EventBidPlaced, AuctionID: "auc_1"})
	h.Broadcast(&Event{Type: EventAuctionSettled, AuctionID: "auc_1", Amount: 130})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got Event
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Type != EventAuctionSettled || got.Amount != 130 {
		t.Errorf("expected settled event for 130, got %+v", got)
	}
}
