package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client  *LedgerClient
	account string
}

// NewHandlers creates a new Handlers instance acting as account.
func NewHandlers(client *LedgerClient, account string) *Handlers {
	return &Handlers{client: client, account: account}
}

// HandleCreateAuction opens an auction.
func (h *Handlers) HandleCreateAuction(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	duration := req.GetString("duration", "")
	if duration == "" {
		return mcp.NewToolResultError("duration is required"), nil
	}
	price, err := parseAmount(req.GetString("initial_price", "0"))
	if err != nil {
		return mcp.NewToolResultError("initial_price " + err.Error()), nil
	}

	raw, err := h.client.CreateAuction(ctx, duration, price, req.GetString("custody_account", ""))
	if err != nil {
		return toolError("Failed to create auction", err), nil
	}

	a, err := parseAuction(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse auction: %v", err)), nil
	}
	return mcp.NewToolResultText("Auction created.\n\n" + formatAuction(a)), nil
}

// HandleGetAuction shows one auction.
func (h *Handlers) HandleGetAuction(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("auction_id", "")
	if id == "" {
		return mcp.NewToolResultError("auction_id is required"), nil
	}

	raw, err := h.client.GetAuction(ctx, id)
	if err != nil {
		return toolError("Failed to get auction", err), nil
	}

	a, err := parseAuction(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse auction: %v", err)), nil
	}
	return mcp.NewToolResultText(formatAuction(a)), nil
}

// HandlePlaceBid bids on an auction.
func (h *Handlers) HandlePlaceBid(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("auction_id", "")
	if id == "" {
		return mcp.NewToolResultError("auction_id is required"), nil
	}
	amount, err := parseAmount(req.GetString("amount", ""))
	if err != nil || amount == 0 {
		return mcp.NewToolResultError("amount must be a positive whole number"), nil
	}

	raw, err := h.client.PlaceBid(ctx, id, amount)
	if err != nil {
		return toolError("Bid rejected", err), nil
	}

	var resp struct {
		Auction auctionInfo `json:"auction"`
		Escrow  struct {
			EscrowedAmount uint64 `json:"escrowedAmount"`
			StorageDeposit uint64 `json:"storageDeposit"`
		} `json:"escrow"`
		Charged uint64 `json:"charged"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse bid result: %v", err)), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Bid of %d accepted. You are the highest bidder.\n", amount)
	fmt.Fprintf(&sb, "Charged now: %d\n", resp.Charged)
	fmt.Fprintf(&sb, "Escrowed in total: %d (storage deposit %d)\n\n", resp.Escrow.EscrowedAmount, resp.Escrow.StorageDeposit)
	sb.WriteString(formatAuction(resp.Auction))
	return mcp.NewToolResultText(sb.String()), nil
}

// HandleEndAuction settles an auction.
func (h *Handlers) HandleEndAuction(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("auction_id", "")
	if id == "" {
		return mcp.NewToolResultError("auction_id is required"), nil
	}

	raw, err := h.client.EndAuction(ctx, id, req.GetString("highest_bidder", ""))
	if err != nil {
		return toolError("Failed to end auction", err), nil
	}

	a, err := parseAuction(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse auction: %v", err)), nil
	}

	summary := "Auction closed with no bids."
	if a.HighestBidder != "" {
		summary = fmt.Sprintf("Auction closed. %d paid to you by %s.", a.HighestBid, a.HighestBidder)
	}
	return mcp.NewToolResultText(summary + "\n\n" + formatAuction(a)), nil
}

// HandleRefundBid reclaims a losing escrow.
func (h *Handlers) HandleRefundBid(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("auction_id", "")
	if id == "" {
		return mcp.NewToolResultError("auction_id is required"), nil
	}

	raw, err := h.client.Refund(ctx, id)
	if err != nil {
		return toolError("Refund failed", err), nil
	}

	var resp struct {
		Refunded       uint64 `json:"refunded"`
		StorageDeposit uint64 `json:"storageDeposit"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse refund: %v", err)), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf(
		"Refund complete for auction %s.\n"+
			"Escrow returned: %d\n"+
			"Storage deposit returned: %d\n"+
			"Total: %d",
		id, resp.Refunded, resp.StorageDeposit, resp.Refunded+resp.StorageDeposit)), nil
}

// HandleGetEscrow shows an escrow record.
func (h *Handlers) HandleGetEscrow(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("auction_id", "")
	if id == "" {
		return mcp.NewToolResultError("auction_id is required"), nil
	}
	owner := req.GetString("owner", h.account)

	raw, err := h.client.GetEscrow(ctx, id, owner)
	if err != nil {
		return toolError("Failed to get escrow", err), nil
	}

	var resp struct {
		Escrow map[string]any `json:"escrow"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil || resp.Escrow == nil {
		return mcp.NewToolResultError("Failed to parse escrow record"), nil
	}

	var sb strings.Builder
	sb.WriteString("Escrow Record:\n")
	fmt.Fprintf(&sb, "  Auction: %s\n", getString(resp.Escrow, "auctionId"))
	fmt.Fprintf(&sb, "  Owner: %s\n", getString(resp.Escrow, "owner"))
	fmt.Fprintf(&sb, "  Escrowed: %s\n", getString(resp.Escrow, "escrowedAmount"))
	fmt.Fprintf(&sb, "  Storage deposit: %s\n", getString(resp.Escrow, "storageDeposit"))
	return mcp.NewToolResultText(sb.String()), nil
}

// HandleCheckBalance returns an account's balance.
func (h *Handlers) HandleCheckBalance(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	account := req.GetString("account", h.account)

	raw, err := h.client.GetBalance(ctx, account)
	if err != nil {
		return toolError("Failed to check balance", err), nil
	}

	text, err := formatBalance(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse balance: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// --- Formatting helpers ---

type auctionInfo struct {
	ID             string `json:"id"`
	Seller         string `json:"seller"`
	CustodyAccount string `json:"custodyAccount"`
	InitialPrice   uint64 `json:"initialPrice"`
	HighestBid     uint64 `json:"highestBid"`
	HighestBidder  string `json:"highestBidder"`
	Phase          string `json:"phase"`
	BidCount       int    `json:"bidCount"`
	EndTime        string `json:"endTime"`
}

func parseAuction(raw json.RawMessage) (auctionInfo, error) {
	var resp struct {
		Auction *auctionInfo `json:"auction"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return auctionInfo{}, err
	}
	if resp.Auction == nil {
		return auctionInfo{}, fmt.Errorf("no auction in response: %s", string(raw))
	}
	return *resp.Auction, nil
}

func formatAuction(a auctionInfo) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Auction %s (%s)\n", a.ID, a.Phase)
	fmt.Fprintf(&sb, "  Seller: %s\n", a.Seller)
	fmt.Fprintf(&sb, "  Custody account: %s\n", a.CustodyAccount)
	if a.HighestBidder == "" {
		fmt.Fprintf(&sb, "  Initial price: %d (no bids yet)\n", a.InitialPrice)
	} else {
		fmt.Fprintf(&sb, "  Highest bid: %d by %s (%d bids)\n", a.HighestBid, a.HighestBidder, a.BidCount)
	}
	if a.EndTime != "" {
		fmt.Fprintf(&sb, "  Ends: %s\n", a.EndTime)
	}
	return sb.String()
}

func formatBalance(raw json.RawMessage) (string, error) {
	var resp map[string]any
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}

	bal := resp
	if b, ok := resp["balance"].(map[string]any); ok {
		bal = b
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Balance for %s:\n", getString(bal, "address"))
	fmt.Fprintf(&sb, "  Available: %s\n", getString(bal, "available"))
	if v := getString(bal, "totalIn"); v != "" && v != "0" {
		fmt.Fprintf(&sb, "  Total in:  %s\n", v)
	}
	if v := getString(bal, "totalOut"); v != "" && v != "0" {
		fmt.Fprintf(&sb, "  Total out: %s\n", v)
	}
	return sb.String(), nil
}

// toolError turns an API failure into a tool result, adding a hint for the
// rejections a model can act on.
func toolError(prefix string, err error) *mcp.CallToolResult {
	msg := fmt.Sprintf("%s: %v", prefix, err)
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case "bid_too_low":
			msg += "\nHint: use get_auction to see the current highest bid and bid above it."
		case "already_highest_bidder":
			msg += "\nHint: you already lead this auction."
		case "auction_still_open":
			msg += "\nHint: wait for the end time shown by get_auction."
		case "insufficient_funds":
			msg += "\nHint: use check_balance to see your available funds."
		}
	}
	return mcp.NewToolResultError(msg)
}

func parseAmount(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("is required")
	}
	v, err := strconv.ParseUint(s, 10, 63)
	if err != nil {
		return 0, errors.New("must be a non-negative whole number")
	}
	return v, nil
}

// getString extracts a string value from a map, trying multiple key names.
func getString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if s, ok := v.(string); ok {
				return s
			}
			if f, ok := v.(float64); ok {
				return strconv.FormatFloat(f, 'f', -1, 64)
			}
		}
	}
	return ""
}
