package mcpserver

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	me     = "0xaaaa000000000000000000000000000000000001"
	seller = "0x1111111111111111111111111111111111111111"
)

// --- Test helpers ---

func newTestSetup(t *testing.T, handler http.Handler) *Handlers {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return NewHandlers(NewLedgerClient(Config{APIURL: ts.URL, AccountAddress: me}), me)
}

func makeRequest(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	if args == nil {
		args = map[string]any{}
	}
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content, "expected at least one content block")
	tc, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected TextContent, got %T", result.Content[0])
	return tc.Text
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

var openAuction = map[string]any{
	"id":             "auc_1",
	"seller":         seller,
	"custodyAccount": "0x2222222222222222222222222222222222222222",
	"initialPrice":   100,
	"highestBid":     100,
	"phase":          "open",
	"bidCount":       0,
	"endTime":        "2026-01-01T13:00:00Z",
}

// ============================================================
// Client tests
// ============================================================

func TestClient_SendsAccountHeader(t *testing.T) {
	var gotAccount string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAccount = r.Header.Get(AccountHeader)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer ts.Close()

	client := NewLedgerClient(Config{APIURL: ts.URL, AccountAddress: me})
	_, err := client.GetBalance(context.Background(), me)
	require.NoError(t, err)
	assert.Equal(t, me, gotAccount)
}

func TestClient_APIError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusConflict, map[string]string{
			"error":   "bid_too_low",
			"message": "bid must exceed the current highest bid",
		})
	}))
	defer ts.Close()

	client := NewLedgerClient(Config{APIURL: ts.URL, AccountAddress: me})
	_, err := client.PlaceBid(context.Background(), "auc_1", 5)
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.Status)
	assert.Equal(t, "bid_too_low", apiErr.Code)
	assert.Contains(t, err.Error(), "409")
}

func TestClient_APIError_NonJSON(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream timeout"))
	}))
	defer ts.Close()

	client := NewLedgerClient(Config{APIURL: ts.URL, AccountAddress: me})
	_, err := client.GetAuction(context.Background(), "auc_1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
	assert.Contains(t, err.Error(), "upstream timeout")
}

func TestClient_ConnectionRefused(t *testing.T) {
	client := NewLedgerClient(Config{APIURL: "http://127.0.0.1:1", AccountAddress: me})
	_, err := client.GetAuction(context.Background(), "auc_1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "request failed")
}

func TestClient_RequestShapes(t *testing.T) {
	type captured struct {
		method, path string
		body         map[string]any
	}
	var got captured
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = captured{method: r.Method, path: r.URL.Path}
		if b, _ := io.ReadAll(r.Body); len(b) > 0 {
			_ = json.Unmarshal(b, &got.body)
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer ts.Close()

	client := NewLedgerClient(Config{APIURL: ts.URL, AccountAddress: me})
	ctx := context.Background()

	_, err := client.CreateAuction(ctx, "1h", 100, "")
	require.NoError(t, err)
	assert.Equal(t, captured{http.MethodPost, "/v1/auctions", map[string]any{"duration": "1h", "initialPrice": float64(100)}}, got)

	_, err = client.PlaceBid(ctx, "auc_1", 150)
	require.NoError(t, err)
	assert.Equal(t, captured{http.MethodPost, "/v1/auctions/auc_1/bids", map[string]any{"amount": float64(150)}}, got)

	_, err = client.EndAuction(ctx, "auc_1", me)
	require.NoError(t, err)
	assert.Equal(t, captured{http.MethodPost, "/v1/auctions/auc_1/end", map[string]any{"highestBidder": me}}, got)

	_, err = client.Refund(ctx, "auc_1")
	require.NoError(t, err)
	assert.Equal(t, captured{method: http.MethodPost, path: "/v1/auctions/auc_1/refund"}, got)

	_, err = client.GetEscrow(ctx, "auc_1", me)
	require.NoError(t, err)
	assert.Equal(t, captured{method: http.MethodGet, path: "/v1/auctions/auc_1/escrows/" + me}, got)
}

// ============================================================
// Handler tests
// ============================================================

func TestHandleCreateAuction(t *testing.T) {
	h := newTestSetup(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusCreated, map[string]any{"auction": openAuction})
	}))

	result, err := h.HandleCreateAuction(context.Background(), makeRequest(map[string]any{
		"duration":      "1h",
		"initial_price": "100",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	text := resultText(t, result)
	assert.Contains(t, text, "Auction created")
	assert.Contains(t, text, "auc_1 (open)")
	assert.Contains(t, text, "no bids yet")
}

func TestHandleCreateAuction_Validation(t *testing.T) {
	h := newTestSetup(t, http.NotFoundHandler())

	result, _ := h.HandleCreateAuction(context.Background(), makeRequest(nil))
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "duration is required")

	result, _ = h.HandleCreateAuction(context.Background(), makeRequest(map[string]any{
		"duration":      "1h",
		"initial_price": "-5",
	}))
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "initial_price")
}

func TestHandlePlaceBid(t *testing.T) {
	h := newTestSetup(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a := map[string]any{}
		for k, v := range openAuction {
			a[k] = v
		}
		a["highestBid"] = 150
		a["highestBidder"] = me
		a["bidCount"] = 1
		writeJSON(w, http.StatusOK, map[string]any{
			"auction": a,
			"escrow":  map[string]any{"escrowedAmount": 150, "storageDeposit": 10},
			"charged": 160,
		})
	}))

	result, err := h.HandlePlaceBid(context.Background(), makeRequest(map[string]any{
		"auction_id": "auc_1",
		"amount":     "150",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	text := resultText(t, result)
	assert.Contains(t, text, "Bid of 150 accepted")
	assert.Contains(t, text, "Charged now: 160")
	assert.Contains(t, text, "Highest bid: 150 by "+me)
}

func TestHandlePlaceBid_InvalidAmount(t *testing.T) {
	h := newTestSetup(t, http.NotFoundHandler())

	for _, amount := range []string{"", "0", "1.5", "abc"} {
		result, _ := h.HandlePlaceBid(context.Background(), makeRequest(map[string]any{
			"auction_id": "auc_1",
			"amount":     amount,
		}))
		assert.True(t, result.IsError, "amount %q", amount)
	}
}

func TestHandlePlaceBid_RejectionHints(t *testing.T) {
	tests := []struct {
		code string
		hint string
	}{
		{"bid_too_low", "get_auction"},
		{"insufficient_funds", "check_balance"},
		{"already_highest_bidder", "already lead"},
	}
	for _, tc := range tests {
		t.Run(tc.code, func(t *testing.T) {
			h := newTestSetup(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusConflict, map[string]string{"error": tc.code, "message": "rejected"})
			}))
			result, err := h.HandlePlaceBid(context.Background(), makeRequest(map[string]any{
				"auction_id": "auc_1",
				"amount":     "120",
			}))
			require.NoError(t, err)
			assert.True(t, result.IsError)
			assert.Contains(t, resultText(t, result), tc.hint)
		})
	}
}

func TestHandleEndAuction(t *testing.T) {
	h := newTestSetup(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a := map[string]any{}
		for k, v := range openAuction {
			a[k] = v
		}
		a["phase"] = "closed"
		a["highestBid"] = 150
		a["highestBidder"] = me
		writeJSON(w, http.StatusOK, map[string]any{"auction": a})
	}))

	result, err := h.HandleEndAuction(context.Background(), makeRequest(map[string]any{
		"auction_id":     "auc_1",
		"highest_bidder": me,
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Contains(t, resultText(t, result), "150 paid to you by "+me)
}

func TestHandleEndAuction_NoBids(t *testing.T) {
	h := newTestSetup(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a := map[string]any{}
		for k, v := range openAuction {
			a[k] = v
		}
		a["phase"] = "closed"
		writeJSON(w, http.StatusOK, map[string]any{"auction": a})
	}))

	result, err := h.HandleEndAuction(context.Background(), makeRequest(map[string]any{"auction_id": "auc_1"}))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, result), "closed with no bids")
}

func TestHandleRefundBid(t *testing.T) {
	h := newTestSetup(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"refunded": 110, "storageDeposit": 10, "owner": me})
	}))

	result, err := h.HandleRefundBid(context.Background(), makeRequest(map[string]any{"auction_id": "auc_1"}))
	require.NoError(t, err)
	text := resultText(t, result)
	assert.Contains(t, text, "Escrow returned: 110")
	assert.Contains(t, text, "Total: 120")
}

func TestHandleRefundBid_MissingID(t *testing.T) {
	h := newTestSetup(t, http.NotFoundHandler())
	result, _ := h.HandleRefundBid(context.Background(), makeRequest(nil))
	assert.True(t, result.IsError)
}

func TestHandleGetEscrow_DefaultsToOwnAccount(t *testing.T) {
	var gotPath string
	h := newTestSetup(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		writeJSON(w, http.StatusOK, map[string]any{"escrow": map[string]any{
			"auctionId": "auc_1", "owner": me, "escrowedAmount": 150, "storageDeposit": 10,
		}})
	}))

	result, err := h.HandleGetEscrow(context.Background(), makeRequest(map[string]any{"auction_id": "auc_1"}))
	require.NoError(t, err)
	assert.Equal(t, "/v1/auctions/auc_1/escrows/"+me, gotPath)
	assert.Contains(t, resultText(t, result), "Escrowed: 150")
}

func TestHandleGetEscrow_NotFound(t *testing.T) {
	h := newTestSetup(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "record_not_found", "message": "no escrow record"})
	}))

	result, err := h.HandleGetEscrow(context.Background(), makeRequest(map[string]any{"auction_id": "auc_1"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "no escrow record")
}

func TestHandleCheckBalance(t *testing.T) {
	h := newTestSetup(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"balance": map[string]any{
			"address": me, "available": 340, "totalIn": 500, "totalOut": 160,
		}})
	}))

	result, err := h.HandleCheckBalance(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	text := resultText(t, result)
	assert.Contains(t, text, "Balance for "+me)
	assert.Contains(t, text, "Available: 340")
	assert.Contains(t, text, "Total out: 160")
}

func TestHandleGetAuction_MalformedResponse(t *testing.T) {
	h := newTestSetup(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"unexpected": true})
	}))

	result, err := h.HandleGetAuction(context.Background(), makeRequest(map[string]any{"auction_id": "auc_1"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestParseAmount(t *testing.T) {
	v, err := parseAmount(" 42 ")
	require.NoError(t, err)
	assert.Equal(t, uint64(42), v)

	_, err = parseAmount("9223372036854775808")
	assert.Error(t, err, "above the largest accepted amount")
}

func TestNewMCPServer_RegistersTools(t *testing.T) {
	s := NewMCPServer(Config{APIURL: "http://localhost:8080", AccountAddress: me})
	require.NotNil(t, s)

	resp := s.HandleMessage(context.Background(), json.RawMessage(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	out, err := json.Marshal(resp)
	require.NoError(t, err)

	for _, tool := range []mcp.Tool{
		ToolCreateAuction, ToolGetAuction, ToolPlaceBid, ToolEndAuction,
		ToolRefundBid, ToolGetEscrow, ToolCheckBalance,
	} {
		assert.Contains(t, string(out), `"`+tool.Name+`"`)
	}
}
