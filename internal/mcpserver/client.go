package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// AccountHeader identifies the calling account to the auction API.
const AccountHeader = "X-Account-Address"

// Config holds the configuration for connecting to the auction ledger API.
type Config struct {
	APIURL         string // Base URL, e.g. "http://localhost:8080"
	AccountAddress string // Account the tools act as, e.g. "0x..."
}

// LedgerClient is a pure HTTP client for the auction ledger API.
type LedgerClient struct {
	cfg        Config
	httpClient *http.Client
}

// NewLedgerClient creates a new client for the auction ledger API.
func NewLedgerClient(cfg Config) *LedgerClient {
	return &LedgerClient{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// APIError is a non-2xx response from the API.
type APIError struct {
	Status  int
	Code    string `json:"error"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("API error (%d %s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("API error (%d): %s", e.Status, e.Message)
}

// doRequest makes an HTTP request to the API and returns the response body.
func (c *LedgerClient) doRequest(ctx context.Context, method, path string, body any) (json.RawMessage, error) {
	u, err := url.JoinPath(c.cfg.APIURL, path)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set(AccountHeader, c.cfg.AccountAddress)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode}
		if json.Unmarshal(respBody, apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = string(respBody)
		}
		return nil, apiErr
	}

	return json.RawMessage(respBody), nil
}

// CreateAuction opens an auction with the configured account as seller.
func (c *LedgerClient) CreateAuction(ctx context.Context, duration string, initialPrice uint64, custodyAccount string) (json.RawMessage, error) {
	body := map[string]any{
		"duration":     duration,
		"initialPrice": initialPrice,
	}
	if custodyAccount != "" {
		body["custodyAccount"] = custodyAccount
	}
	return c.doRequest(ctx, http.MethodPost, "/v1/auctions", body)
}

// GetAuction returns one auction ledger.
func (c *LedgerClient) GetAuction(ctx context.Context, auctionID string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/auctions/"+url.PathEscape(auctionID), nil)
}

// PlaceBid bids amount on behalf of the configured account.
func (c *LedgerClient) PlaceBid(ctx context.Context, auctionID string, amount uint64) (json.RawMessage, error) {
	path := "/v1/auctions/" + url.PathEscape(auctionID) + "/bids"
	return c.doRequest(ctx, http.MethodPost, path, map[string]uint64{"amount": amount})
}

// EndAuction settles an auction. highestBidder is empty for an auction
// without bids.
func (c *LedgerClient) EndAuction(ctx context.Context, auctionID, highestBidder string) (json.RawMessage, error) {
	path := "/v1/auctions/" + url.PathEscape(auctionID) + "/end"
	return c.doRequest(ctx, http.MethodPost, path, map[string]string{"highestBidder": highestBidder})
}

// Refund returns the configured account's losing escrow.
func (c *LedgerClient) Refund(ctx context.Context, auctionID string) (json.RawMessage, error) {
	path := "/v1/auctions/" + url.PathEscape(auctionID) + "/refund"
	return c.doRequest(ctx, http.MethodPost, path, nil)
}

// GetEscrow returns the escrow record owner holds in an auction.
func (c *LedgerClient) GetEscrow(ctx context.Context, auctionID, owner string) (json.RawMessage, error) {
	path := "/v1/auctions/" + url.PathEscape(auctionID) + "/escrows/" + url.PathEscape(owner)
	return c.doRequest(ctx, http.MethodGet, path, nil)
}

// GetBalance returns an account's balance.
func (c *LedgerClient) GetBalance(ctx context.Context, account string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/accounts/"+url.PathEscape(account)+"/balance", nil)
}
