package auction

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/auctionledger/internal/pagination"
	"github.com/mbd888/auctionledger/internal/validation"
)

// CallerKey is the gin context key holding the authenticated account.
const CallerKey = "authAccount"

// Handler provides HTTP endpoints for auction operations.
type Handler struct {
	service *Service
}

// NewHandler creates a new auction handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up public (read-only) auction routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/auctions", h.ListAuctions)
	r.GET("/auctions/:id", h.GetAuction)
	r.GET("/auctions/:id/escrows", h.ListEscrows)
	r.GET("/auctions/:id/escrows/:address", validation.AccountParamMiddleware(), h.GetEscrow)
}

// RegisterProtectedRoutes sets up routes that act on behalf of the caller.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/auctions", h.CreateAuction)
	r.POST("/auctions/:id/bids", h.PlaceBid)
	r.POST("/auctions/:id/end", h.EndAuction)
	r.POST("/auctions/:id/refund", h.Refund)
}

// CreateAuctionRequest is the body of POST /v1/auctions.
type CreateAuctionRequest struct {
	Duration       string `json:"duration"` // e.g. "90s", "1h"
	InitialPrice   uint64 `json:"initialPrice"`
	CustodyAccount string `json:"custodyAccount"`
}

// BidRequest is the body of POST /v1/auctions/:id/bids.
type BidRequest struct {
	Amount uint64 `json:"amount" binding:"required"`
}

// EndAuctionRequest is the body of POST /v1/auctions/:id/end.
// HighestBidder is empty when settling an auction that received no bids.
type EndAuctionRequest struct {
	HighestBidder string `json:"highestBidder"`
}

// CreateAuction handles POST /v1/auctions
func (h *Handler) CreateAuction(c *gin.Context) {
	caller, ok := callerAccount(c)
	if !ok {
		return
	}

	var req CreateAuctionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if errs := validation.Validate(
		validation.Required("duration", req.Duration),
		validation.ValidAccount("custodyAccount", req.CustodyAccount),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	duration, err := time.ParseDuration(req.Duration)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_duration",
			"message": "duration must be a Go duration string such as 90s or 1h",
		})
		return
	}

	l, err := h.service.Initialize(c.Request.Context(), InitializeRequest{
		Seller:         caller,
		CustodyAccount: req.CustodyAccount,
		Duration:       duration,
		InitialPrice:   req.InitialPrice,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"auction": l})
}

// GetAuction handles GET /v1/auctions/:id
func (h *Handler) GetAuction(c *gin.Context) {
	l, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"auction": l})
}

// ListAuctions handles GET /v1/auctions
func (h *Handler) ListAuctions(c *gin.Context) {
	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = min(parsed, 200)
		}
	}

	filter := ListFilter{Limit: limit + 1, Seller: c.Query("seller")}
	switch p := Phase(c.Query("phase")); p {
	case "", PhaseOpen, PhaseClosed:
		filter.Phase = p
	default:
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_phase",
			"message": "phase must be open or closed",
		})
		return
	}

	after, err := pagination.Decode(c.Query("cursor"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_cursor",
			"message": "cursor must be a nextCursor value from a previous page",
		})
		return
	}
	filter.After = after

	auctions, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	auctions, next := pagination.ComputePage(auctions, limit, func(l *Ledger) (time.Time, string) {
		return l.CreatedAt, l.ID
	})
	if auctions == nil {
		auctions = []*Ledger{}
	}
	resp := gin.H{
		"auctions": auctions,
		"count":    len(auctions),
		"hasMore":  next != "",
	}
	if next != "" {
		resp["nextCursor"] = next
	}
	c.JSON(http.StatusOK, resp)
}

// PlaceBid handles POST /v1/auctions/:id/bids
func (h *Handler) PlaceBid(c *gin.Context) {
	caller, ok := callerAccount(c)
	if !ok {
		return
	}

	var req BidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "amount is required and must be a positive integer",
		})
		return
	}

	res, err := h.service.Bid(c.Request.Context(), c.Param("id"), caller, req.Amount)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// EndAuction handles POST /v1/auctions/:id/end
func (h *Handler) EndAuction(c *gin.Context) {
	caller, ok := callerAccount(c)
	if !ok {
		return
	}

	var req EndAuctionRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	l, err := h.service.EndAuction(c.Request.Context(), c.Param("id"), caller, req.HighestBidder)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"auction": l})
}

// Refund handles POST /v1/auctions/:id/refund
func (h *Handler) Refund(c *gin.Context) {
	caller, ok := callerAccount(c)
	if !ok {
		return
	}

	res, err := h.service.Refund(c.Request.Context(), c.Param("id"), caller)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// ListEscrows handles GET /v1/auctions/:id/escrows
func (h *Handler) ListEscrows(c *gin.Context) {
	records, err := h.service.ListEscrows(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"escrows": records,
		"count":   len(records),
	})
}

// GetEscrow handles GET /v1/auctions/:id/escrows/:address
func (h *Handler) GetEscrow(c *gin.Context) {
	rec, err := h.service.GetEscrow(c.Request.Context(), c.Param("id"), c.Param("address"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"escrow": rec})
}

func callerAccount(c *gin.Context) (string, bool) {
	caller := c.GetString(CallerKey)
	if caller == "" {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":   "unauthorized",
			"message": "X-Account-Address header is required",
		})
		return "", false
	}
	return caller, true
}

func respondError(c *gin.Context, err error) {
	status, code := errorStatus(err)
	if status == http.StatusInternalServerError {
		c.JSON(status, gin.H{"error": code, "message": "Internal error"})
		return
	}
	c.JSON(status, gin.H{"error": code, "message": err.Error()})
}

func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, ErrAuctionNotFound):
		return http.StatusNotFound, "auction_not_found"
	case errors.Is(err, ErrRecordNotFound):
		return http.StatusNotFound, "record_not_found"
	case errors.Is(err, ErrWrongAccount):
		return http.StatusForbidden, "wrong_account"
	case errors.Is(err, ErrBidTooLow):
		return http.StatusConflict, "bid_too_low"
	case errors.Is(err, ErrAlreadyHighestBidder):
		return http.StatusConflict, "already_highest_bidder"
	case errors.Is(err, ErrAuctionClosed):
		return http.StatusConflict, "auction_closed"
	case errors.Is(err, ErrAuctionStillOpen):
		return http.StatusConflict, "auction_still_open"
	case errors.Is(err, ErrInvalidDuration):
		return http.StatusBadRequest, "invalid_duration"
	case errors.Is(err, ErrInvalidAmount):
		return http.StatusBadRequest, "invalid_amount"
	case errors.Is(err, ErrInvalidAccount):
		return http.StatusBadRequest, "invalid_account"
	case errors.Is(err, ErrInsufficientFunds):
		return http.StatusPaymentRequired, "insufficient_funds"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
