package funds

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/auctionledger/internal/validation"
)

// Handler provides HTTP endpoints for balance queries and the dev faucet.
type Handler struct {
	service *Service
	logger  *slog.Logger
}

// NewHandler creates a new funds handler.
func NewHandler(service *Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// RegisterRoutes sets up read-only account routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	accounts := r.Group("/accounts/:address", validation.AccountParamMiddleware())
	accounts.GET("/balance", h.GetBalance)
	accounts.GET("/history", h.GetHistory)
}

// RegisterFaucetRoutes mounts the deposit endpoint. Only enabled outside
// production.
func (h *Handler) RegisterFaucetRoutes(r *gin.RouterGroup) {
	r.POST("/accounts/:address/deposit", validation.AccountParamMiddleware(), h.Deposit)
}

// GetBalance handles GET /accounts/:address/balance
func (h *Handler) GetBalance(c *gin.Context) {
	bal, err := h.service.Balance(c.Request.Context(), c.Param("address"))
	if err != nil {
		h.logger.Error("failed to read balance", "address", c.Param("address"), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "balance_error",
			"message": "Failed to retrieve balance",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"balance": bal})
}

// GetHistory handles GET /accounts/:address/history
func (h *Handler) GetHistory(c *gin.Context) {
	limit := 50
	if l := c.Query("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	entries, err := h.service.History(c.Request.Context(), c.Param("address"), limit)
	if err != nil {
		h.logger.Error("failed to read history", "address", c.Param("address"), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "history_error",
			"message": "Failed to retrieve account history",
		})
		return
	}
	if entries == nil {
		entries = []*Entry{}
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "count": len(entries)})
}

// DepositRequest credits test funds to an account.
type DepositRequest struct {
	Amount    uint64 `json:"amount"`
	Reference string `json:"reference"`
}

// Deposit handles POST /accounts/:address/deposit
func (h *Handler) Deposit(c *gin.Context) {
	var req DepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}
	if errs := validation.Validate(validation.Positive("amount", req.Amount)); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	address := c.Param("address")
	reference := req.Reference
	if reference == "" {
		reference = "faucet"
	}

	if err := h.service.Deposit(c.Request.Context(), address, req.Amount, reference); err != nil {
		status, code := http.StatusInternalServerError, "deposit_failed"
		switch {
		case errors.Is(err, ErrInvalidAmount):
			status, code = http.StatusBadRequest, "invalid_amount"
		case errors.Is(err, ErrBalanceOverflow):
			status, code = http.StatusBadRequest, "balance_overflow"
		}
		c.JSON(status, gin.H{"error": code, "message": err.Error()})
		return
	}

	bal, err := h.service.Balance(c.Request.Context(), address)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "balance_error", "message": "Failed to retrieve balance"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"balance": bal})
}
