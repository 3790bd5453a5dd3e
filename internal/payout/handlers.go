package payout

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/dkims/askpay/internal/provider"
	"github.com/dkims/askpay/internal/validation"
	"github.com/dkims/askpay/internal/wallet"
)

// Handler provides HTTP endpoints for payouts.
type Handler struct {
	service *Service
}

// NewHandler creates a new payout handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up payout routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/payouts", h.Request)
	r.GET("/payouts/:userId/history", h.History)
}

// RequestBody is the body for POST /v1/payouts. The requester is taken
// from the X-User-ID header; the Idempotency-Key header guards retries.
type RequestBody struct {
	Amount int64 `json:"amount" binding:"required"`
}

// Request handles POST /v1/payouts
func (h *Handler) Request(c *gin.Context) {
	userID := c.GetString("userID")
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":   "unauthorized",
			"message": "X-User-ID header is required",
		})
		return
	}

	var req RequestBody
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "amount is required",
		})
		return
	}
	if errs := validation.Validate(
		validation.PositiveAmount("amount", req.Amount),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
		})
		return
	}

	p, err := h.service.Request(c.Request.Context(), userID, req.Amount, c.GetHeader("Idempotency-Key"))
	if err != nil {
		status, code := mapError(err)
		c.JSON(status, gin.H{"error": code, "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"payout": p})
}

// History handles GET /v1/payouts/:userId/history
func (h *Handler) History(c *gin.Context) {
	userID := c.Param("userId")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	payouts, err := h.service.History(c.Request.Context(), userID, limit)
	if err != nil {
		status, code := mapError(err)
		c.JSON(status, gin.H{"error": code, "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"payouts": payouts})
}

func mapError(err error) (int, string) {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, ErrBelowMinimum):
		return http.StatusBadRequest, "below_minimum"
	case errors.Is(err, wallet.ErrInsufficientFunds):
		return http.StatusConflict, "insufficient_funds"
	case errors.Is(err, ErrNotSettleable):
		return http.StatusConflict, "invalid_state"
	case errors.Is(err, provider.ErrUnavailable):
		return http.StatusBadGateway, "provider_unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
