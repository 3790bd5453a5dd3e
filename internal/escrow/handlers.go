package escrow

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dkims/askpay/internal/provider"
	"github.com/dkims/askpay/internal/question"
	"github.com/dkims/askpay/internal/validation"
)

// Handler provides HTTP endpoints for escrow operations.
type Handler struct {
	service *Service
}

// NewHandler creates a new escrow handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up escrow routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/escrow/authorize", h.Authorize)
	r.POST("/escrow/capture", h.Capture)
	r.POST("/escrow/release", h.Release)
}

// AuthorizeRequest is the body for POST /v1/escrow/authorize.
type AuthorizeRequest struct {
	QuestionID    string `json:"question_id" binding:"required"`
	Amount        int64  `json:"amount" binding:"required"`
	PaymentMethod string `json:"payment_method"`
}

// Authorize handles POST /v1/escrow/authorize
func (h *Handler) Authorize(c *gin.Context) {
	var req AuthorizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "question_id and amount are required",
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

	q, err := h.service.Authorize(c.Request.Context(), req.QuestionID, req.Amount, req.PaymentMethod)
	if err != nil {
		status, code := mapError(err)
		c.JSON(status, gin.H{"error": code, "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"question": q})
}

// QuestionRequest carries just a question id.
type QuestionRequest struct {
	QuestionID string `json:"question_id" binding:"required"`
}

// Capture handles POST /v1/escrow/capture
func (h *Handler) Capture(c *gin.Context) {
	var req QuestionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "question_id is required",
		})
		return
	}

	result, err := h.service.Capture(c.Request.Context(), req.QuestionID)
	if err != nil {
		status, code := mapError(err)
		c.JSON(status, gin.H{"error": code, "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"capture": result})
}

// Release handles POST /v1/escrow/release
func (h *Handler) Release(c *gin.Context) {
	var req QuestionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "question_id is required",
		})
		return
	}

	q, err := h.service.Release(c.Request.Context(), req.QuestionID)
	if err != nil {
		status, code := mapError(err)
		c.JSON(status, gin.H{"error": code, "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"question": q})
}

func mapError(err error) (int, string) {
	switch {
	case errors.Is(err, question.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, ErrInvalidAmount):
		return http.StatusBadRequest, "invalid_amount"
	case errors.Is(err, ErrAlreadyFunded):
		return http.StatusConflict, "already_funded"
	case errors.Is(err, ErrAlreadyCaptured):
		return http.StatusConflict, "already_captured"
	case errors.Is(err, ErrNotAuthorized):
		return http.StatusConflict, "not_authorized"
	case errors.Is(err, ErrNotCapturable):
		return http.StatusConflict, "invalid_state"
	case errors.Is(err, provider.ErrPaymentDeclined):
		return http.StatusPaymentRequired, "payment_declined"
	case errors.Is(err, provider.ErrUnavailable):
		return http.StatusBadGateway, "provider_unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
