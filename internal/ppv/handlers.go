package ppv

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dkims/askpay/internal/money"
	"github.com/dkims/askpay/internal/provider"
	"github.com/dkims/askpay/internal/question"
)

// Handler provides HTTP endpoints for pay-per-view purchases.
type Handler struct {
	service *Service
}

// NewHandler creates a new PPV handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up PPV routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/ppv/purchase", h.Purchase)
	r.GET("/ppv/access/:questionId", h.Access)
}

// PurchaseRequest is the body for POST /v1/ppv/purchase. The buyer is
// taken from the X-User-ID header.
type PurchaseRequest struct {
	QuestionID string `json:"question_id" binding:"required"`
}

// Purchase handles POST /v1/ppv/purchase
func (h *Handler) Purchase(c *gin.Context) {
	buyerID := c.GetString("userID")
	if buyerID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":   "unauthorized",
			"message": "X-User-ID header is required",
		})
		return
	}

	var req PurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "question_id is required",
		})
		return
	}

	result, err := h.service.Purchase(c.Request.Context(), req.QuestionID, buyerID)
	if err != nil {
		status, code := mapError(err)
		c.JSON(status, gin.H{"error": code, "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"purchase": result})
}

// Access handles GET /v1/ppv/access/:questionId
func (h *Handler) Access(c *gin.Context) {
	userID := c.GetString("userID")
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":   "unauthorized",
			"message": "X-User-ID header is required",
		})
		return
	}

	granted, err := h.service.HasAccess(c.Request.Context(), c.Param("questionId"), userID)
	if err != nil {
		status, code := mapError(err)
		c.JSON(status, gin.H{"error": code, "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"access": granted})
}

func mapError(err error) (int, string) {
	switch {
	case errors.Is(err, question.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, ErrSelfPurchase):
		return http.StatusForbidden, "self_purchase"
	case errors.Is(err, ErrAlreadyPurchased):
		return http.StatusConflict, "already_purchased"
	case errors.Is(err, ErrNotPurchasable):
		return http.StatusConflict, "invalid_state"
	case errors.Is(err, money.ErrInvalidAmount):
		return http.StatusBadRequest, "invalid_amount"
	case errors.Is(err, provider.ErrPaymentDeclined):
		return http.StatusPaymentRequired, "payment_declined"
	case errors.Is(err, provider.ErrUnavailable):
		return http.StatusBadGateway, "provider_unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
