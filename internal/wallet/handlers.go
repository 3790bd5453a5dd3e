package wallet

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/dkims/askpay/internal/logging"
)

// Handler provides HTTP endpoints for wallet lookups.
type Handler struct {
	service *Service
}

// NewHandler creates a new wallet handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up wallet routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/wallets/:userId", h.GetWallet)
	r.GET("/wallets/:userId/reconcile", h.Reconcile)
}

// GetWallet handles GET /v1/wallets/:userId
func (h *Handler) GetWallet(c *gin.Context) {
	userID := c.Param("userId")

	w, err := h.service.Get(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
			if limit > 200 {
				limit = 200
			}
		}
	}

	history, err := h.service.History(c.Request.Context(), userID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"wallet":  w,
		"history": history,
	})
}

// Reconcile handles GET /v1/wallets/:userId/reconcile
func (h *Handler) Reconcile(c *gin.Context) {
	userID := c.Param("userId")
	ctx := c.Request.Context()

	rec, err := h.service.RebuildBalance(ctx, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	if !rec.Consistent {
		logging.Audit(ctx, "wallet snapshot diverges from entry log",
			"user_id", userID,
			"available", rec.Available, "computed_available", rec.ComputedAvailable,
			"pending", rec.Pending, "computed_pending", rec.ComputedPending)
	}

	c.JSON(http.StatusOK, gin.H{"reconciliation": rec})
}
