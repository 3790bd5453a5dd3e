package pool

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dkims/askpay/internal/question"
)

// Handler provides HTTP endpoints for settlement and pool management.
type Handler struct {
	service *Service
}

// NewHandler creates a new pool handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up settlement and pool routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/settlement/distribute", h.Distribute)
	r.GET("/pools/:questionId", h.GetPool)
	r.POST("/pools/:questionId/members/:responderId/exclude", h.Exclude)
	r.POST("/pools/:questionId/members/:responderId/restore", h.Restore)
}

// DistributeRequest is the body for POST /v1/settlement/distribute.
type DistributeRequest struct {
	QuestionID string `json:"question_id" binding:"required"`
	Action     string `json:"action" binding:"required"` // "best" or "others"
}

// Distribute handles POST /v1/settlement/distribute
func (h *Handler) Distribute(c *gin.Context) {
	var req DistributeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "question_id and action are required",
		})
		return
	}

	switch req.Action {
	case "best":
		responder, err := h.service.bestResponder(c.Request.Context(), req.QuestionID)
		if err != nil {
			status, code := mapError(err)
			c.JSON(status, gin.H{"error": code, "message": err.Error()})
			return
		}
		if err := h.service.ReleaseBest(c.Request.Context(), req.QuestionID, responder); err != nil {
			status, code := mapError(err)
			c.JSON(status, gin.H{"error": code, "message": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"released_to": responder})
	case "others":
		result, err := h.service.DistributeOthers(c.Request.Context(), req.QuestionID)
		if err != nil {
			status, code := mapError(err)
			c.JSON(status, gin.H{"error": code, "message": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"distribution": result})
	default:
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "action must be best or others",
		})
	}
}

// GetPool handles GET /v1/pools/:questionId
func (h *Handler) GetPool(c *gin.Context) {
	questionID := c.Param("questionId")

	p, err := h.service.Get(c.Request.Context(), questionID)
	if err != nil {
		status, code := mapError(err)
		c.JSON(status, gin.H{"error": code, "message": err.Error()})
		return
	}
	members, err := h.service.Members(c.Request.Context(), questionID)
	if err != nil {
		status, code := mapError(err)
		c.JSON(status, gin.H{"error": code, "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"pool": p, "members": members})
}

// Exclude handles POST /v1/pools/:questionId/members/:responderId/exclude
func (h *Handler) Exclude(c *gin.Context) {
	h.setExcluded(c, true)
}

// Restore handles POST /v1/pools/:questionId/members/:responderId/restore
func (h *Handler) Restore(c *gin.Context) {
	h.setExcluded(c, false)
}

func (h *Handler) setExcluded(c *gin.Context, excluded bool) {
	questionID := c.Param("questionId")
	responderID := c.Param("responderId")

	var err error
	if excluded {
		err = h.service.Exclude(c.Request.Context(), questionID, responderID)
	} else {
		err = h.service.Restore(c.Request.Context(), questionID, responderID)
	}
	if err != nil {
		status, code := mapError(err)
		c.JSON(status, gin.H{"error": code, "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"responder_id": responderID, "excluded": excluded})
}

func mapError(err error) (int, string) {
	switch {
	case errors.Is(err, question.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, ErrPoolNotFound):
		return http.StatusNotFound, "pool_not_found"
	case errors.Is(err, ErrMemberNotFound):
		return http.StatusNotFound, "member_not_found"
	case errors.Is(err, ErrNoBestAnswer):
		return http.StatusConflict, "no_best_answer"
	case errors.Is(err, ErrStaleRound):
		return http.StatusConflict, "round_completed"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
