package question

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dkims/askpay/internal/logging"
	"github.com/dkims/askpay/internal/validation"
)

// Settler releases the accumulated best-responder share once a best
// answer is chosen. Wired to the distribution pool in server setup.
type Settler interface {
	ReleaseBest(ctx context.Context, questionID, responderID string) error
}

// Handler provides HTTP endpoints for questions and answers.
type Handler struct {
	service *Service
	settler Settler
}

// NewHandler creates a new question handler. settler may be nil.
func NewHandler(service *Service, settler Settler) *Handler {
	return &Handler{service: service, settler: settler}
}

// RegisterRoutes sets up question routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/questions", h.CreateQuestion)
	r.GET("/questions/:id", h.GetQuestion)
	r.GET("/questions/:id/answers", h.ListAnswers)
	r.POST("/questions/:id/answers", h.PostAnswer)
	r.POST("/questions/:id/best", h.SelectBest)
}

// CreateRequest is the body for POST /v1/questions.
type CreateRequest struct {
	Title        string `json:"title" binding:"required"`
	Body         string `json:"body"`
	BountyAmount int64  `json:"bounty_amount" binding:"required"`
	Currency     string `json:"currency"`
}

// CreateQuestion handles POST /v1/questions
func (h *Handler) CreateQuestion(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	askerID := c.GetString("userID")
	if errs := validation.Validate(
		validation.Required("user_id", askerID),
		validation.ValidUserID("user_id", askerID),
		validation.PositiveAmount("bounty_amount", req.BountyAmount),
		validation.MaxLength("title", req.Title, 500),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	if req.Currency == "" {
		req.Currency = "usd"
	}

	q, err := h.service.Create(c.Request.Context(), askerID, req.Title, req.Body, req.BountyAmount, req.Currency)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "question_failed",
			"message": "Failed to create question",
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"question": q})
}

// GetQuestion handles GET /v1/questions/:id
func (h *Handler) GetQuestion(c *gin.Context) {
	q, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Question not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"question": q})
}

// ListAnswers handles GET /v1/questions/:id/answers
func (h *Handler) ListAnswers(c *gin.Context) {
	answers, err := h.service.ListAnswers(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"answers": answers,
		"count":   len(answers),
	})
}

// AnswerRequest is the body for POST /v1/questions/:id/answers.
type AnswerRequest struct {
	Body string `json:"body" binding:"required"`
}

// PostAnswer handles POST /v1/questions/:id/answers
func (h *Handler) PostAnswer(c *gin.Context) {
	var req AnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Answer body is required",
		})
		return
	}

	responderID := c.GetString("userID")
	a, err := h.service.PostAnswer(c.Request.Context(), c.Param("id"), responderID, req.Body)
	if err != nil {
		status := http.StatusInternalServerError
		code := "internal_error"
		switch {
		case errors.Is(err, ErrNotFound):
			status = http.StatusNotFound
			code = "not_found"
		case errors.Is(err, ErrSelfAnswer):
			status = http.StatusForbidden
			code = "self_answer"
		case errors.Is(err, ErrInvalidTransition):
			status = http.StatusConflict
			code = "invalid_state"
		}
		c.JSON(status, gin.H{"error": code, "message": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"answer": a})
}

// BestRequest is the body for POST /v1/questions/:id/best.
type BestRequest struct {
	AnswerID string `json:"answer_id" binding:"required"`
}

// SelectBest handles POST /v1/questions/:id/best
func (h *Handler) SelectBest(c *gin.Context) {
	var req BestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "answer_id is required",
		})
		return
	}

	ctx := c.Request.Context()
	questionID := c.Param("id")

	q, err := h.service.Get(ctx, questionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "Question not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}

	// Only the asker selects the best answer.
	if callerID := c.GetString("userID"); callerID != q.AskerID {
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "unauthorized",
			"message": "Only the asker can select the best answer",
		})
		return
	}

	q, err = h.service.SelectBest(ctx, questionID, req.AnswerID)
	if err != nil {
		status := http.StatusInternalServerError
		code := "internal_error"
		switch {
		case errors.Is(err, ErrNotFound), errors.Is(err, ErrAnswerNotFound):
			status = http.StatusNotFound
			code = "not_found"
		case errors.Is(err, ErrBestAlreadySelected):
			status = http.StatusConflict
			code = "best_already_selected"
		case errors.Is(err, ErrInvalidTransition):
			status = http.StatusConflict
			code = "invalid_state"
		}
		c.JSON(status, gin.H{"error": code, "message": err.Error()})
		return
	}

	// Release the accumulated best share to the chosen responder.
	if h.settler != nil {
		a, aerr := h.service.GetAnswer(ctx, req.AnswerID)
		if aerr == nil {
			if err := h.settler.ReleaseBest(ctx, questionID, a.ResponderID); err != nil {
				// Settlement retries through the distribute endpoint; the
				// selection itself already committed.
				logging.L(ctx).Error("best share release failed",
					"question_id", questionID, "answer_id", req.AnswerID, "error", err)
			}
		}
	}

	c.JSON(http.StatusOK, gin.H{"question": q})
}
