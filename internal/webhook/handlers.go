package webhook

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	stripewebhook "github.com/stripe/stripe-go/v81/webhook"

	"github.com/dkims/askpay/internal/logging"
)

// maxBodyBytes bounds inbound event payloads, per provider guidance.
const maxBodyBytes = int64(65536)

// Handler is the provider event sink.
type Handler struct {
	service *Service
	secret  string // signing secret; empty skips verification (demo mode)
}

// NewHandler creates a new webhook handler.
func NewHandler(service *Service, secret string) *Handler {
	return &Handler{service: service, secret: secret}
}

// RegisterRoutes sets up the webhook sink. Mounted outside the
// authenticated API group; the signature is the authentication.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/webhooks/provider", h.Receive)
}

// rawEvent mirrors the provider envelope for unverified (demo) payloads.
type rawEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// Receive handles POST /v1/webhooks/provider
func (h *Handler) Receive(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "could not read request body",
		})
		return
	}

	var id, eventType string
	var object json.RawMessage

	if h.secret != "" {
		event, err := stripewebhook.ConstructEvent(body, c.GetHeader("Stripe-Signature"), h.secret)
		if err != nil {
			logging.L(c.Request.Context()).Warn("webhook signature rejected", "error", err)
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "signature_invalid",
				"message": ErrSignatureInvalid.Error(),
			})
			return
		}
		id, eventType, object = event.ID, string(event.Type), event.Data.Raw
	} else {
		var ev rawEvent
		if err := json.Unmarshal(body, &ev); err != nil || ev.ID == "" {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": "malformed event payload",
			})
			return
		}
		id, eventType, object = ev.ID, ev.Type, ev.Data.Object
	}

	if err := h.service.Process(c.Request.Context(), id, eventType, object); err != nil {
		// Non-2xx makes the provider redeliver.
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "processing_failed",
			"message": "event not applied, retry expected",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}
