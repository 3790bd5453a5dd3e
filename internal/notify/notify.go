// Package notify delivers event notifications to external services.
//
// Users register notification URLs to hear about:
// - PPV sales and purchases
// - Settlement payouts (best share, pool distributions)
// - Payout completion or failure
//
// Delivery is fire-and-forget: the money engines never wait on, retry,
// or roll back for a notification.
package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/dkims/askpay/internal/idgen"
	"github.com/dkims/askpay/internal/logging"
	"github.com/dkims/askpay/internal/metrics"
	"github.com/dkims/askpay/internal/security"
)

// EventType identifies a notification event
type EventType string

const (
	EventPPVSold          EventType = "ppv.sold"
	EventPPVPurchased     EventType = "ppv.purchased"
	EventBestReleased     EventType = "settlement.best_released"
	EventPoolDistributed  EventType = "settlement.distributed"
	EventEscrowCaptured   EventType = "escrow.captured"
	EventEscrowReleased   EventType = "escrow.released"
	EventPayoutPaid       EventType = "payout.paid"
	EventPayoutFailed     EventType = "payout.failed"
)

// Event is one outbound notification
type Event struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	UserID    string         `json:"userId"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// Subscription is a user's registered notification endpoint
type Subscription struct {
	ID          string      `json:"id"`
	UserID      string      `json:"userId"`
	URL         string      `json:"url"`
	Secret      string      `json:"-"` // Used for HMAC signing
	Events      []EventType `json:"events"`
	Active      bool        `json:"active"`
	CreatedAt   time.Time   `json:"createdAt"`
	LastSuccess *time.Time  `json:"lastSuccess,omitempty"`
	LastError   string      `json:"lastError,omitempty"`
}

// Store persists notification subscriptions
type Store interface {
	Create(ctx context.Context, sub *Subscription) error
	Get(ctx context.Context, id string) (*Subscription, error)
	GetByUser(ctx context.Context, userID string) ([]*Subscription, error)
	Update(ctx context.Context, sub *Subscription) error
	Delete(ctx context.Context, id string) error
}

// Dispatcher sends notification events
type Dispatcher struct {
	store          Store
	client         *http.Client
	urlValidator   func(string) error
	fallbackSecret string
	wg             sync.WaitGroup
}

// NewDispatcher creates a new notification dispatcher
func NewDispatcher(store Store) *Dispatcher {
	return &Dispatcher{
		store: store,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		urlValidator: security.ValidateEndpointURL,
	}
}

// SetFallbackSecret sets the platform-wide signing secret used for
// subscriptions created without their own secret.
func (d *Dispatcher) SetFallbackSecret(secret string) {
	d.fallbackSecret = secret
}

// Notify sends an event to all of a user's matching subscriptions.
// Delivery happens on background goroutines; errors surface only in the
// subscription's LastError and the delivery metrics.
func (d *Dispatcher) Notify(ctx context.Context, userID string, event string, data map[string]any) {
	subs, err := d.store.GetByUser(ctx, userID)
	if err != nil {
		logging.L(ctx).Warn("notification subscriptions unavailable", "user_id", userID, "error", err)
		return
	}

	ev := &Event{
		ID:        idgen.New(),
		Type:      EventType(event),
		UserID:    userID,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}

	for _, sub := range subs {
		if !sub.Active || !sub.wants(ev.Type) {
			continue
		}
		d.wg.Add(1)
		go func(sub *Subscription) {
			defer d.wg.Done()
			d.send(context.WithoutCancel(ctx), sub, ev)
		}(sub)
	}
}

// Wait blocks until in-flight deliveries finish. Used in shutdown and tests.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (sub *Subscription) wants(t EventType) bool {
	if len(sub.Events) == 0 {
		return true
	}
	for _, et := range sub.Events {
		if et == t {
			return true
		}
	}
	return false
}

func (d *Dispatcher) send(ctx context.Context, sub *Subscription, event *Event) {
	if err := d.urlValidator(sub.URL); err != nil {
		d.updateError(ctx, sub, fmt.Sprintf("blocked url: %v", err))
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		d.updateError(ctx, sub, "failed to marshal event")
		return
	}

	req, err := http.NewRequestWithContext(ctx, "POST", sub.URL, bytes.NewReader(payload))
	if err != nil {
		d.updateError(ctx, sub, "failed to create request")
		return
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Askpay-Event", string(event.Type))
	req.Header.Set("X-Askpay-Timestamp", fmt.Sprintf("%d", event.Timestamp.Unix()))

	// Sign the payload if a secret is available
	secret := sub.Secret
	if secret == "" {
		secret = d.fallbackSecret
	}
	if secret != "" {
		req.Header.Set("X-Askpay-Signature", Sign(payload, secret))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		metrics.NotifyDeliveriesTotal.WithLabelValues("error").Inc()
		d.updateError(ctx, sub, fmt.Sprintf("request failed: %v", err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		metrics.NotifyDeliveriesTotal.WithLabelValues("delivered").Inc()
		d.updateSuccess(ctx, sub)
	} else {
		metrics.NotifyDeliveriesTotal.WithLabelValues("rejected").Inc()
		d.updateError(ctx, sub, fmt.Sprintf("status %d", resp.StatusCode))
	}
}

// Sign computes the hex HMAC-SHA256 signature receivers verify.
func Sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// VerifySignature checks a received signature against the payload.
func VerifySignature(payload []byte, secret, signature string) bool {
	return hmac.Equal([]byte(Sign(payload, secret)), []byte(signature))
}

func (d *Dispatcher) updateSuccess(ctx context.Context, sub *Subscription) {
	now := time.Now()
	sub.LastSuccess = &now
	sub.LastError = ""
	if err := d.store.Update(ctx, sub); err != nil {
		logging.L(ctx).Warn("subscription status not updated", "subscription_id", sub.ID, "error", err)
	}
}

func (d *Dispatcher) updateError(ctx context.Context, sub *Subscription, errMsg string) {
	sub.LastError = errMsg
	if err := d.store.Update(ctx, sub); err != nil {
		logging.L(ctx).Warn("subscription status not updated", "subscription_id", sub.ID, "error", err)
	}
	logging.L(ctx).Warn("notification delivery failed",
		"subscription_id", sub.ID, "url", sub.URL, "error", errMsg)
}
