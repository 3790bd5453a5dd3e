// Package webhook reconciles provider events into local state.
//
// The payment provider is the source of truth for money movement; this
// package is the inbound side of that contract. Every event id is
// recorded before its side effects run, so a redelivered event is
// acknowledged without reprocessing. The side effects themselves are
// idempotent service calls, which covers the crash window between the
// side effect and the acknowledgment.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dkims/askpay/internal/escrow"
	"github.com/dkims/askpay/internal/ledger"
	"github.com/dkims/askpay/internal/logging"
	"github.com/dkims/askpay/internal/metrics"
	"github.com/dkims/askpay/internal/payout"
	"github.com/dkims/askpay/internal/question"
	"github.com/dkims/askpay/internal/traces"
)

var (
	ErrAlreadyProcessed = errors.New("event already processed")
	ErrSignatureInvalid = errors.New("webhook signature invalid")
)

// ProcessedStore records handled event ids for replay suppression.
type ProcessedStore interface {
	// MarkProcessed records the event id, returning ErrAlreadyProcessed
	// if it was recorded before.
	MarkProcessed(ctx context.Context, eventID, eventType string) error
	// Forget removes a recorded id so the provider's retry can reprocess
	// an event whose side effects failed.
	Forget(ctx context.Context, eventID string) error
}

// Service applies provider events.
type Service struct {
	events  ProcessedStore
	escrows *escrow.Service
	payouts *payout.Service
	ledger  *ledger.Ledger
}

// New creates a webhook reconciler.
func New(events ProcessedStore, escrows *escrow.Service, payouts *payout.Service, led *ledger.Ledger) *Service {
	return &Service{events: events, escrows: escrows, payouts: payouts, ledger: led}
}

// eventObject is the subset of a provider event payload we act on.
type eventObject struct {
	ID             string `json:"id"`
	PaymentIntent  string `json:"payment_intent"`
	FailureMessage string `json:"failure_message"`
}

// Process applies one provider event. Unknown event types and events
// referencing objects we do not track are acknowledged; only transient
// local failures return an error (and un-record the event so the
// provider's retry can land).
func (s *Service) Process(ctx context.Context, eventID, eventType string, data json.RawMessage) error {
	ctx, span := traces.StartSpan(ctx, "webhook.process", traces.Reference(eventID))
	defer span.End()

	if err := s.events.MarkProcessed(ctx, eventID, eventType); err != nil {
		if errors.Is(err, ErrAlreadyProcessed) {
			metrics.WebhookEventsTotal.WithLabelValues(eventType, "replayed").Inc()
			logging.L(ctx).Info("webhook event replayed", "event_id", eventID, "type", eventType)
			return nil
		}
		return err
	}

	var obj eventObject
	if len(data) > 0 {
		if err := json.Unmarshal(data, &obj); err != nil {
			// Malformed payload from the provider: ack, a retry will not
			// parse any better.
			metrics.WebhookEventsTotal.WithLabelValues(eventType, "malformed").Inc()
			logging.L(ctx).Warn("webhook payload not parseable", "event_id", eventID, "type", eventType, "error", err)
			return nil
		}
	}

	if err := s.apply(ctx, eventType, obj); err != nil {
		if ferr := s.events.Forget(ctx, eventID); ferr != nil {
			logging.Audit(ctx, "webhook side effect failed and event stayed marked processed",
				"event_id", eventID, "type", eventType, "error", err, "forget_error", ferr)
		}
		metrics.WebhookEventsTotal.WithLabelValues(eventType, "failed").Inc()
		return fmt.Errorf("apply %s: %w", eventType, err)
	}

	metrics.WebhookEventsTotal.WithLabelValues(eventType, "processed").Inc()
	return nil
}

func (s *Service) apply(ctx context.Context, eventType string, obj eventObject) error {
	switch eventType {
	case "payment_intent.succeeded", "payment_intent.amount_capturable_updated":
		_, err := s.escrows.MarkFunded(ctx, obj.ID)
		if errors.Is(err, question.ErrNotFound) {
			// Not one of our escrow intents (e.g. a PPV charge).
			logging.L(ctx).Info("payment intent not tied to an escrow", "provider_ref", obj.ID)
			return nil
		}
		return err

	case "charge.captured":
		return s.completeByRef(ctx, obj.PaymentIntent)

	case "charge.refunded":
		return s.recordRefund(ctx, obj.PaymentIntent)

	case "payout.paid", "transfer.paid":
		_, err := s.payouts.Confirm(ctx, obj.ID)
		if errors.Is(err, payout.ErrNotFound) {
			logging.L(ctx).Info("transfer not tied to a payout", "provider_ref", obj.ID)
			return nil
		}
		return err

	case "payout.failed", "transfer.failed":
		_, err := s.payouts.Fail(ctx, obj.ID, obj.FailureMessage)
		if errors.Is(err, payout.ErrNotFound) {
			logging.L(ctx).Info("transfer not tied to a payout", "provider_ref", obj.ID)
			return nil
		}
		return err

	case "transfer.created", "transfer.updated", "account.updated":
		logging.L(ctx).Info("provider event noted", "type", eventType, "object_id", obj.ID)
		return nil

	default:
		logging.L(ctx).Info("unhandled webhook event type", "type", eventType, "object_id", obj.ID)
		return nil
	}
}

func (s *Service) completeByRef(ctx context.Context, providerRef string) error {
	if providerRef == "" {
		return nil
	}
	txn, err := s.ledger.GetByProviderRef(ctx, providerRef)
	if errors.Is(err, ledger.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if txn.Status == ledger.StatusCompleted {
		return nil
	}
	return s.ledger.Complete(ctx, txn.ID)
}

// recordRefund books a compensating REFUND against the original
// transaction. Shares already credited to wallets are not clawed back;
// the platform absorbs disputed revenue rather than driving responder
// balances negative.
func (s *Service) recordRefund(ctx context.Context, providerRef string) error {
	if providerRef == "" {
		return nil
	}
	txn, err := s.ledger.GetByProviderRef(ctx, providerRef)
	if errors.Is(err, ledger.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	_, err = s.ledger.Reverse(ctx, txn.ID, "provider refund")
	if errors.Is(err, ledger.ErrAlreadyReversed) {
		return nil
	}
	if errors.Is(err, ledger.ErrNotReversible) {
		// Refund of a transaction that never completed locally.
		logging.L(ctx).Warn("refund for non-completed transaction",
			"transaction_id", txn.ID, "status", string(txn.Status))
		return nil
	}
	if err != nil {
		return err
	}

	logging.L(ctx).Info("provider refund recorded",
		"transaction_id", txn.ID, "amount", txn.Amount, "provider_ref", providerRef)
	return nil
}
