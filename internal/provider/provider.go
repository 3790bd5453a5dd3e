// Package provider abstracts the payment provider behind a narrow
// interface: card authorizations with deferred capture for bounty escrow,
// immediate charges for PPV purchases, and outbound transfers for payouts.
package provider

import (
	"context"
	"errors"
	"time"
)

var (
	ErrUnavailable     = errors.New("payment provider unavailable")
	ErrPaymentDeclined = errors.New("payment declined")
	ErrNotFound        = errors.New("payment not found")
)

// PaymentRef identifies a payment object at the provider.
type PaymentRef struct {
	ID       string    // payment intent / charge id
	ChargeID string    // underlying charge, when known
	Amount   int64     // smallest currency unit
	Currency string
	Status   string // provider-side status string
	Created  time.Time
}

// TransferRef identifies an outbound transfer at the provider.
type TransferRef struct {
	ID          string
	Amount      int64
	Currency    string
	Destination string
	Created     time.Time
}

// AuthorizeParams describes a manual-capture authorization.
type AuthorizeParams struct {
	Amount         int64
	Currency       string
	UserID         string
	QuestionID     string
	PaymentMethod  string // provider payment method token
	IdempotencyKey string
}

// ChargeParams describes an immediately captured charge.
type ChargeParams struct {
	Amount         int64
	Currency       string
	UserID         string
	QuestionID     string
	PaymentMethod  string
	IdempotencyKey string
	Description    string
}

// TransferParams describes an outbound transfer to a user's connected
// account.
type TransferParams struct {
	Amount         int64
	Currency       string
	Destination    string
	PayoutID       string
	IdempotencyKey string
}

// Provider is the payment provider surface the engine depends on.
type Provider interface {
	// Authorize places a manual-capture hold on the payer's card.
	Authorize(ctx context.Context, params AuthorizeParams) (*PaymentRef, error)
	// Capture captures up to amount from a prior authorization.
	Capture(ctx context.Context, ref string, amount int64) (*PaymentRef, error)
	// Cancel voids an uncaptured authorization.
	Cancel(ctx context.Context, ref string) error
	// Charge creates and captures a payment in one step.
	Charge(ctx context.Context, params ChargeParams) (*PaymentRef, error)
	// Transfer sends funds out to a destination account.
	Transfer(ctx context.Context, params TransferParams) (*TransferRef, error)
}
