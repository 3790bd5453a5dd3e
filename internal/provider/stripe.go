package provider

import (
	"context"
	"errors"
	"time"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/paymentintent"
	"github.com/stripe/stripe-go/v81/transfer"
)

// Stripe implements Provider on the Stripe API. All calls carry
// idempotency keys so that retried requests never double-charge.
type Stripe struct {
	callTimeout time.Duration
}

// NewStripe configures the Stripe client with the given secret key.
func NewStripe(secretKey string) *Stripe {
	stripe.Key = secretKey
	return &Stripe{callTimeout: 15 * time.Second}
}

// call bounds a provider call and runs it.
func (s *Stripe) call(ctx context.Context, fn func(ctx context.Context) error) error {
	bounded, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()
	return fn(bounded)
}

func (s *Stripe) Authorize(ctx context.Context, p AuthorizeParams) (*PaymentRef, error) {
	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(p.Amount),
		Currency:      stripe.String(p.Currency),
		CaptureMethod: stripe.String(string(stripe.PaymentIntentCaptureMethodManual)),
		Confirm:       stripe.Bool(true),
	}
	if p.PaymentMethod != "" {
		params.PaymentMethod = stripe.String(p.PaymentMethod)
	}
	if p.IdempotencyKey != "" {
		params.SetIdempotencyKey(p.IdempotencyKey)
	}
	params.AddMetadata("user_id", p.UserID)
	params.AddMetadata("question_id", p.QuestionID)
	params.AddMetadata("purpose", "escrow_authorization")

	var pi *stripe.PaymentIntent
	err := s.call(ctx, func(ctx context.Context) error {
		params.Context = ctx
		var err error
		pi, err = paymentintent.New(params)
		return err
	})
	if err != nil {
		return nil, mapStripeError(err)
	}
	return paymentRef(pi), nil
}

func (s *Stripe) Capture(ctx context.Context, ref string, amount int64) (*PaymentRef, error) {
	params := &stripe.PaymentIntentCaptureParams{
		AmountToCapture: stripe.Int64(amount),
	}
	params.SetIdempotencyKey("capture:" + ref)

	var pi *stripe.PaymentIntent
	err := s.call(ctx, func(ctx context.Context) error {
		params.Context = ctx
		var err error
		pi, err = paymentintent.Capture(ref, params)
		return err
	})
	if err != nil {
		return nil, mapStripeError(err)
	}
	return paymentRef(pi), nil
}

func (s *Stripe) Cancel(ctx context.Context, ref string) error {
	params := &stripe.PaymentIntentCancelParams{}

	err := s.call(ctx, func(ctx context.Context) error {
		params.Context = ctx
		_, err := paymentintent.Cancel(ref, params)
		return err
	})
	if err != nil {
		return mapStripeError(err)
	}
	return nil
}

func (s *Stripe) Charge(ctx context.Context, p ChargeParams) (*PaymentRef, error) {
	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(p.Amount),
		Currency:      stripe.String(p.Currency),
		CaptureMethod: stripe.String(string(stripe.PaymentIntentCaptureMethodAutomatic)),
		Confirm:       stripe.Bool(true),
		Description:   stripe.String(p.Description),
	}
	if p.PaymentMethod != "" {
		params.PaymentMethod = stripe.String(p.PaymentMethod)
	}
	if p.IdempotencyKey != "" {
		params.SetIdempotencyKey(p.IdempotencyKey)
	}
	params.AddMetadata("user_id", p.UserID)
	params.AddMetadata("question_id", p.QuestionID)
	params.AddMetadata("purpose", "ppv_purchase")

	var pi *stripe.PaymentIntent
	err := s.call(ctx, func(ctx context.Context) error {
		params.Context = ctx
		var err error
		pi, err = paymentintent.New(params)
		return err
	})
	if err != nil {
		return nil, mapStripeError(err)
	}
	return paymentRef(pi), nil
}

func (s *Stripe) Transfer(ctx context.Context, p TransferParams) (*TransferRef, error) {
	params := &stripe.TransferParams{
		Amount:      stripe.Int64(p.Amount),
		Currency:    stripe.String(p.Currency),
		Destination: stripe.String(p.Destination),
	}
	if p.IdempotencyKey != "" {
		params.SetIdempotencyKey(p.IdempotencyKey)
	}
	params.AddMetadata("payout_id", p.PayoutID)

	var tr *stripe.Transfer
	err := s.call(ctx, func(ctx context.Context) error {
		params.Context = ctx
		var err error
		tr, err = transfer.New(params)
		return err
	})
	if err != nil {
		return nil, mapStripeError(err)
	}
	return &TransferRef{
		ID:          tr.ID,
		Amount:      tr.Amount,
		Currency:    string(tr.Currency),
		Destination: p.Destination,
		Created:     time.Unix(tr.Created, 0),
	}, nil
}

func paymentRef(pi *stripe.PaymentIntent) *PaymentRef {
	ref := &PaymentRef{
		ID:       pi.ID,
		Amount:   pi.Amount,
		Currency: string(pi.Currency),
		Status:   string(pi.Status),
		Created:  time.Unix(pi.Created, 0),
	}
	if pi.LatestCharge != nil {
		ref.ChargeID = pi.LatestCharge.ID
	}
	return ref
}

func mapStripeError(err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		switch stripeErr.Type {
		case stripe.ErrorTypeCard:
			return ErrPaymentDeclined
		case stripe.ErrorTypeInvalidRequest:
			if stripeErr.HTTPStatusCode == 404 {
				return ErrNotFound
			}
			return err
		case stripe.ErrorTypeAPI:
			return ErrUnavailable
		}
	}
	return err
}
