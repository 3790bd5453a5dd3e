// Package payout moves earned wallet balance out to the payment provider.
//
// A payout holds the gross amount (available -> pending) while the
// provider transfer is in flight. The provider's webhook settles it:
// paid confirms the hold, failed releases it back to available. Requests
// carry a client idempotency key; a replayed key returns the original
// payout without a second debit.
package payout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dkims/askpay/internal/config"
	"github.com/dkims/askpay/internal/idgen"
	"github.com/dkims/askpay/internal/ledger"
	"github.com/dkims/askpay/internal/logging"
	"github.com/dkims/askpay/internal/metrics"
	"github.com/dkims/askpay/internal/money"
	"github.com/dkims/askpay/internal/provider"
	"github.com/dkims/askpay/internal/traces"
	"github.com/dkims/askpay/internal/wallet"
)

var (
	ErrNotFound      = errors.New("payout not found")
	ErrBelowMinimum  = errors.New("amount below payout minimum")
	ErrDuplicateKey  = errors.New("idempotency key already used")
	ErrNotSettleable = errors.New("payout not awaiting settlement")
)

// Status is a payout's lifecycle state.
type Status string

const (
	StatusRequested  Status = "REQUESTED"
	StatusProcessing Status = "PROCESSING"
	StatusPaid       Status = "PAID"
	StatusFailed     Status = "FAILED"
)

// Payout is one withdrawal request.
type Payout struct {
	ID             string    `json:"id"`
	UserID         string    `json:"userId"`
	Amount         int64     `json:"amount"` // gross, debited from the wallet
	Fee            int64     `json:"fee"`
	Net            int64     `json:"net"` // transferred to the user
	Status         Status    `json:"status"`
	IdempotencyKey string    `json:"-"`
	TransferRef    string    `json:"transferRef,omitempty"`
	FailureReason  string    `json:"failureReason,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Store persists payouts. Create must enforce idempotency-key uniqueness
// with ErrDuplicateKey.
type Store interface {
	Create(ctx context.Context, p *Payout) error
	Get(ctx context.Context, id string) (*Payout, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*Payout, error)
	GetByTransferRef(ctx context.Context, ref string) (*Payout, error)
	// UpdateStatus moves a payout out of the given statuses, recording the
	// transfer reference and failure reason when set.
	UpdateStatus(ctx context.Context, id string, from []Status, to Status, transferRef, reason string) error
	ListByUser(ctx context.Context, userID string, limit int) ([]*Payout, error)
}

// Service processes withdrawal requests.
type Service struct {
	store    Store
	wallets  *wallet.Service
	ledger   *ledger.Ledger
	provider provider.Provider
	fees     config.Fees
}

// New creates a payout service.
func New(store Store, wallets *wallet.Service, led *ledger.Ledger, prov provider.Provider, fees config.Fees) *Service {
	return &Service{store: store, wallets: wallets, ledger: led, provider: prov, fees: fees}
}

// Request initiates a payout of amount (gross) for userID. The fee is
// deducted from the transfer, not charged separately: the user's wallet
// loses amount, the provider transfer carries amount minus fee.
func (s *Service) Request(ctx context.Context, userID string, amount int64, idemKey string) (*Payout, error) {
	ctx, span := traces.StartSpan(ctx, "payout.request",
		traces.UserID(userID), traces.Amount(amount))
	defer span.End()

	if amount < s.fees.MinPayout {
		return nil, fmt.Errorf("%w: minimum is %d", ErrBelowMinimum, s.fees.MinPayout)
	}

	if idemKey != "" {
		if prior, err := s.store.GetByIdempotencyKey(ctx, idemKey); err == nil {
			return prior, nil
		} else if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}

	fee, net := money.PayoutFee(amount, s.fees)
	now := time.Now().UTC()
	p := &Payout{
		ID:             idgen.New(),
		UserID:         userID,
		Amount:         amount,
		Fee:            fee,
		Net:            net,
		Status:         StatusRequested,
		IdempotencyKey: idemKey,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.Create(ctx, p); err != nil {
		if errors.Is(err, ErrDuplicateKey) {
			// Raced with a concurrent identical request.
			return s.store.GetByIdempotencyKey(ctx, idemKey)
		}
		return nil, err
	}

	// Hold the gross amount while the transfer is in flight. The hold is
	// keyed to the payout, so a crashed request retried under the same
	// idempotency key cannot debit twice.
	if _, err := s.wallets.Hold(ctx, userID, amount, "payout_hold", p.ID, "payout in progress"); err != nil {
		reason := "wallet hold failed"
		if errors.Is(err, wallet.ErrInsufficientFunds) {
			reason = "insufficient funds"
		}
		if serr := s.store.UpdateStatus(ctx, p.ID, []Status{StatusRequested}, StatusFailed, "", reason); serr != nil {
			logging.L(ctx).Error("payout not marked failed", "payout_id", p.ID, "error", serr)
		}
		metrics.PayoutsTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}

	ref, err := s.provider.Transfer(ctx, provider.TransferParams{
		Amount:         p.Net,
		Currency:       config.DefaultCurrency,
		Destination:    userID,
		IdempotencyKey: "payout:" + p.ID,
	})
	if err != nil {
		// Compensate: the hold moves back to available and the payout
		// fails with the provider's reason.
		if _, rerr := s.wallets.ReleaseHold(ctx, userID, amount, "payout_release", p.ID, "payout transfer failed"); rerr != nil {
			logging.Audit(ctx, "payout transfer failed and hold release failed",
				"payout_id", p.ID, "user_id", userID, "error", rerr)
			return nil, rerr
		}
		if serr := s.store.UpdateStatus(ctx, p.ID, []Status{StatusRequested}, StatusFailed, "", err.Error()); serr != nil {
			logging.L(ctx).Error("payout not marked failed", "payout_id", p.ID, "error", serr)
		}
		metrics.PayoutsTotal.WithLabelValues("transfer_failed").Inc()
		return nil, fmt.Errorf("provider transfer failed: %w", err)
	}

	if _, err := s.ledger.Record(ctx, &ledger.Transaction{
		UserID:      userID,
		Type:        ledger.TypePayout,
		Status:      ledger.StatusProcessing,
		Amount:      amount,
		PlatformFee: fee,
		ProviderRef: ref.ID,
		Description: "payout transfer",
	}); err != nil {
		logging.Audit(ctx, "payout transfer initiated but ledger write failed",
			"payout_id", p.ID, "transfer_ref", ref.ID, "error", err)
		return nil, err
	}

	if err := s.store.UpdateStatus(ctx, p.ID, []Status{StatusRequested}, StatusProcessing, ref.ID, ""); err != nil {
		logging.Audit(ctx, "payout transfer initiated but status update failed",
			"payout_id", p.ID, "transfer_ref", ref.ID, "error", err)
		return nil, err
	}

	metrics.PayoutsTotal.WithLabelValues("initiated").Inc()
	logging.L(ctx).Info("payout initiated",
		"payout_id", p.ID, "user_id", userID, "amount", amount, "fee", fee, "transfer_ref", ref.ID)
	return s.store.Get(ctx, p.ID)
}

// Confirm settles a payout after the provider reports the transfer paid.
// Replays are no-ops.
func (s *Service) Confirm(ctx context.Context, transferRef string) (*Payout, error) {
	p, err := s.store.GetByTransferRef(ctx, transferRef)
	if err != nil {
		return nil, err
	}
	if p.Status == StatusPaid {
		return p, nil
	}
	if p.Status != StatusProcessing {
		return nil, ErrNotSettleable
	}

	if _, err := s.wallets.ConfirmHold(ctx, p.UserID, p.Amount, "payout_confirm", p.ID, "payout paid"); err != nil {
		return nil, err
	}
	if txn, err := s.ledger.GetByProviderRef(ctx, transferRef); err == nil {
		if err := s.ledger.Complete(ctx, txn.ID); err != nil {
			return nil, err
		}
	}
	if err := s.store.UpdateStatus(ctx, p.ID, []Status{StatusProcessing}, StatusPaid, transferRef, ""); err != nil {
		return nil, err
	}

	metrics.PayoutsTotal.WithLabelValues("paid").Inc()
	logging.L(ctx).Info("payout paid", "payout_id", p.ID, "user_id", p.UserID, "amount", p.Amount)
	return s.store.Get(ctx, p.ID)
}

// Fail settles a payout after the provider reports the transfer failed.
// The held amount returns to the user's available balance.
func (s *Service) Fail(ctx context.Context, transferRef, reason string) (*Payout, error) {
	p, err := s.store.GetByTransferRef(ctx, transferRef)
	if err != nil {
		return nil, err
	}
	if p.Status == StatusFailed {
		return p, nil
	}
	if p.Status != StatusProcessing {
		return nil, ErrNotSettleable
	}

	if _, err := s.wallets.ReleaseHold(ctx, p.UserID, p.Amount, "payout_release", p.ID, "payout transfer failed"); err != nil {
		return nil, err
	}
	if txn, err := s.ledger.GetByProviderRef(ctx, transferRef); err == nil {
		if err := s.ledger.Fail(ctx, txn.ID); err != nil {
			return nil, err
		}
	}
	if err := s.store.UpdateStatus(ctx, p.ID, []Status{StatusProcessing}, StatusFailed, transferRef, reason); err != nil {
		return nil, err
	}

	metrics.PayoutsTotal.WithLabelValues("failed").Inc()
	logging.L(ctx).Warn("payout failed",
		"payout_id", p.ID, "user_id", p.UserID, "amount", p.Amount, "reason", reason)
	return s.store.Get(ctx, p.ID)
}

// Get returns one payout.
func (s *Service) Get(ctx context.Context, id string) (*Payout, error) {
	return s.store.Get(ctx, id)
}

// History lists a user's payouts, newest first.
func (s *Service) History(ctx context.Context, userID string, limit int) ([]*Payout, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.store.ListByUser(ctx, userID, limit)
}
