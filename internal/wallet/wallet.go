// Package wallet tracks per-user balances on the platform.
//
// Every balance change is a Transaction row carrying the balance before
// and after, keyed by a (reference_type, reference_id) pair. Replaying an
// operation with a reference that was already applied returns the prior
// entry and changes nothing; this is what makes purchase splits, pool
// distributions, and payouts safe to retry.
//
// Payouts use a two-phase hold: Hold moves funds from available to
// pending, then ConfirmHold finalizes the spend or ReleaseHold returns
// the funds after a provider failure.
package wallet

import (
	"context"
	"errors"
	"time"
)

var (
	ErrWalletNotFound    = errors.New("wallet not found")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInsufficientHold  = errors.New("insufficient held funds")
)

// Kind classifies a wallet transaction.
type Kind string

const (
	KindCredit      Kind = "CREDIT"
	KindDebit       Kind = "DEBIT"
	KindHold        Kind = "HOLD"         // available -> pending
	KindHoldConfirm Kind = "HOLD_CONFIRM" // pending -> spent
	KindHoldRelease Kind = "HOLD_RELEASE" // pending -> available
)

// Wallet is a user's balance snapshot.
type Wallet struct {
	UserID    string    `json:"userId"`
	Available int64     `json:"available"` // smallest currency unit, never negative
	Pending   int64     `json:"pending"`   // held for in-flight payouts
	UpdatedAt time.Time `json:"updatedAt"`
}

// Transaction is one append-only wallet ledger entry.
type Transaction struct {
	ID            string    `json:"id"`
	UserID        string    `json:"userId"`
	Kind          Kind      `json:"kind"`
	Amount        int64     `json:"amount"`
	BalanceBefore int64     `json:"balanceBefore"` // available balance
	BalanceAfter  int64     `json:"balanceAfter"`
	ReferenceType string    `json:"referenceType"`
	ReferenceID   string    `json:"referenceId"`
	Description   string    `json:"description,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

// refKey is the idempotency key for an entry.
func refKey(refType, refID string) string { return refType + ":" + refID }

// availableDelta is the entry's effect on the available balance.
func (t *Transaction) availableDelta() int64 {
	switch t.Kind {
	case KindCredit, KindHoldRelease:
		return t.Amount
	case KindDebit, KindHold:
		return -t.Amount
	default:
		return 0
	}
}

// pendingDelta is the entry's effect on the pending balance.
func (t *Transaction) pendingDelta() int64 {
	switch t.Kind {
	case KindHold:
		return t.Amount
	case KindHoldConfirm, KindHoldRelease:
		return -t.Amount
	default:
		return 0
	}
}

// Store persists wallets and their transaction log. All mutating methods
// are atomic and idempotent on (refType, refID): a replay returns the
// previously written entry unchanged.
type Store interface {
	GetWallet(ctx context.Context, userID string) (*Wallet, error)
	Credit(ctx context.Context, userID string, amount int64, refType, refID, description string) (*Transaction, error)
	Debit(ctx context.Context, userID string, amount int64, refType, refID, description string) (*Transaction, error)
	Hold(ctx context.Context, userID string, amount int64, refType, refID, description string) (*Transaction, error)
	ConfirmHold(ctx context.Context, userID string, amount int64, refType, refID, description string) (*Transaction, error)
	ReleaseHold(ctx context.Context, userID string, amount int64, refType, refID, description string) (*Transaction, error)
	FindByReference(ctx context.Context, refType, refID string) (*Transaction, error)
	History(ctx context.Context, userID string, limit int) ([]*Transaction, error)
	// Log returns the full entry log for a user, oldest first.
	Log(ctx context.Context, userID string) ([]*Transaction, error)
}

// Service manages wallet balances.
type Service struct {
	store Store
}

// New creates a wallet service.
func New(store Store) *Service {
	return &Service{store: store}
}

// Get returns a user's wallet. Users without activity get a zero wallet.
func (s *Service) Get(ctx context.Context, userID string) (*Wallet, error) {
	return s.store.GetWallet(ctx, userID)
}

// Credit adds funds to a user's available balance.
func (s *Service) Credit(ctx context.Context, userID string, amount int64, refType, refID, description string) (*Transaction, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	return s.store.Credit(ctx, userID, amount, refType, refID, description)
}

// Debit removes funds from a user's available balance. Fails with
// ErrInsufficientFunds rather than letting the balance go negative.
func (s *Service) Debit(ctx context.Context, userID string, amount int64, refType, refID, description string) (*Transaction, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	return s.store.Debit(ctx, userID, amount, refType, refID, description)
}

// Hold reserves funds for an in-flight payout (available -> pending).
func (s *Service) Hold(ctx context.Context, userID string, amount int64, refType, refID, description string) (*Transaction, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	return s.store.Hold(ctx, userID, amount, refType, refID, description)
}

// ConfirmHold finalizes a held amount after the provider transfer settles.
func (s *Service) ConfirmHold(ctx context.Context, userID string, amount int64, refType, refID, description string) (*Transaction, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	return s.store.ConfirmHold(ctx, userID, amount, refType, refID, description)
}

// ReleaseHold returns held funds to available (transfer failed).
func (s *Service) ReleaseHold(ctx context.Context, userID string, amount int64, refType, refID, description string) (*Transaction, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	return s.store.ReleaseHold(ctx, userID, amount, refType, refID, description)
}

// History returns a user's wallet entries, newest first.
func (s *Service) History(ctx context.Context, userID string, limit int) ([]*Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.History(ctx, userID, limit)
}

// Reconciliation is the result of replaying a wallet's entry log against
// its balance snapshot.
type Reconciliation struct {
	UserID            string `json:"userId"`
	Available         int64  `json:"available"`
	Pending           int64  `json:"pending"`
	ComputedAvailable int64  `json:"computedAvailable"`
	ComputedPending   int64  `json:"computedPending"`
	Entries           int    `json:"entries"`
	Consistent        bool   `json:"consistent"`
}

// RebuildBalance replays the full entry log and compares the result with
// the stored snapshot. The log is the source of truth; a mismatch means
// the snapshot is corrupt.
func (s *Service) RebuildBalance(ctx context.Context, userID string) (*Reconciliation, error) {
	w, err := s.store.GetWallet(ctx, userID)
	if err != nil {
		return nil, err
	}
	log, err := s.store.Log(ctx, userID)
	if err != nil {
		return nil, err
	}

	var available, pending int64
	for _, e := range log {
		available += e.availableDelta()
		pending += e.pendingDelta()
	}

	return &Reconciliation{
		UserID:            userID,
		Available:         w.Available,
		Pending:           w.Pending,
		ComputedAvailable: available,
		ComputedPending:   pending,
		Entries:           len(log),
		Consistent:        available == w.Available && pending == w.Pending,
	}, nil
}
