// Package ledger records every money movement on the platform.
//
// Transactions are append-only. A COMPLETED transaction is never mutated;
// undoing one means writing a new compensating transaction and flipping
// the original's status to REVERSED.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/dkims/askpay/internal/idgen"
	"github.com/dkims/askpay/internal/metrics"
)

var (
	ErrNotFound        = errors.New("transaction not found")
	ErrInvalidAmount   = errors.New("invalid amount")
	ErrAlreadyReversed = errors.New("transaction already reversed")
	ErrNotReversible   = errors.New("only completed transactions can be reversed")
)

// Type classifies a transaction.
type Type string

const (
	TypeEscrow   Type = "ESCROW"
	TypePPV      Type = "PPV"
	TypeTransfer Type = "TRANSFER"
	TypeRefund   Type = "REFUND"
	TypePayout   Type = "PAYOUT"
)

// Status is a transaction lifecycle state.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
	StatusReversed   Status = "REVERSED"
)

// Transaction is one recorded money movement.
type Transaction struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId,omitempty"` // paying user; empty for platform-level records
	QuestionID  string    `json:"questionId,omitempty"`
	Type        Type      `json:"type"`
	Status      Status    `json:"status"`
	Amount      int64     `json:"amount"` // gross, smallest currency unit
	PlatformFee int64     `json:"platformFee"`
	AskerShare  int64     `json:"askerShare"`
	BestShare   int64     `json:"bestShare"`
	OthersShare int64     `json:"othersShare"`
	ProviderRef string    `json:"providerRef,omitempty"` // payment intent / charge / transfer id
	ReversalOf  string    `json:"reversalOf,omitempty"`  // id of the transaction this compensates
	ReversedBy  string    `json:"reversedBy,omitempty"`  // id of the compensating transaction
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Store persists transactions.
type Store interface {
	// Create inserts a transaction. If a transaction with the same
	// provider reference already exists, the existing record is returned
	// and no new row is written.
	Create(ctx context.Context, txn *Transaction) (*Transaction, error)
	Get(ctx context.Context, id string) (*Transaction, error)
	GetByProviderRef(ctx context.Context, ref string) (*Transaction, error)
	UpdateStatus(ctx context.Context, id string, status Status) error
	ListByQuestion(ctx context.Context, questionID string) ([]*Transaction, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]*Transaction, error)
	// MarkReversed flips a COMPLETED transaction to REVERSED, recording
	// the compensating transaction id. Fails if the transaction is not
	// COMPLETED.
	MarkReversed(ctx context.Context, id, reversalID string) error
}

// Ledger records platform transactions.
type Ledger struct {
	store Store
}

// New creates a new ledger.
func New(store Store) *Ledger {
	return &Ledger{store: store}
}

// Record writes a new transaction. Idempotent on the provider reference.
func (l *Ledger) Record(ctx context.Context, txn *Transaction) (*Transaction, error) {
	if txn.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if txn.ID == "" {
		txn.ID = idgen.WithPrefix("txn_")
	}
	now := time.Now().UTC()
	if txn.CreatedAt.IsZero() {
		txn.CreatedAt = now
	}
	txn.UpdatedAt = now

	out, err := l.store.Create(ctx, txn)
	if err != nil {
		return nil, err
	}
	metrics.LedgerTransactionsTotal.WithLabelValues(string(out.Type), string(out.Status)).Inc()
	return out, nil
}

// Get returns a transaction by id.
func (l *Ledger) Get(ctx context.Context, id string) (*Transaction, error) {
	return l.store.Get(ctx, id)
}

// GetByProviderRef returns the transaction recorded for a provider reference.
func (l *Ledger) GetByProviderRef(ctx context.Context, ref string) (*Transaction, error) {
	return l.store.GetByProviderRef(ctx, ref)
}

// Complete marks a transaction COMPLETED.
func (l *Ledger) Complete(ctx context.Context, id string) error {
	return l.store.UpdateStatus(ctx, id, StatusCompleted)
}

// Fail marks a transaction FAILED.
func (l *Ledger) Fail(ctx context.Context, id string) error {
	return l.store.UpdateStatus(ctx, id, StatusFailed)
}

// Reverse writes a compensating transaction for a COMPLETED transaction
// and flips the original to REVERSED. Returns the compensating record.
func (l *Ledger) Reverse(ctx context.Context, id, description string) (*Transaction, error) {
	orig, err := l.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if orig.Status == StatusReversed {
		return nil, ErrAlreadyReversed
	}
	if orig.Status != StatusCompleted {
		return nil, ErrNotReversible
	}

	comp := &Transaction{
		ID:          idgen.WithPrefix("txn_"),
		UserID:      orig.UserID,
		QuestionID:  orig.QuestionID,
		Type:        TypeRefund,
		Status:      StatusCompleted,
		Amount:      orig.Amount,
		ReversalOf:  orig.ID,
		Description: description,
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}
	comp, err = l.store.Create(ctx, comp)
	if err != nil {
		return nil, err
	}
	if err := l.store.MarkReversed(ctx, orig.ID, comp.ID); err != nil {
		return nil, err
	}
	metrics.LedgerTransactionsTotal.WithLabelValues(string(TypeRefund), string(StatusCompleted)).Inc()
	return comp, nil
}

// ListByQuestion returns all transactions touching a question.
func (l *Ledger) ListByQuestion(ctx context.Context, questionID string) ([]*Transaction, error) {
	return l.store.ListByQuestion(ctx, questionID)
}

// ListByUser returns a user's transactions, newest first.
func (l *Ledger) ListByUser(ctx context.Context, userID string, limit int) ([]*Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	return l.store.ListByUser(ctx, userID, limit)
}
