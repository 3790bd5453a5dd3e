package wallet

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/dkims/askpay/internal/idgen"
)

// PostgresStore implements Store with PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed wallet store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) GetWallet(ctx context.Context, userID string) (*Wallet, error) {
	w := &Wallet{UserID: userID}
	err := p.db.QueryRowContext(ctx, `
		SELECT available, pending, updated_at FROM wallets WHERE user_id = $1
	`, userID).Scan(&w.Available, &w.Pending, &w.UpdatedAt)
	if err == sql.ErrNoRows {
		return &Wallet{UserID: userID}, nil
	}
	if err != nil {
		return nil, err
	}
	return w, nil
}

func (p *PostgresStore) Credit(ctx context.Context, userID string, amount int64, refType, refID, description string) (*Transaction, error) {
	return p.apply(ctx, userID, KindCredit, amount, refType, refID, description)
}

func (p *PostgresStore) Debit(ctx context.Context, userID string, amount int64, refType, refID, description string) (*Transaction, error) {
	return p.apply(ctx, userID, KindDebit, amount, refType, refID, description)
}

func (p *PostgresStore) Hold(ctx context.Context, userID string, amount int64, refType, refID, description string) (*Transaction, error) {
	return p.apply(ctx, userID, KindHold, amount, refType, refID, description)
}

func (p *PostgresStore) ConfirmHold(ctx context.Context, userID string, amount int64, refType, refID, description string) (*Transaction, error) {
	return p.apply(ctx, userID, KindHoldConfirm, amount, refType, refID, description)
}

func (p *PostgresStore) ReleaseHold(ctx context.Context, userID string, amount int64, refType, refID, description string) (*Transaction, error) {
	return p.apply(ctx, userID, KindHoldRelease, amount, refType, refID, description)
}

// apply performs one balance change and its ledger entry in a single
// serializable transaction. The wallet row is locked FOR UPDATE; the
// CHECK constraints on available/pending are the last line of defense
// against overdraft, and the UNIQUE (reference_type, reference_id)
// constraint is the backstop for concurrent replays.
func (p *PostgresStore) apply(ctx context.Context, userID string, kind Kind, amount int64, refType, refID, description string) (*Transaction, error) {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	// Replay check inside the transaction.
	if prior, err := p.findByRefTx(ctx, tx, refType, refID); err == nil {
		return prior, nil
	} else if !errors.Is(err, ErrWalletNotFound) {
		return nil, err
	}

	// Ensure the wallet row exists, then lock it.
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO wallets (user_id, available, pending, updated_at)
		VALUES ($1, 0, 0, NOW())
		ON CONFLICT (user_id) DO NOTHING
	`, userID); err != nil {
		return nil, fmt.Errorf("failed to ensure wallet: %w", err)
	}

	var available, pending int64
	if err := tx.QueryRowContext(ctx, `
		SELECT available, pending FROM wallets WHERE user_id = $1 FOR UPDATE
	`, userID).Scan(&available, &pending); err != nil {
		return nil, fmt.Errorf("failed to lock wallet: %w", err)
	}

	entry := &Transaction{
		ID:            idgen.WithPrefix("wtx_"),
		UserID:        userID,
		Kind:          kind,
		Amount:        amount,
		BalanceBefore: available,
		ReferenceType: refType,
		ReferenceID:   refID,
		Description:   description,
		CreatedAt:     time.Now().UTC(),
	}

	newAvailable := available + entry.availableDelta()
	newPending := pending + entry.pendingDelta()
	if newAvailable < 0 {
		return nil, ErrInsufficientFunds
	}
	if newPending < 0 {
		return nil, ErrInsufficientHold
	}
	entry.BalanceAfter = newAvailable

	if _, err := tx.ExecContext(ctx, `
		UPDATE wallets SET available = $2, pending = $3, updated_at = NOW()
		WHERE user_id = $1
	`, userID, newAvailable, newPending); err != nil {
		return nil, fmt.Errorf("failed to update wallet: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO wallet_transactions (id, user_id, kind, amount, balance_before, balance_after,
			reference_type, reference_id, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, entry.ID, userID, string(kind), amount, entry.BalanceBefore, entry.BalanceAfter,
		refType, refID, description, entry.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			// Lost a replay race; return the winner's entry.
			return p.FindByReference(ctx, refType, refID)
		}
		return nil, fmt.Errorf("failed to record wallet entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return entry, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func (p *PostgresStore) findByRefTx(ctx context.Context, tx *sql.Tx, refType, refID string) (*Transaction, error) {
	row := tx.QueryRowContext(ctx, selectEntry+` WHERE reference_type = $1 AND reference_id = $2`, refType, refID)
	return scanEntry(row)
}

func (p *PostgresStore) FindByReference(ctx context.Context, refType, refID string) (*Transaction, error) {
	row := p.db.QueryRowContext(ctx, selectEntry+` WHERE reference_type = $1 AND reference_id = $2`, refType, refID)
	return scanEntry(row)
}

func (p *PostgresStore) History(ctx context.Context, userID string, limit int) ([]*Transaction, error) {
	rows, err := p.db.QueryContext(ctx, selectEntry+`
		WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	return scanEntries(rows)
}

func (p *PostgresStore) Log(ctx context.Context, userID string) ([]*Transaction, error) {
	rows, err := p.db.QueryContext(ctx, selectEntry+`
		WHERE user_id = $1 ORDER BY created_at ASC, id ASC
	`, userID)
	if err != nil {
		return nil, err
	}
	return scanEntries(rows)
}

const selectEntry = `
	SELECT id, user_id, kind, amount, balance_before, balance_after,
	       reference_type, reference_id, COALESCE(description, ''), created_at
	FROM wallet_transactions`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOneEntry(row rowScanner) (*Transaction, error) {
	e := &Transaction{}
	var kind string
	err := row.Scan(&e.ID, &e.UserID, &kind, &e.Amount, &e.BalanceBefore, &e.BalanceAfter,
		&e.ReferenceType, &e.ReferenceID, &e.Description, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	e.Kind = Kind(kind)
	return e, nil
}

func scanEntry(row *sql.Row) (*Transaction, error) {
	e, err := scanOneEntry(row)
	if err == sql.ErrNoRows {
		return nil, ErrWalletNotFound
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

func scanEntries(rows *sql.Rows) ([]*Transaction, error) {
	defer rows.Close()
	var out []*Transaction
	for rows.Next() {
		e, err := scanOneEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
