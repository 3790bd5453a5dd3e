package ledger

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresStore implements Store with PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed transaction store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Create inserts a transaction. The partial unique index on provider_ref
// makes inserts idempotent: a conflicting insert returns the existing row.
func (p *PostgresStore) Create(ctx context.Context, txn *Transaction) (*Transaction, error) {
	var ref sql.NullString
	if txn.ProviderRef != "" {
		ref = sql.NullString{String: txn.ProviderRef, Valid: true}
	}

	result, err := p.db.ExecContext(ctx, `
		INSERT INTO transactions (id, user_id, question_id, type, status, amount,
			platform_fee, asker_share, best_share, others_share,
			provider_ref, reversal_of, description, created_at, updated_at)
		VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), $4, $5, $6, $7, $8, $9, $10, $11, NULLIF($12, ''), $13, $14, $15)
		ON CONFLICT (provider_ref) WHERE provider_ref IS NOT NULL DO NOTHING
	`, txn.ID, txn.UserID, txn.QuestionID, string(txn.Type), string(txn.Status), txn.Amount,
		txn.PlatformFee, txn.AskerShare, txn.BestShare, txn.OthersShare,
		ref, txn.ReversalOf, txn.Description, txn.CreatedAt, txn.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert transaction: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 && txn.ProviderRef != "" {
		// Replay: return the existing record.
		return p.GetByProviderRef(ctx, txn.ProviderRef)
	}
	cp := *txn
	return &cp, nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Transaction, error) {
	return p.scanOne(p.db.QueryRowContext(ctx, selectColumns+` FROM transactions WHERE id = $1`, id))
}

func (p *PostgresStore) GetByProviderRef(ctx context.Context, ref string) (*Transaction, error) {
	return p.scanOne(p.db.QueryRowContext(ctx, selectColumns+` FROM transactions WHERE provider_ref = $1`, ref))
}

func (p *PostgresStore) UpdateStatus(ctx context.Context, id string, status Status) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE transactions SET status = $2, updated_at = NOW() WHERE id = $1
	`, id, string(status))
	if err != nil {
		return fmt.Errorf("failed to update transaction status: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) ListByQuestion(ctx context.Context, questionID string) ([]*Transaction, error) {
	rows, err := p.db.QueryContext(ctx, selectColumns+`
		FROM transactions WHERE question_id = $1 ORDER BY created_at ASC
	`, questionID)
	if err != nil {
		return nil, err
	}
	return p.scanAll(rows)
}

func (p *PostgresStore) ListByUser(ctx context.Context, userID string, limit int) ([]*Transaction, error) {
	rows, err := p.db.QueryContext(ctx, selectColumns+`
		FROM transactions WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	return p.scanAll(rows)
}

// MarkReversed flips a COMPLETED transaction to REVERSED in one atomic
// conditional update.
func (p *PostgresStore) MarkReversed(ctx context.Context, id, reversalID string) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE transactions SET status = 'REVERSED', reversed_by = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'COMPLETED'
	`, id, reversalID)
	if err != nil {
		return fmt.Errorf("failed to mark transaction reversed: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		txn, gerr := p.Get(ctx, id)
		if gerr != nil {
			return gerr
		}
		if txn.Status == StatusReversed {
			return ErrAlreadyReversed
		}
		return ErrNotReversible
	}
	return nil
}

const selectColumns = `
	SELECT id, COALESCE(user_id, ''), COALESCE(question_id, ''), type, status, amount,
	       platform_fee, asker_share, best_share, others_share,
	       COALESCE(provider_ref, ''), COALESCE(reversal_of, ''), COALESCE(reversed_by, ''),
	       description, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func (p *PostgresStore) scanTxn(row scanner) (*Transaction, error) {
	t := &Transaction{}
	var typ, status string
	err := row.Scan(&t.ID, &t.UserID, &t.QuestionID, &typ, &status, &t.Amount,
		&t.PlatformFee, &t.AskerShare, &t.BestShare, &t.OthersShare,
		&t.ProviderRef, &t.ReversalOf, &t.ReversedBy,
		&t.Description, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.Type = Type(typ)
	t.Status = Status(status)
	return t, nil
}

func (p *PostgresStore) scanOne(row *sql.Row) (*Transaction, error) {
	t, err := p.scanTxn(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (p *PostgresStore) scanAll(rows *sql.Rows) ([]*Transaction, error) {
	defer rows.Close()
	var out []*Transaction
	for rows.Next() {
		t, err := p.scanTxn(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
