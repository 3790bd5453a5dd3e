package payout

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

const selectColumns = `id, user_id, amount, fee, net, status, COALESCE(idempotency_key, ''),
	COALESCE(transfer_ref, ''), COALESCE(failure_reason, ''), created_at, updated_at`

// PostgresStore is a PostgreSQL-backed Store. The unique index on
// idempotency_key enforces one payout per client key.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a store backed by db.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPayout(row scanner) (*Payout, error) {
	p := &Payout{}
	err := row.Scan(&p.ID, &p.UserID, &p.Amount, &p.Fee, &p.Net, &p.Status,
		&p.IdempotencyKey, &p.TransferRef, &p.FailureReason, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan payout: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) Create(ctx context.Context, p *Payout) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO payouts (id, user_id, amount, fee, net, status, idempotency_key, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, $9)`,
		p.ID, p.UserID, p.Amount, p.Fee, p.Net, p.Status, p.IdempotencyKey, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create payout: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Payout, error) {
	return scanPayout(s.db.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM payouts WHERE id = $1`, id))
}

func (s *PostgresStore) GetByIdempotencyKey(ctx context.Context, key string) (*Payout, error) {
	return scanPayout(s.db.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM payouts WHERE idempotency_key = $1`, key))
}

func (s *PostgresStore) GetByTransferRef(ctx context.Context, ref string) (*Payout, error) {
	return scanPayout(s.db.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM payouts WHERE transfer_ref = $1`, ref))
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, id string, from []Status, to Status, transferRef, reason string) error {
	states := make([]string, len(from))
	for i, f := range from {
		states[i] = string(f)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE payouts
		SET status = $2,
		    transfer_ref = COALESCE(NULLIF($3, ''), transfer_ref),
		    failure_reason = COALESCE(NULLIF($4, ''), failure_reason),
		    updated_at = $5
		WHERE id = $1 AND status = ANY($6)`,
		id, to, transferRef, reason, time.Now().UTC(), pq.Array(states))
	if err != nil {
		return fmt.Errorf("update payout status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update payout status: %w", err)
	}
	if n == 0 {
		if _, err := s.Get(ctx, id); errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return ErrNotSettleable
	}
	return nil
}

func (s *PostgresStore) ListByUser(ctx context.Context, userID string, limit int) ([]*Payout, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+selectColumns+` FROM payouts
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list payouts: %w", err)
	}
	defer rows.Close()

	var out []*Payout
	for rows.Next() {
		p, err := scanPayout(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
