package ppv

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// PostgresGrantStore is a PostgreSQL-backed GrantStore. The unique index
// on (question_id, user_id) enforces one grant per buyer.
type PostgresGrantStore struct {
	db *sql.DB
}

// NewPostgresGrantStore creates a store backed by db.
func NewPostgresGrantStore(db *sql.DB) *PostgresGrantStore {
	return &PostgresGrantStore{db: db}
}

func (p *PostgresGrantStore) Create(ctx context.Context, grant *AccessGrant) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO access_grants (id, question_id, user_id, transaction_id, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		grant.ID, grant.QuestionID, grant.UserID, grant.TransactionID, grant.CreatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return ErrAlreadyPurchased
		}
		return fmt.Errorf("create access grant: %w", err)
	}
	return nil
}

func (p *PostgresGrantStore) Get(ctx context.Context, questionID, userID string) (*AccessGrant, error) {
	grant := &AccessGrant{}
	err := p.db.QueryRowContext(ctx, `
		SELECT id, question_id, user_id, transaction_id, created_at
		FROM access_grants WHERE question_id = $1 AND user_id = $2`,
		questionID, userID).
		Scan(&grant.ID, &grant.QuestionID, &grant.UserID, &grant.TransactionID, &grant.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrGrantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get access grant: %w", err)
	}
	return grant, nil
}

func (p *PostgresGrantStore) ListByQuestion(ctx context.Context, questionID string) ([]*AccessGrant, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, question_id, user_id, transaction_id, created_at
		FROM access_grants WHERE question_id = $1
		ORDER BY created_at`, questionID)
	if err != nil {
		return nil, fmt.Errorf("list access grants: %w", err)
	}
	defer rows.Close()

	var out []*AccessGrant
	for rows.Next() {
		grant := &AccessGrant{}
		if err := rows.Scan(&grant.ID, &grant.QuestionID, &grant.UserID, &grant.TransactionID, &grant.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan access grant: %w", err)
		}
		out = append(out, grant)
	}
	return out, rows.Err()
}
