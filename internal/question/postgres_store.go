package question

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
)

// PostgresStore implements Store with PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed question store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) CreateQuestion(ctx context.Context, q *Question) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO questions (id, asker_id, title, body, bounty_amount, currency, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, q.ID, q.AskerID, q.Title, q.Body, q.BountyAmount, q.Currency, string(q.Status), q.CreatedAt, q.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert question: %w", err)
	}
	return nil
}

func (p *PostgresStore) GetQuestion(ctx context.Context, id string) (*Question, error) {
	q := &Question{}
	var status string
	var best, escrowRef sql.NullString
	err := p.db.QueryRowContext(ctx, `
		SELECT id, asker_id, title, body, bounty_amount, currency, status,
		       best_answer_id, escrow_reference, ppv_purchase_count, total_ppv_revenue,
		       created_at, updated_at
		FROM questions WHERE id = $1
	`, id).Scan(&q.ID, &q.AskerID, &q.Title, &q.Body, &q.BountyAmount, &q.Currency, &status,
		&best, &escrowRef, &q.PPVPurchaseCount, &q.TotalPPVRevenue, &q.CreatedAt, &q.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	q.Status = Status(status)
	q.BestAnswerID = best.String
	q.EscrowReference = escrowRef.String
	return q, nil
}

func (p *PostgresStore) GetQuestionByEscrowRef(ctx context.Context, ref string) (*Question, error) {
	var id string
	err := p.db.QueryRowContext(ctx, `SELECT id FROM questions WHERE escrow_reference = $1`, ref).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return p.GetQuestion(ctx, id)
}

func (p *PostgresStore) UpdateStatus(ctx context.Context, id string, from []Status, to Status) error {
	fromStrs := make([]string, len(from))
	for i, f := range from {
		fromStrs[i] = string(f)
	}
	result, err := p.db.ExecContext(ctx, `
		UPDATE questions SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = ANY($3)
	`, id, string(to), pq.Array(fromStrs))
	if err != nil {
		return fmt.Errorf("failed to update question status: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		// Distinguish missing question from a stale status.
		var exists bool
		if err := p.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM questions WHERE id = $1)`, id).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}
		return ErrInvalidTransition
	}
	return nil
}

func (p *PostgresStore) SetEscrowReference(ctx context.Context, id, ref string) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE questions SET escrow_reference = $2, updated_at = NOW() WHERE id = $1
	`, id, ref)
	if err != nil {
		return fmt.Errorf("failed to set escrow reference: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// SetBestAnswer records the best answer at most once. The conditional
// UPDATE guarantees irrevocability even under concurrent selection.
func (p *PostgresStore) SetBestAnswer(ctx context.Context, questionID, answerID string) error {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE questions SET best_answer_id = $2, updated_at = NOW()
		WHERE id = $1 AND best_answer_id IS NULL
	`, questionID, answerID)
	if err != nil {
		return fmt.Errorf("failed to set best answer: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		var exists bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM questions WHERE id = $1)`, questionID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}
		return ErrBestAlreadySelected
	}

	result, err = tx.ExecContext(ctx, `
		UPDATE answers SET is_best = TRUE WHERE id = $1 AND question_id = $2
	`, answerID, questionID)
	if err != nil {
		return fmt.Errorf("failed to flag best answer: %w", err)
	}
	rows, _ = result.RowsAffected()
	if rows == 0 {
		return ErrAnswerNotFound
	}

	return tx.Commit()
}

func (p *PostgresStore) IncrementPPV(ctx context.Context, id string, revenue int64) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE questions SET
			ppv_purchase_count = ppv_purchase_count + 1,
			total_ppv_revenue  = total_ppv_revenue + $2,
			updated_at         = NOW()
		WHERE id = $1
	`, id, revenue)
	if err != nil {
		return fmt.Errorf("failed to increment ppv counters: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) CreateAnswer(ctx context.Context, a *Answer) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO answers (id, question_id, responder_id, body, is_best, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, a.ID, a.QuestionID, a.ResponderID, a.Body, a.IsBest, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert answer: %w", err)
	}
	return nil
}

func (p *PostgresStore) GetAnswer(ctx context.Context, id string) (*Answer, error) {
	a := &Answer{}
	err := p.db.QueryRowContext(ctx, `
		SELECT id, question_id, responder_id, body, is_best, created_at
		FROM answers WHERE id = $1
	`, id).Scan(&a.ID, &a.QuestionID, &a.ResponderID, &a.Body, &a.IsBest, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrAnswerNotFound
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (p *PostgresStore) ListAnswers(ctx context.Context, questionID string) ([]*Answer, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, question_id, responder_id, body, is_best, created_at
		FROM answers WHERE question_id = $1 ORDER BY created_at ASC
	`, questionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var answers []*Answer
	for rows.Next() {
		a := &Answer{}
		if err := rows.Scan(&a.ID, &a.QuestionID, &a.ResponderID, &a.Body, &a.IsBest, &a.CreatedAt); err != nil {
			return nil, err
		}
		answers = append(answers, a)
	}
	return answers, rows.Err()
}
