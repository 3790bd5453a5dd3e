package pool

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// PostgresStore is a PostgreSQL-backed Store.
//
// Accumulation idempotency rides on the pool_entries table: each applied
// ref is recorded in the same transaction as the balance change, so a
// replayed ref is a no-op. Round counters guard the settlement methods
// against double completion.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a store backed by db.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) GetPool(ctx context.Context, questionID string) (*DistributionPool, error) {
	pool := &DistributionPool{QuestionID: questionID}
	err := p.db.QueryRowContext(ctx, `
		SELECT held_for_best, total_amount, best_round, others_round, updated_at
		FROM pools WHERE question_id = $1`, questionID).
		Scan(&pool.HeldForBest, &pool.TotalAmount, &pool.BestRound, &pool.OthersRound, &pool.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return pool, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get pool: %w", err)
	}
	return pool, nil
}

func (p *PostgresStore) AddHeldForBest(ctx context.Context, questionID string, amount int64, ref string) error {
	return p.add(ctx, questionID, amount, ref, "held_for_best")
}

func (p *PostgresStore) AddTotal(ctx context.Context, questionID string, amount int64, ref string) error {
	return p.add(ctx, questionID, amount, ref, "total_amount")
}

func (p *PostgresStore) add(ctx context.Context, questionID string, amount int64, ref, column string) error {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO pool_entries (ref, question_id, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (ref) DO NOTHING`, ref, questionID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("record pool entry: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Already applied.
		return nil
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO pools (question_id, `+column+`, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (question_id) DO UPDATE
		SET `+column+` = pools.`+column+` + EXCLUDED.`+column+`, updated_at = EXCLUDED.updated_at`,
		questionID, amount, time.Now().UTC()); err != nil {
		return fmt.Errorf("accumulate pool: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// DeductHeldForBest subtracts rather than zeroes so an accumulation that
// commits between the caller's pool read and this write is preserved.
func (p *PostgresStore) DeductHeldForBest(ctx context.Context, questionID string, expectedRound, released int64) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE pools
		SET held_for_best = held_for_best - $3, best_round = best_round + 1, updated_at = $4
		WHERE question_id = $1 AND best_round = $2 AND held_for_best >= $3`,
		questionID, expectedRound, released, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("deduct best reserve: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return p.roundError(ctx, questionID)
	}
	return nil
}

func (p *PostgresStore) CompleteDistribution(ctx context.Context, questionID string, expectedRound, distributed int64) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE pools
		SET total_amount = total_amount - $3, others_round = others_round + 1, updated_at = $4
		WHERE question_id = $1 AND others_round = $2 AND total_amount >= $3`,
		questionID, expectedRound, distributed, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("complete distribution: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return p.roundError(ctx, questionID)
	}
	return nil
}

// roundError distinguishes a missing pool from a stale round counter.
func (p *PostgresStore) roundError(ctx context.Context, questionID string) error {
	var one int
	err := p.db.QueryRowContext(ctx,
		`SELECT 1 FROM pools WHERE question_id = $1`, questionID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrPoolNotFound
	}
	if err != nil {
		return fmt.Errorf("check pool: %w", err)
	}
	return ErrStaleRound
}

func (p *PostgresStore) UpsertMember(ctx context.Context, questionID, responderID string) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO pool_members (question_id, responder_id, is_excluded, joined_at)
		VALUES ($1, $2, FALSE, $3)
		ON CONFLICT (question_id, responder_id) DO NOTHING`,
		questionID, responderID, time.Now().UTC())
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok {
			return fmt.Errorf("upsert pool member: %s: %w", pqErr.Code, err)
		}
		return fmt.Errorf("upsert pool member: %w", err)
	}
	return nil
}

func (p *PostgresStore) SetExcluded(ctx context.Context, questionID, responderID string, excluded bool) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE pool_members SET is_excluded = $3
		WHERE question_id = $1 AND responder_id = $2`,
		questionID, responderID, excluded)
	if err != nil {
		return fmt.Errorf("set member exclusion: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrMemberNotFound
	}
	return nil
}

func (p *PostgresStore) ListMembers(ctx context.Context, questionID string) ([]*PoolMember, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT question_id, responder_id, is_excluded, joined_at
		FROM pool_members WHERE question_id = $1
		ORDER BY joined_at`, questionID)
	if err != nil {
		return nil, fmt.Errorf("list pool members: %w", err)
	}
	defer rows.Close()

	var out []*PoolMember
	for rows.Next() {
		m := &PoolMember{}
		if err := rows.Scan(&m.QuestionID, &m.ResponderID, &m.IsExcluded, &m.JoinedAt); err != nil {
			return nil, fmt.Errorf("scan pool member: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
