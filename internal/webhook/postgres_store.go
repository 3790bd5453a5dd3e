package webhook

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PostgresProcessedStore is a PostgreSQL-backed ProcessedStore.
type PostgresProcessedStore struct {
	db *sql.DB
}

// NewPostgresProcessedStore creates a store backed by db.
func NewPostgresProcessedStore(db *sql.DB) *PostgresProcessedStore {
	return &PostgresProcessedStore{db: db}
}

func (p *PostgresProcessedStore) MarkProcessed(ctx context.Context, eventID, eventType string) error {
	res, err := p.db.ExecContext(ctx, `
		INSERT INTO processed_events (event_id, event_type, processed_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (event_id) DO NOTHING`,
		eventID, eventType, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("mark event processed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrAlreadyProcessed
	}
	return nil
}

func (p *PostgresProcessedStore) Forget(ctx context.Context, eventID string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM processed_events WHERE event_id = $1`, eventID)
	if err != nil {
		return fmt.Errorf("forget event: %w", err)
	}
	return nil
}
