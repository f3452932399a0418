// Package idempotency implements the processed-event ledger that makes
// consumers idempotent. The mark must run in the same transaction as the
// business effect it guards, so both methods take the caller's querier.
package idempotency

import (
	"context"
	"fmt"
	"time"

	"food_order/infrastructure/postgres"
)

// Ledger reads and writes processed_events rows.
type Ledger struct{}

// NewLedger creates a ledger.
func NewLedger() *Ledger {
	return &Ledger{}
}

// IsProcessed reports whether eventID was already applied.
func (l *Ledger) IsProcessed(ctx context.Context, q postgres.Querier, eventID string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)`

	var exists bool
	if err := q.QueryRowContext(ctx, query, eventID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check processed event: %w", err)
	}
	return exists, nil
}

// MarkProcessed records eventID inside the caller's transaction. Exactly
// one row ever exists per applied event; the row is never mutated.
func (l *Ledger) MarkProcessed(ctx context.Context, q postgres.Querier, eventID string) error {
	query := `
		INSERT INTO processed_events (event_id, processed_at)
		VALUES ($1, NOW())
		ON CONFLICT (event_id) DO NOTHING
	`
	if _, err := q.ExecContext(ctx, query, eventID); err != nil {
		return fmt.Errorf("mark event %s processed: %w", eventID, err)
	}
	return nil
}

// DeleteProcessedBefore removes ledger rows older than cutoff. The
// retention window must exceed the broker's maximum redelivery window.
func (l *Ledger) DeleteProcessedBefore(ctx context.Context, q postgres.Querier, cutoff time.Time) (int64, error) {
	res, err := q.ExecContext(ctx, `DELETE FROM processed_events WHERE processed_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete processed events: %w", err)
	}
	return res.RowsAffected()
}
