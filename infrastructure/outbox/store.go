// Package outbox implements the transactional outbox: business code
// appends records inside its own transaction, and a leader-elected relay
// publishes them to the broker in creation order.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"food_order/infrastructure/postgres"
	"food_order/pkg/uuid"
)

// Record is one pending (or published) outbox row.
type Record struct {
	ID            int64
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	Published     bool
	CreatedAt     time.Time
	PublishedAt   *time.Time
}

// Store reads and writes outbox_events rows. Writes always go through a
// caller-owned transaction so the record co-commits with the business
// mutation it describes.
type Store struct{}

// NewStore creates an outbox store.
func NewStore() *Store {
	return &Store{}
}

// SaveEvent appends a record inside the caller's transaction. payload is
// serialized to JSON.
func (s *Store) SaveEvent(ctx context.Context, q postgres.Querier, aggregateType, aggregateID, eventType string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal outbox payload: %w", err)
	}

	query := `
		INSERT INTO outbox_events (event_id, aggregate_type, aggregate_id, event_type, payload, published, created_at)
		VALUES ($1, $2, $3, $4, $5, false, NOW())
	`
	if _, err := q.ExecContext(ctx, query, uuid.New(), aggregateType, aggregateID, eventType, data); err != nil {
		return fmt.Errorf("insert outbox event %s: %w", eventType, err)
	}
	return nil
}

// FetchUnpublished returns up to limit unpublished records, oldest first.
func (s *Store) FetchUnpublished(ctx context.Context, q postgres.Querier, limit int) ([]Record, error) {
	query := `
		SELECT id, aggregate_type, aggregate_id, event_type, payload, created_at
		FROM outbox_events
		WHERE published = false
		ORDER BY created_at ASC, id ASC
		LIMIT $1
	`
	rows, err := q.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query unpublished outbox events: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.AggregateType, &r.AggregateID, &r.EventType, &r.Payload, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan outbox event: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// MarkPublished flips the published flag of one record. A record is never
// re-published after this commits.
func (s *Store) MarkPublished(ctx context.Context, q postgres.Querier, id int64) error {
	query := `
		UPDATE outbox_events
		SET published = true, published_at = NOW()
		WHERE id = $1 AND published = false
	`
	if _, err := q.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("mark outbox event %d published: %w", id, err)
	}
	return nil
}

// DeletePublishedBefore removes published records older than cutoff and
// returns the number removed.
func (s *Store) DeletePublishedBefore(ctx context.Context, q postgres.Querier, cutoff time.Time) (int64, error) {
	query := `DELETE FROM outbox_events WHERE published = true AND published_at < $1`
	res, err := q.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete published outbox events: %w", err)
	}
	return res.RowsAffected()
}
