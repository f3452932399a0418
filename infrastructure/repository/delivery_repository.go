package repository

import (
	"context"
	"database/sql"
	"fmt"

	"food_order/domain/delivery"
	"food_order/infrastructure/postgres"
	"food_order/pkg/apperr"
)

// DeliveryRepository persists deliveries in the delivery service's schema.
// Status writes that ran under the advisory lock go through
// UpdateStatusFenced, which is the authoritative stale-writer check.
type DeliveryRepository struct{}

// NewDeliveryRepository creates a delivery repository.
func NewDeliveryRepository() *DeliveryRepository {
	return &DeliveryRepository{}
}

// Create inserts a delivery. order_id is unique.
func (r *DeliveryRepository) Create(ctx context.Context, q postgres.Querier, d *delivery.Delivery) error {
	query := `
		INSERT INTO deliveries (id, order_id, status, rider_id, estimated_at, last_fencing_token, created_at, updated_at, version)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8, $9)
	`
	_, err := q.ExecContext(ctx, query,
		d.ID, d.OrderID, d.Status, d.RiderID, d.EstimatedAt, d.LastFencingToken,
		d.CreatedAt, d.UpdatedAt, d.Version)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return apperr.Wrap(apperr.DuplicateRequest,
				fmt.Sprintf("delivery for order %s already exists", d.OrderID), err)
		}
		return fmt.Errorf("insert delivery %s: %w", d.ID, err)
	}
	return nil
}

// GetByOrderID loads the delivery of an order.
func (r *DeliveryRepository) GetByOrderID(ctx context.Context, q postgres.Querier, orderID string) (*delivery.Delivery, error) {
	query := `
		SELECT id, order_id, status, COALESCE(rider_id, ''), estimated_at, last_fencing_token, created_at, updated_at, version
		FROM deliveries
		WHERE order_id = $1
	`
	var d delivery.Delivery
	err := q.QueryRowContext(ctx, query, orderID).Scan(
		&d.ID, &d.OrderID, &d.Status, &d.RiderID, &d.EstimatedAt, &d.LastFencingToken,
		&d.CreatedAt, &d.UpdatedAt, &d.Version)
	if err == sql.ErrNoRows {
		return nil, apperr.Newf(apperr.EntityNotFound, "delivery for order %s not found", orderID)
	}
	if err != nil {
		return nil, fmt.Errorf("query delivery for order %s: %w", orderID, err)
	}
	return &d, nil
}

// UpdateStatusFenced applies a guarded status write. The row accepts the
// write only when the carried fencing token is newer than the last applied
// one, which keeps guarded updates linearizable even if the advisory lease
// is held by two writers at once. Zero rows affected means a newer writer
// already committed: the caller fails with StaleLock.
func (r *DeliveryRepository) UpdateStatusFenced(ctx context.Context, q postgres.Querier, d *delivery.Delivery, status delivery.Status, riderID string, token int64) error {
	query := `
		UPDATE deliveries
		SET status = $1, rider_id = NULLIF($2, ''), last_fencing_token = $3, updated_at = NOW(), version = version + 1
		WHERE id = $4 AND (last_fencing_token IS NULL OR last_fencing_token < $3)
	`
	res, err := q.ExecContext(ctx, query, status, riderID, token, d.ID)
	if err != nil {
		return fmt.Errorf("fenced update of delivery %s: %w", d.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.Newf(apperr.StaleLock,
			"delivery %s: fencing token %d is stale", d.ID, token)
	}
	d.Status = status
	d.RiderID = riderID
	d.LastFencingToken = &token
	d.Version++
	return nil
}
