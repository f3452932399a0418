// Package repository holds the per-domain row repositories. Each service
// owns its schema; methods take a postgres.Querier so callers can compose
// them into one transaction with the outbox and the ledger.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"food_order/domain/order"
	"food_order/infrastructure/postgres"
	"food_order/pkg/apperr"
)

// OrderRepository persists orders. Line items are stored as a JSON
// document on the row; they are owned by the order and never queried
// independently.
type OrderRepository struct{}

// NewOrderRepository creates an order repository.
func NewOrderRepository() *OrderRepository {
	return &OrderRepository{}
}

// Create inserts a new order row.
func (r *OrderRepository) Create(ctx context.Context, q postgres.Querier, o *order.Order) error {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("marshal order items: %w", err)
	}

	query := `
		INSERT INTO orders (id, user_id, store_id, items, total_amount, status, address, payment_method, created_at, updated_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err = q.ExecContext(ctx, query,
		o.ID, o.UserID, o.StoreID, items, o.TotalAmount, o.Status,
		o.Address, o.PaymentMethod, o.CreatedAt, o.UpdatedAt, o.Version)
	if err != nil {
		return fmt.Errorf("insert order %s: %w", o.ID, err)
	}
	return nil
}

// Get loads one order.
func (r *OrderRepository) Get(ctx context.Context, q postgres.Querier, orderID string) (*order.Order, error) {
	query := `
		SELECT id, user_id, store_id, items, total_amount, status, address, payment_method, created_at, updated_at, version
		FROM orders
		WHERE id = $1
	`
	var o order.Order
	var items []byte
	err := q.QueryRowContext(ctx, query, orderID).Scan(
		&o.ID, &o.UserID, &o.StoreID, &items, &o.TotalAmount, &o.Status,
		&o.Address, &o.PaymentMethod, &o.CreatedAt, &o.UpdatedAt, &o.Version)
	if err == sql.ErrNoRows {
		return nil, apperr.Newf(apperr.EntityNotFound, "order %s not found", orderID)
	}
	if err != nil {
		return nil, fmt.Errorf("query order %s: %w", orderID, err)
	}
	if err := json.Unmarshal(items, &o.Items); err != nil {
		return nil, fmt.Errorf("unmarshal order items: %w", err)
	}
	return &o, nil
}

// UpdateStatus moves the order to status under the optimistic version
// check. Zero rows affected means a concurrent handler won; the caller's
// redelivery path retries against fresh state.
func (r *OrderRepository) UpdateStatus(ctx context.Context, q postgres.Querier, o *order.Order, status order.Status) error {
	query := `
		UPDATE orders
		SET status = $1, updated_at = NOW(), version = version + 1
		WHERE id = $2 AND version = $3
	`
	res, err := q.ExecContext(ctx, query, status, o.ID, o.Version)
	if err != nil {
		return fmt.Errorf("update order %s status: %w", o.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.Newf(apperr.Internal, "order %s: lost update detected (version %d)", o.ID, o.Version)
	}
	o.Status = status
	o.Version++
	return nil
}
