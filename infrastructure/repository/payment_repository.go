package repository

import (
	"context"
	"database/sql"
	"fmt"

	"food_order/domain/payment"
	"food_order/infrastructure/postgres"
	"food_order/pkg/apperr"
)

// PaymentRepository persists payments in the payment service's schema.
type PaymentRepository struct{}

// NewPaymentRepository creates a payment repository.
func NewPaymentRepository() *PaymentRepository {
	return &PaymentRepository{}
}

// Create inserts a payment. The unique order_id and idempotency_key
// constraints surface duplicates as DuplicateRequest.
func (r *PaymentRepository) Create(ctx context.Context, q postgres.Querier, p *payment.Payment) error {
	query := `
		INSERT INTO payments (id, order_id, amount, method, status, idempotency_key, created_at, updated_at, version)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8, $9)
	`
	_, err := q.ExecContext(ctx, query,
		p.ID, p.OrderID, p.Amount, p.Method, p.Status, p.IdempotencyKey,
		p.CreatedAt, p.UpdatedAt, p.Version)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return apperr.Wrap(apperr.DuplicateRequest,
				fmt.Sprintf("payment for order %s already exists", p.OrderID), err)
		}
		return fmt.Errorf("insert payment %s: %w", p.ID, err)
	}
	return nil
}

// GetByOrderID loads the payment of an order.
func (r *PaymentRepository) GetByOrderID(ctx context.Context, q postgres.Querier, orderID string) (*payment.Payment, error) {
	query := `
		SELECT id, order_id, amount, method, status, COALESCE(idempotency_key, ''), created_at, updated_at, version
		FROM payments
		WHERE order_id = $1
	`
	var p payment.Payment
	err := q.QueryRowContext(ctx, query, orderID).Scan(
		&p.ID, &p.OrderID, &p.Amount, &p.Method, &p.Status, &p.IdempotencyKey,
		&p.CreatedAt, &p.UpdatedAt, &p.Version)
	if err == sql.ErrNoRows {
		return nil, apperr.Newf(apperr.EntityNotFound, "payment for order %s not found", orderID)
	}
	if err != nil {
		return nil, fmt.Errorf("query payment for order %s: %w", orderID, err)
	}
	return &p, nil
}

// UpdateStatus persists a status change under the optimistic version check.
func (r *PaymentRepository) UpdateStatus(ctx context.Context, q postgres.Querier, p *payment.Payment) error {
	query := `
		UPDATE payments
		SET status = $1, updated_at = $2, version = version + 1
		WHERE id = $3 AND version = $4
	`
	res, err := q.ExecContext(ctx, query, p.Status, p.UpdatedAt, p.ID, p.Version)
	if err != nil {
		return fmt.Errorf("update payment %s: %w", p.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.Newf(apperr.Internal, "payment %s: lost update detected (version %d)", p.ID, p.Version)
	}
	p.Version++
	return nil
}
