package repository

import (
	"context"
	"database/sql"
	"fmt"

	"food_order/domain/saga"
	"food_order/infrastructure/postgres"
	"food_order/pkg/apperr"
)

// SagaRepository persists saga state rows. Only the orchestrator writes
// them; GetForUpdate serializes concurrent reply handlers on the row lock.
type SagaRepository struct{}

// NewSagaRepository creates a saga repository.
func NewSagaRepository() *SagaRepository {
	return &SagaRepository{}
}

// Create inserts a new saga row.
func (r *SagaRepository) Create(ctx context.Context, q postgres.Querier, s *saga.State) error {
	query := `
		INSERT INTO saga_states (id, saga_type, order_id, status, step, failure_reason, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8)
	`
	_, err := q.ExecContext(ctx, query,
		s.ID, s.Type, s.OrderID, s.Status, s.Step, s.FailureReason, s.CreatedAt, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert saga %s: %w", s.ID, err)
	}
	return nil
}

// GetForUpdate loads one saga with FOR UPDATE so handlers of concurrent
// replies serialize on the row.
func (r *SagaRepository) GetForUpdate(ctx context.Context, q postgres.Querier, sagaID string) (*saga.State, error) {
	query := `
		SELECT id, saga_type, order_id, status, step, COALESCE(failure_reason, ''), created_at, updated_at
		FROM saga_states
		WHERE id = $1
		FOR UPDATE
	`
	var s saga.State
	err := q.QueryRowContext(ctx, query, sagaID).Scan(
		&s.ID, &s.Type, &s.OrderID, &s.Status, &s.Step, &s.FailureReason, &s.CreatedAt, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, apperr.Newf(apperr.EntityNotFound, "saga %s not found", sagaID)
	}
	if err != nil {
		return nil, fmt.Errorf("query saga %s: %w", sagaID, err)
	}
	return &s, nil
}

// GetByOrderIDForUpdate loads the saga owning an order, with FOR UPDATE.
func (r *SagaRepository) GetByOrderIDForUpdate(ctx context.Context, q postgres.Querier, orderID string) (*saga.State, error) {
	query := `
		SELECT id, saga_type, order_id, status, step, COALESCE(failure_reason, ''), created_at, updated_at
		FROM saga_states
		WHERE order_id = $1
		FOR UPDATE
	`
	var s saga.State
	err := q.QueryRowContext(ctx, query, orderID).Scan(
		&s.ID, &s.Type, &s.OrderID, &s.Status, &s.Step, &s.FailureReason, &s.CreatedAt, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, apperr.Newf(apperr.EntityNotFound, "saga for order %s not found", orderID)
	}
	if err != nil {
		return nil, fmt.Errorf("query saga for order %s: %w", orderID, err)
	}
	return &s, nil
}

// Update persists the saga's status, step and failure reason.
func (r *SagaRepository) Update(ctx context.Context, q postgres.Querier, s *saga.State) error {
	query := `
		UPDATE saga_states
		SET status = $1, step = $2, failure_reason = NULLIF($3, ''), updated_at = $4
		WHERE id = $5
	`
	res, err := q.ExecContext(ctx, query, s.Status, s.Step, s.FailureReason, s.UpdatedAt, s.ID)
	if err != nil {
		return fmt.Errorf("update saga %s: %w", s.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.Newf(apperr.EntityNotFound, "saga %s not found", s.ID)
	}
	return nil
}
