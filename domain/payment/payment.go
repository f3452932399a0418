package payment

import (
	"time"

	"github.com/shopspring/decimal"

	"food_order/pkg/apperr"
)

// Status represents the payment status
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusRefunded  Status = "REFUNDED"
)

// Payment is the payment row owned by the payment service. OrderID is
// unique: one payment per order. IdempotencyKey dedupes gateway charges.
type Payment struct {
	ID             string          `json:"id"`
	OrderID        string          `json:"order_id"`
	Amount         decimal.Decimal `json:"amount"`
	Method         string          `json:"method"`
	Status         Status          `json:"status"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	Version        int64           `json:"version"`
}

// New builds a PENDING payment.
func New(id, orderID string, amount decimal.Decimal, method, idempotencyKey string, now time.Time) *Payment {
	return &Payment{
		ID:             id,
		OrderID:        orderID,
		Amount:         amount,
		Method:         method,
		Status:         StatusPending,
		IdempotencyKey: idempotencyKey,
		CreatedAt:      now,
		UpdatedAt:      now,
		Version:        1,
	}
}

// Complete marks a pending charge as completed.
func (p *Payment) Complete(now time.Time) error {
	if p.Status != StatusPending {
		return apperr.Newf(apperr.InvalidStateTransition,
			"payment %s: cannot complete from %s", p.ID, p.Status)
	}
	p.Status = StatusCompleted
	p.UpdatedAt = now
	return nil
}

// MarkFailed marks a pending charge as failed.
func (p *Payment) MarkFailed(now time.Time) error {
	if p.Status != StatusPending {
		return apperr.Newf(apperr.InvalidStateTransition,
			"payment %s: cannot fail from %s", p.ID, p.Status)
	}
	p.Status = StatusFailed
	p.UpdatedAt = now
	return nil
}

// Refund reverses a completed charge during saga compensation.
func (p *Payment) Refund(now time.Time) error {
	if p.Status != StatusCompleted {
		return apperr.Newf(apperr.InvalidStateTransition,
			"payment %s: cannot refund from %s", p.ID, p.Status)
	}
	p.Status = StatusRefunded
	p.UpdatedAt = now
	return nil
}
