package order

import (
	"time"

	"github.com/shopspring/decimal"

	"food_order/pkg/apperr"
)

// Status represents the order status
type Status string

const (
	StatusCreated        Status = "CREATED"
	StatusPaymentPending Status = "PAYMENT_PENDING"
	StatusPaid           Status = "PAID"
	StatusPreparing      Status = "PREPARING"
	StatusDelivering     Status = "DELIVERING"
	StatusDelivered      Status = "DELIVERED"
	StatusCancelled      Status = "CANCELLED"
)

// LineItem is one ordered menu entry. Price is the menu price captured at
// order time, so the order stays correct if the store later reprices.
type LineItem struct {
	MenuID   int64           `json:"menu_id"`
	Quantity int             `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
}

// Order is the order aggregate. StoreID and UserID are identifiers only;
// there are no cross-service foreign keys.
type Order struct {
	ID            string          `json:"id"`
	UserID        int64           `json:"user_id"`
	StoreID       int64           `json:"store_id"`
	Items         []LineItem      `json:"items"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	Status        Status          `json:"status"`
	Address       string          `json:"address"`
	PaymentMethod string          `json:"payment_method"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	Version       int64           `json:"version"`
}

// New builds an order in PAYMENT_PENDING with the total computed from the
// captured item prices.
func New(id string, userID, storeID int64, items []LineItem, method, address string, now time.Time) *Order {
	return &Order{
		ID:            id,
		UserID:        userID,
		StoreID:       storeID,
		Items:         items,
		TotalAmount:   Total(items),
		Status:        StatusPaymentPending,
		Address:       address,
		PaymentMethod: method,
		CreatedAt:     now,
		UpdatedAt:     now,
		Version:       1,
	}
}

// Total sums quantity × captured price over the line items.
func Total(items []LineItem) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.Price.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	return total
}

// CanCancel reports whether a user-initiated cancel is allowed. Once the
// payment completed the order can only be cancelled through saga
// compensation.
func (o *Order) CanCancel() bool {
	switch o.Status {
	case StatusCreated, StatusPaymentPending:
		return true
	}
	return false
}

// Cancel applies a user-initiated cancel.
func (o *Order) Cancel(now time.Time) error {
	if !o.CanCancel() {
		return apperr.Newf(apperr.InvalidStateTransition,
			"order %s in status %s cannot be cancelled", o.ID, o.Status)
	}
	o.Status = StatusCancelled
	o.UpdatedAt = now
	return nil
}
