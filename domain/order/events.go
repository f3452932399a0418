package order

import (
	"time"

	"github.com/shopspring/decimal"
)

// EventTypeOrderCreated is the choreography-compat event emitted when an
// order row is committed.
const EventTypeOrderCreated = "OrderCreated"

// Created is published to the orderEvents binding alongside order creation.
type Created struct {
	EventID     string          `json:"event_id"`
	OrderID     string          `json:"order_id"`
	UserID      int64           `json:"user_id"`
	StoreID     int64           `json:"store_id"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	CreatedAt   time.Time       `json:"created_at"`
}
