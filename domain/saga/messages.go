package saga

import (
	"time"

	"github.com/shopspring/decimal"
)

// Command and reply event types as they appear on outbox records.
const (
	EventTypeProcessPayment    = "ProcessPayment"
	EventTypeCompensatePayment = "CompensatePayment"
	EventTypeCreateDelivery    = "CreateDelivery"
	EventTypeSagaReply         = "SagaReply"
)

// StepName routes a reply to the right orchestrator handler. One reply
// binding carries all three.
type StepName string

const (
	StepNamePayment           StepName = "PAYMENT"
	StepNameDelivery          StepName = "DELIVERY"
	StepNamePaymentCompensate StepName = "PAYMENT_COMPENSATE"
)

// PaymentAction distinguishes charge from refund on the payment command
// binding.
type PaymentAction string

const (
	ActionProcess    PaymentAction = "PROCESS"
	ActionCompensate PaymentAction = "COMPENSATE"
)

// PaymentCommand asks the payment service to charge or refund an order.
type PaymentCommand struct {
	EventID        string          `json:"event_id"`
	SagaID         string          `json:"saga_id"`
	OrderID        string          `json:"order_id"`
	Action         PaymentAction   `json:"action"`
	Amount         decimal.Decimal `json:"amount"`
	Method         string          `json:"method"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	IssuedAt       time.Time       `json:"issued_at"`
}

// DeliveryCommand asks the delivery service to create a delivery and
// assign a rider.
type DeliveryCommand struct {
	EventID  string    `json:"event_id"`
	SagaID   string    `json:"saga_id"`
	OrderID  string    `json:"order_id"`
	Address  string    `json:"address"`
	IssuedAt time.Time `json:"issued_at"`
}

// Reply is the uniform saga reply. Success=false carries a Reason.
type Reply struct {
	EventID   string    `json:"event_id"`
	SagaID    string    `json:"saga_id"`
	OrderID   string    `json:"order_id"`
	Step      StepName  `json:"step"`
	Success   bool      `json:"success"`
	Reason    string    `json:"reason,omitempty"`
	RepliedAt time.Time `json:"replied_at"`
}
