package messaging

// Logical binding names. The same core runs over RabbitMQ or Kafka; only
// these names appear outside this package.
const (
	BindingOrderEvents         = "orderEvents-out-0"
	BindingPaymentEvents       = "paymentEvents-out-0"
	BindingPaymentFailedEvents = "paymentFailedEvents-out-0"
	BindingDeliveryEvents      = "deliveryEvents-out-0"
	BindingPaymentCommands     = "paymentCommands-out-0"
	BindingDeliveryCommands    = "deliveryCommands-out-0"
	BindingSagaReplies         = "sagaReplies-out-0"

	// BindingUnknownEvents collects records whose event type has no
	// binding, for monitoring.
	BindingUnknownEvents = "unknownEvents"

	// BindingDeadLetter collects messages that exhausted their redelivery
	// budget.
	BindingDeadLetter = "deadLetter"
)

// bindingByEventType is the fixed eventType → binding table the outbox
// relay resolves against.
var bindingByEventType = map[string]string{
	"OrderCreated":      BindingOrderEvents,
	"OrderCancelled":    BindingOrderEvents,
	"PaymentCompleted":  BindingPaymentEvents,
	"PaymentFailed":     BindingPaymentFailedEvents,
	"DeliveryStatus":    BindingDeliveryEvents,
	"ProcessPayment":    BindingPaymentCommands,
	"CompensatePayment": BindingPaymentCommands,
	"CreateDelivery":    BindingDeliveryCommands,
	"SagaReply":         BindingSagaReplies,
}

// BindingFor resolves an event type to its binding. Unknown types route to
// unknownEvents.
func BindingFor(eventType string) string {
	if b, ok := bindingByEventType[eventType]; ok {
		return b
	}
	return BindingUnknownEvents
}
