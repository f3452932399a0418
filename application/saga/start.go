package saga

import (
	"context"
	"database/sql"

	"food_order/domain/order"
	sagadom "food_order/domain/saga"
	"food_order/pkg/metrics"
	"food_order/pkg/uuid"
)

// aggregate type tags on outbox records
const (
	aggregateOrder = "ORDER"
	aggregateSaga  = "SAGA"
)

// Begin creates the saga row inside the caller's order-creation
// transaction. The saga starts in STARTED / PAYMENT_PENDING; whether the
// payment command is emitted now or after admission is the caller's call.
func (o *Orchestrator) Begin(ctx context.Context, tx *sql.Tx, sagaID string, ord *order.Order) (*sagadom.State, error) {
	s := sagadom.NewState(sagaID, ord.ID, o.now())
	if err := o.sagas.Create(ctx, tx, s); err != nil {
		return nil, err
	}
	metrics.SagaTransitions.WithLabelValues(string(sagadom.StepPaymentPending)).Inc()
	return s, nil
}

// EmitPaymentCommand appends the ProcessPayment command to the outbox
// inside the caller's transaction.
func (o *Orchestrator) EmitPaymentCommand(ctx context.Context, tx *sql.Tx, sagaID string, ord *order.Order) error {
	cmd := sagadom.PaymentCommand{
		EventID:        uuid.New(),
		SagaID:         sagaID,
		OrderID:        ord.ID,
		Action:         sagadom.ActionProcess,
		Amount:         ord.TotalAmount,
		Method:         ord.PaymentMethod,
		IdempotencyKey: "payment-" + ord.ID,
		IssuedAt:       o.now(),
	}
	return o.outbox.SaveEvent(ctx, tx, aggregateSaga, ord.ID, sagadom.EventTypeProcessPayment, cmd)
}

// ReleaseQueuedOrder is the admission dequeuer's "proceed" barrier: it
// emits the payment command for an order whose saga was begun while the
// queue was active. Safe to call more than once; a saga past
// PAYMENT_PENDING is left alone.
func (o *Orchestrator) ReleaseQueuedOrder(ctx context.Context, orderID string) error {
	return o.runner.InTx(ctx, func(tx *sql.Tx) error {
		s, err := o.sagas.GetByOrderIDForUpdate(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if s.Step != sagadom.StepPaymentPending || s.Status != sagadom.StatusStarted {
			return nil
		}
		ord, err := o.orders.Get(ctx, tx, orderID)
		if err != nil {
			return err
		}
		return o.EmitPaymentCommand(ctx, tx, s.ID, ord)
	})
}
