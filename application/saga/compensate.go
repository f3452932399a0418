package saga

import (
	"context"
	"database/sql"

	"food_order/domain/order"
	sagadom "food_order/domain/saga"
	"food_order/pkg/logging"
	"food_order/pkg/uuid"
)

// emitCompensateCommand appends the CompensatePayment command inside the
// caller's transaction.
func (o *Orchestrator) emitCompensateCommand(ctx context.Context, tx *sql.Tx, s *sagadom.State, ord *order.Order) error {
	cmd := sagadom.PaymentCommand{
		EventID:        uuid.New(),
		SagaID:         s.ID,
		OrderID:        ord.ID,
		Action:         sagadom.ActionCompensate,
		Amount:         ord.TotalAmount,
		Method:         ord.PaymentMethod,
		IdempotencyKey: "refund-" + ord.ID,
		IssuedAt:       o.now(),
	}
	return o.outbox.SaveEvent(ctx, tx, aggregateSaga, ord.ID, sagadom.EventTypeCompensatePayment, cmd)
}

// OnCompensationResult terminates the saga after the refund reply. The
// saga ends FAILED either way: a failed refund needs operator attention
// via the dead-letter path, but the order is cancelled regardless.
func (o *Orchestrator) OnCompensationResult(ctx context.Context, reply *sagadom.Reply) error {
	log := logging.WithSagaID(reply.SagaID)

	applied := false
	err := o.runner.InTx(ctx, func(tx *sql.Tx) error {
		dup, err := o.dedup(ctx, tx, reply.EventID)
		if err != nil || dup {
			return err
		}

		s, err := o.sagas.GetForUpdate(ctx, tx, reply.SagaID)
		if err != nil {
			return err
		}
		ord, err := o.orders.Get(ctx, tx, s.OrderID)
		if err != nil {
			return err
		}

		reason := s.FailureReason
		if reason == "" {
			reason = reply.Reason
		}
		if err := s.Fail(reason, o.now()); err != nil {
			return err
		}
		if err := o.sagas.Update(ctx, tx, s); err != nil {
			return err
		}
		if err := o.orders.UpdateStatus(ctx, tx, ord, order.StatusCancelled); err != nil {
			return err
		}
		applied = true
		return nil
	})
	if err != nil {
		return err
	}

	if applied {
		o.notifier.Publish(reply.OrderID, string(order.StatusCancelled))
		o.settle(ctx, "failed")
		log.Info().Bool("refund_ok", reply.Success).Msg("saga compensated and failed")
	}
	return nil
}
