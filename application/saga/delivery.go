package saga

import (
	"context"
	"database/sql"

	"food_order/domain/order"
	sagadom "food_order/domain/saga"
	"food_order/pkg/logging"
)

// OnDeliveryResult advances the saga on a delivery reply.
//
// Success: DELIVERY_PENDING → COMPLETED, order becomes DELIVERING.
// Failure: compensation starts, DELIVERY_PENDING → COMPENSATING_PAYMENT
// with a CompensatePayment command emitted; the payment was already
// captured and must be refunded.
func (o *Orchestrator) OnDeliveryResult(ctx context.Context, reply *sagadom.Reply) error {
	log := logging.WithSagaID(reply.SagaID)

	var notifyStatus order.Status
	var completed, applied bool

	err := o.runner.InTx(ctx, func(tx *sql.Tx) error {
		dup, err := o.dedup(ctx, tx, reply.EventID)
		if err != nil || dup {
			return err
		}
		applied = true

		s, err := o.sagas.GetForUpdate(ctx, tx, reply.SagaID)
		if err != nil {
			return err
		}
		ord, err := o.orders.Get(ctx, tx, s.OrderID)
		if err != nil {
			return err
		}

		if reply.Success {
			if err := transition(s, sagadom.StepCompleted, o.now()); err != nil {
				return err
			}
			if err := o.sagas.Update(ctx, tx, s); err != nil {
				return err
			}
			if err := o.orders.UpdateStatus(ctx, tx, ord, order.StatusDelivering); err != nil {
				return err
			}
			notifyStatus = order.StatusDelivering
			completed = true
			return nil
		}

		return o.startCompensation(ctx, tx, s, ord, reply.Reason)
	})
	if err != nil {
		return err
	}

	if completed {
		o.notifier.Publish(reply.OrderID, string(notifyStatus))
		o.settle(ctx, "completed")
		log.Info().Msg("saga completed")
	} else if applied {
		log.Info().Str("reason", reply.Reason).Msg("delivery failed, compensating payment")
	}
	return nil
}

// startCompensation moves the saga into COMPENSATING and emits the refund
// command. Runs inside the caller's transaction.
func (o *Orchestrator) startCompensation(ctx context.Context, tx *sql.Tx, s *sagadom.State, ord *order.Order, reason string) error {
	if err := transition(s, sagadom.StepCompensatingPayment, o.now()); err != nil {
		return err
	}
	s.FailureReason = reason
	if err := o.sagas.Update(ctx, tx, s); err != nil {
		return err
	}
	return o.emitCompensateCommand(ctx, tx, s, ord)
}
