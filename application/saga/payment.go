package saga

import (
	"context"
	"database/sql"

	"food_order/domain/order"
	sagadom "food_order/domain/saga"
	"food_order/pkg/logging"
	"food_order/pkg/uuid"
)

// OnPaymentResult advances the saga on a payment reply.
//
// Success: PAYMENT_PENDING → PAYMENT_COMPLETED, order becomes PAID, then
// PAYMENT_COMPLETED → DELIVERY_PENDING with the delivery command emitted.
// Failure: terminal FAILED, order CANCELLED. There is nothing to
// compensate yet.
func (o *Orchestrator) OnPaymentResult(ctx context.Context, reply *sagadom.Reply) error {
	log := logging.WithSagaID(reply.SagaID)

	var notifyStatus order.Status
	var terminal bool

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

		if !reply.Success {
			if err := s.Fail(reply.Reason, o.now()); err != nil {
				return err
			}
			if err := o.sagas.Update(ctx, tx, s); err != nil {
				return err
			}
			if err := o.orders.UpdateStatus(ctx, tx, ord, order.StatusCancelled); err != nil {
				return err
			}
			notifyStatus = order.StatusCancelled
			terminal = true
			return nil
		}

		// A success reply against a saga already terminated by a cancel
		// fails this validation and dead-letters after the redelivery
		// budget; the captured charge is refunded from the dead-letter
		// queue by an operator.
		if err := transition(s, sagadom.StepPaymentCompleted, o.now()); err != nil {
			return err
		}
		if err := o.orders.UpdateStatus(ctx, tx, ord, order.StatusPaid); err != nil {
			return err
		}
		if err := transition(s, sagadom.StepDeliveryPending, o.now()); err != nil {
			return err
		}
		if err := o.sagas.Update(ctx, tx, s); err != nil {
			return err
		}

		cmd := sagadom.DeliveryCommand{
			EventID:  uuid.New(),
			SagaID:   s.ID,
			OrderID:  ord.ID,
			Address:  ord.Address,
			IssuedAt: o.now(),
		}
		if err := o.outbox.SaveEvent(ctx, tx, aggregateSaga, ord.ID, sagadom.EventTypeCreateDelivery, cmd); err != nil {
			return err
		}
		notifyStatus = order.StatusPaid
		return nil
	})
	if err != nil {
		return err
	}

	if notifyStatus != "" {
		o.notifier.Publish(reply.OrderID, string(notifyStatus))
	}
	if terminal {
		o.settle(ctx, "failed")
		log.Info().Str("reason", reply.Reason).Msg("saga failed at payment step")
	} else if notifyStatus != "" {
		log.Info().Msg("payment completed, delivery command emitted")
	}
	return nil
}
