package usecases

import (
	"context"
	"database/sql"
	"time"

	"food_order/domain/order"
	"food_order/pkg/logging"
	"food_order/pkg/metrics"
	"food_order/pkg/uuid"
)

// EventTypeOrderCancelled is emitted when a user cancels before payment.
const EventTypeOrderCancelled = "OrderCancelled"

// Cancelled is the outbox payload for a user-initiated cancel.
type Cancelled struct {
	EventID     string    `json:"event_id"`
	OrderID     string    `json:"order_id"`
	Reason      string    `json:"reason"`
	CancelledAt time.Time `json:"cancelled_at"`
}

// CancelOrder applies a user-initiated cancel. Only orders whose payment
// has not completed can be cancelled here; later stages go through saga
// compensation instead. The saga row is locked so a concurrently arriving
// payment reply and the cancel serialize on the same row.
func (s *OrderService) CancelOrder(ctx context.Context, orderID string) (*order.Order, error) {
	var ord *order.Order
	err := s.runner.InTx(ctx, func(tx *sql.Tx) error {
		sg, err := s.sagas.GetByOrderIDForUpdate(ctx, tx, orderID)
		if err != nil {
			return err
		}
		ord, err = s.orders.Get(ctx, tx, orderID)
		if err != nil {
			return err
		}
		now := s.now()
		if err := ord.Cancel(now); err != nil {
			return err
		}
		if err := s.orders.UpdateStatus(ctx, tx, ord, order.StatusCancelled); err != nil {
			return err
		}
		if err := sg.Fail("cancelled by user", now); err != nil {
			return err
		}
		if err := s.sagas.Update(ctx, tx, sg); err != nil {
			return err
		}
		cancelled := Cancelled{
			EventID:     uuid.New(),
			OrderID:     ord.ID,
			Reason:      "cancelled by user",
			CancelledAt: now,
		}
		return s.outbox.SaveEvent(ctx, tx, aggregateOrder, ord.ID, EventTypeOrderCancelled, cancelled)
	})
	if err != nil {
		return nil, err
	}

	s.notifier.Publish(ord.ID, string(order.StatusCancelled))
	metrics.SagaCompleted.WithLabelValues("cancelled").Inc()
	if n, err := s.inflight.DecrInflight(ctx); err != nil {
		lg1 := logging.WithOrderID(ord.ID)
		lg1.Warn().Err(err).Msg("decr inflight failed")
	} else {
		metrics.OrdersInflight.Set(float64(n))
	}
	lg2 := logging.WithOrderID(ord.ID)
	lg2.Info().Msg("order cancelled by user")
	return ord, nil
}
