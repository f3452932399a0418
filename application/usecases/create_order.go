package usecases

import (
	"context"
	"database/sql"
	"time"

	"food_order/domain/order"
	"food_order/pkg/apperr"
	"food_order/pkg/logging"
	"food_order/pkg/uuid"
)

const aggregateOrder = "ORDER"

// CreateOrderInput is the validated order-creation request.
type CreateOrderInput struct {
	UserID         int64             `json:"-" validate:"required,gt=0"`
	StoreID        int64             `json:"store_id" validate:"required,gt=0"`
	Items          []CreateOrderItem `json:"items" validate:"required,min=1,dive"`
	PaymentMethod  string            `json:"payment_method" validate:"required,oneof=CARD CASH POINTS"`
	Address        string            `json:"address" validate:"required"`
	IdempotencyKey string            `json:"-"`
}

// CreateOrderItem is one requested menu line.
type CreateOrderItem struct {
	MenuID   int64 `json:"menu_id" validate:"required,gt=0"`
	Quantity int   `json:"quantity" validate:"required,gt=0,lte=100"`
}

// CreateOrderResult carries the created order plus its admission outcome.
type CreateOrderResult struct {
	Order         *order.Order
	Queued        bool
	Position      int64
	QueueSize     int64
	EstimatedWait time.Duration
}

// CreateOrder accepts a new order. The order row, its saga and the
// OrderCreated event commit in one transaction; under admission control
// the payment command is withheld until the dequeuer releases the order.
func (s *OrderService) CreateOrder(ctx context.Context, in CreateOrderInput) (*CreateOrderResult, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, apperr.Wrap(apperr.InvalidInput, "invalid order request", err)
	}

	orderID := uuid.New()

	if in.IdempotencyKey != "" {
		reserved, err := s.keys.Reserve(ctx, in.IdempotencyKey, orderID)
		if err != nil {
			return nil, apperr.Wrap(apperr.ServiceUnavailable, "idempotency store unavailable", err)
		}
		if !reserved {
			return nil, apperr.Newf(apperr.DuplicateRequest,
				"request with idempotency key %q already accepted", in.IdempotencyKey)
		}
	}

	items, err := s.priceItems(ctx, in)
	if err != nil {
		s.releaseKey(ctx, in.IdempotencyKey)
		return nil, err
	}

	queued, err := s.admission.Active(ctx)
	if err != nil {
		s.releaseKey(ctx, in.IdempotencyKey)
		return nil, apperr.Wrap(apperr.ServiceUnavailable, "admission state unavailable", err)
	}

	now := s.now()
	ord := order.New(orderID, in.UserID, in.StoreID, items, in.PaymentMethod, in.Address, now)
	sagaID := uuid.New()

	err = s.runner.InTx(ctx, func(tx *sql.Tx) error {
		if err := s.orders.Create(ctx, tx, ord); err != nil {
			return err
		}
		if _, err := s.saga.Begin(ctx, tx, sagaID, ord); err != nil {
			return err
		}
		created := order.Created{
			EventID:     uuid.New(),
			OrderID:     ord.ID,
			UserID:      ord.UserID,
			StoreID:     ord.StoreID,
			TotalAmount: ord.TotalAmount,
			CreatedAt:   now,
		}
		if err := s.outbox.SaveEvent(ctx, tx, aggregateOrder, ord.ID, order.EventTypeOrderCreated, created); err != nil {
			return err
		}
		if queued {
			return nil
		}
		return s.saga.EmitPaymentCommand(ctx, tx, sagaID, ord)
	})
	if err != nil {
		s.releaseKey(ctx, in.IdempotencyKey)
		return nil, err
	}

	if err := s.admission.Admit(ctx); err != nil {
		lg1 := logging.WithOrderID(ord.ID)
		lg1.Warn().Err(err).Msg("inflight counter update failed")
	}
	s.notifier.Publish(ord.ID, string(ord.Status))

	if !queued {
		return &CreateOrderResult{Order: ord}, nil
	}

	if err := s.admission.Enqueue(ctx, ord.ID, now); err != nil {
		// Could not park the order; release it directly rather than
		// leaving it stranded with no payment command.
		lg2 := logging.WithOrderID(ord.ID)
		lg2.Error().Err(err).Msg("enqueue failed, releasing order directly")
		if relErr := s.saga.ReleaseQueuedOrder(ctx, ord.ID); relErr != nil {
			return nil, apperr.Wrap(apperr.ServiceUnavailable, "order accepted but stuck in admission", relErr)
		}
		return &CreateOrderResult{Order: ord}, nil
	}

	pos, err := s.admission.Position(ctx, ord.ID)
	if err != nil {
		lg3 := logging.WithOrderID(ord.ID)
		lg3.Warn().Err(err).Msg("queue position unavailable")
		return &CreateOrderResult{Order: ord, Queued: true}, nil
	}
	return &CreateOrderResult{
		Order:         ord,
		Queued:        true,
		Position:      pos.Position,
		QueueSize:     pos.QueueSize,
		EstimatedWait: pos.EstimatedWait,
	}, nil
}

// priceItems resolves the store and captures current menu prices.
func (s *OrderService) priceItems(ctx context.Context, in CreateOrderInput) ([]order.LineItem, error) {
	st, err := s.stores.GetStoreWithMenus(ctx, in.StoreID)
	if err != nil {
		return nil, err
	}
	if !st.Open {
		return nil, apperr.Newf(apperr.InvalidInput, "store %d is closed", st.ID)
	}
	items := make([]order.LineItem, 0, len(in.Items))
	for _, it := range in.Items {
		menu, err := st.Menu(it.MenuID)
		if err != nil {
			return nil, err
		}
		items = append(items, order.LineItem{
			MenuID:   menu.ID,
			Quantity: it.Quantity,
			Price:    menu.Price,
		})
	}
	return items, nil
}

func (s *OrderService) releaseKey(ctx context.Context, key string) {
	if key == "" {
		return
	}
	if err := s.keys.Release(ctx, key); err != nil {
		lg4 := logging.WithComponent("order-service")
		lg4.Warn().Err(err).Msg("release idempotency key failed")
	}
}
