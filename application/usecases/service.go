// Package usecases holds the order service's application layer: the
// operations the HTTP API exposes, composed from the repositories, the
// admission queue and the saga orchestrator.
package usecases

import (
	"context"
	"database/sql"
	"time"

	"github.com/go-playground/validator/v10"

	"food_order/application/queue"
	"food_order/domain/order"
	sagadom "food_order/domain/saga"
	"food_order/domain/store"
	"food_order/infrastructure/postgres"
	"food_order/pkg/apperr"
)

// OrderStore persists and reads order rows.
type OrderStore interface {
	Create(ctx context.Context, q postgres.Querier, o *order.Order) error
	Get(ctx context.Context, q postgres.Querier, orderID string) (*order.Order, error)
	UpdateStatus(ctx context.Context, q postgres.Querier, o *order.Order, status order.Status) error
}

// SagaStore is the slice of saga persistence the cancel path needs.
type SagaStore interface {
	GetByOrderIDForUpdate(ctx context.Context, q postgres.Querier, orderID string) (*sagadom.State, error)
	Update(ctx context.Context, q postgres.Querier, s *sagadom.State) error
}

// Saga is the orchestrator surface used at order creation.
type Saga interface {
	Begin(ctx context.Context, tx *sql.Tx, sagaID string, ord *order.Order) (*sagadom.State, error)
	EmitPaymentCommand(ctx context.Context, tx *sql.Tx, sagaID string, ord *order.Order) error
	ReleaseQueuedOrder(ctx context.Context, orderID string) error
}

// StoreDirectory resolves stores and their menus; backed by the store
// service over HTTP, or by its reader directly in tests.
type StoreDirectory interface {
	GetStoreWithMenus(ctx context.Context, storeID int64) (*store.Store, error)
}

// Admission is the admission-control surface.
type Admission interface {
	Active(ctx context.Context) (bool, error)
	Admit(ctx context.Context) error
	Enqueue(ctx context.Context, orderID string, submittedAt time.Time) error
	Position(ctx context.Context, orderID string) (queue.Status, error)
}

// RequestKeys reserves client Idempotency-Key values.
type RequestKeys interface {
	Reserve(ctx context.Context, key, orderID string) (bool, error)
	Release(ctx context.Context, key string) error
}

// EventAppender appends outbox records inside the caller's transaction.
type EventAppender interface {
	SaveEvent(ctx context.Context, q postgres.Querier, aggregateType, aggregateID, eventType string, payload interface{}) error
}

// Notifier receives post-commit order status changes.
type Notifier interface {
	Publish(orderID, status string)
}

// InflightCounter undoes an admission when its order terminates early.
type InflightCounter interface {
	DecrInflight(ctx context.Context) (int64, error)
}

// OrderService implements the order API operations.
type OrderService struct {
	db        postgres.Querier
	runner    postgres.TxRunner
	orders    OrderStore
	sagas     SagaStore
	saga      Saga
	stores    StoreDirectory
	admission Admission
	keys      RequestKeys
	outbox    EventAppender
	notifier  Notifier
	inflight  InflightCounter
	validate  *validator.Validate
	now       func() time.Time
}

func NewOrderService(
	db postgres.Querier,
	runner postgres.TxRunner,
	orders OrderStore,
	sagas SagaStore,
	saga Saga,
	stores StoreDirectory,
	admission Admission,
	keys RequestKeys,
	outbox EventAppender,
	notifier Notifier,
	inflight InflightCounter,
) *OrderService {
	return &OrderService{
		db:        db,
		runner:    runner,
		orders:    orders,
		sagas:     sagas,
		saga:      saga,
		stores:    stores,
		admission: admission,
		keys:      keys,
		outbox:    outbox,
		notifier:  notifier,
		inflight:  inflight,
		validate:  validator.New(),
		now:       time.Now,
	}
}

// GetOrder returns one order by id.
func (s *OrderService) GetOrder(ctx context.Context, orderID string) (*order.Order, error) {
	return s.orders.Get(ctx, s.db, orderID)
}

// QueueStatus reports an order's admission-queue position.
func (s *OrderService) QueueStatus(ctx context.Context, orderID string) (*order.Order, queue.Status, error) {
	ord, err := s.orders.Get(ctx, s.db, orderID)
	if err != nil {
		return nil, queue.Status{}, err
	}
	st, err := s.admission.Position(ctx, orderID)
	if err != nil {
		return nil, queue.Status{}, apperr.Wrap(apperr.ServiceUnavailable, "queue status unavailable", err)
	}
	return ord, st, nil
}
