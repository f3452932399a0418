// Package saga implements the order saga orchestrator. Each entry point
// is one transactional handler: the saga row is locked, the step
// transition validated, the order updated, the next command appended to
// the outbox, and the idempotency ledger marked, all in one commit.
//
// One file per entry point: start.go, payment.go, delivery.go,
// compensate.go.
package saga

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"food_order/domain/order"
	sagadom "food_order/domain/saga"
	"food_order/infrastructure/messaging"
	"food_order/infrastructure/postgres"
	"food_order/pkg/logging"
	"food_order/pkg/metrics"
)

// SagaStore persists saga state rows.
type SagaStore interface {
	Create(ctx context.Context, q postgres.Querier, s *sagadom.State) error
	GetForUpdate(ctx context.Context, q postgres.Querier, sagaID string) (*sagadom.State, error)
	GetByOrderIDForUpdate(ctx context.Context, q postgres.Querier, orderID string) (*sagadom.State, error)
	Update(ctx context.Context, q postgres.Querier, s *sagadom.State) error
}

// OrderStore reads and updates order rows.
type OrderStore interface {
	Get(ctx context.Context, q postgres.Querier, orderID string) (*order.Order, error)
	UpdateStatus(ctx context.Context, q postgres.Querier, o *order.Order, status order.Status) error
}

// EventAppender appends outbox records inside the handler's transaction.
type EventAppender interface {
	SaveEvent(ctx context.Context, q postgres.Querier, aggregateType, aggregateID, eventType string, payload interface{}) error
}

// Ledger is the processed-event ledger.
type Ledger interface {
	IsProcessed(ctx context.Context, q postgres.Querier, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, q postgres.Querier, eventID string) error
}

// InflightCounter tracks orders between saga start and termination.
type InflightCounter interface {
	DecrInflight(ctx context.Context) (int64, error)
}

// Notifier receives post-commit status transitions.
type Notifier interface {
	Publish(orderID, status string)
}

// Orchestrator drives the payment and delivery steps of the order saga.
type Orchestrator struct {
	runner   postgres.TxRunner
	sagas    SagaStore
	orders   OrderStore
	outbox   EventAppender
	ledger   Ledger
	inflight InflightCounter
	notifier Notifier
	now      func() time.Time
}

// NewOrchestrator creates the orchestrator.
func NewOrchestrator(
	runner postgres.TxRunner,
	sagas SagaStore,
	orders OrderStore,
	outbox EventAppender,
	ledger Ledger,
	inflight InflightCounter,
	notifier Notifier,
) *Orchestrator {
	return &Orchestrator{
		runner:   runner,
		sagas:    sagas,
		orders:   orders,
		outbox:   outbox,
		ledger:   ledger,
		inflight: inflight,
		notifier: notifier,
		now:      time.Now,
	}
}

// Start subscribes the orchestrator to the saga reply binding.
func (o *Orchestrator) Start(ctx context.Context, bus messaging.Bus, group string) error {
	if err := bus.Subscribe(ctx, messaging.BindingSagaReplies, group, o.HandleReply); err != nil {
		return err
	}
	lg1 := logging.WithComponent("saga-orchestrator")
	lg1.Info().Msg("orchestrator listening for replies")
	return nil
}

// HandleReply routes one saga reply to the matching step handler.
func (o *Orchestrator) HandleReply(ctx context.Context, msg messaging.Message) error {
	var reply sagadom.Reply
	if err := json.Unmarshal(msg.Body, &reply); err != nil {
		return fmt.Errorf("decode saga reply: %w", err)
	}

	switch reply.Step {
	case sagadom.StepNamePayment:
		return o.OnPaymentResult(ctx, &reply)
	case sagadom.StepNameDelivery:
		return o.OnDeliveryResult(ctx, &reply)
	case sagadom.StepNamePaymentCompensate:
		return o.OnCompensationResult(ctx, &reply)
	default:
		return fmt.Errorf("saga reply %s: unknown step %q", reply.EventID, reply.Step)
	}
}

// transition applies one validated step move and records the metric.
func transition(s *sagadom.State, to sagadom.Step, now time.Time) error {
	if err := s.Transition(to, now); err != nil {
		return err
	}
	metrics.SagaTransitions.WithLabelValues(string(to)).Inc()
	return nil
}

// dedup returns true when the reply was already applied. Must run inside
// the handler's transaction, before any business effect.
func (o *Orchestrator) dedup(ctx context.Context, tx *sql.Tx, eventID string) (bool, error) {
	processed, err := o.ledger.IsProcessed(ctx, tx, eventID)
	if err != nil {
		return false, err
	}
	if processed {
		metrics.EventsDeduplicated.Inc()
		return true, nil
	}
	return false, o.ledger.MarkProcessed(ctx, tx, eventID)
}

// settle decrements the in-flight counter after a saga terminates. Runs
// post-commit; the counter is advisory load-shedding state, not part of
// the transactional contract.
func (o *Orchestrator) settle(ctx context.Context, outcome string) {
	metrics.SagaCompleted.WithLabelValues(outcome).Inc()
	if n, err := o.inflight.DecrInflight(ctx); err != nil {
		lg2 := logging.WithComponent("saga-orchestrator")
		lg2.Warn().Err(err).Msg("decr inflight failed")
	} else {
		metrics.OrdersInflight.Set(float64(n))
	}
}
