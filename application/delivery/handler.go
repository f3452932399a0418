// Package delivery consumes saga delivery commands: it creates the
// delivery, assigns a rider through the dispatcher, and reports the
// outcome back on the reply binding. Per-order work runs under the
// advisory lock; the fenced status write is the real stale-writer guard.
package delivery

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	deldom "food_order/domain/delivery"
	sagadom "food_order/domain/saga"
	"food_order/infrastructure/messaging"
	"food_order/infrastructure/postgres"
	"food_order/infrastructure/redislock"
	"food_order/pkg/apperr"
	"food_order/pkg/logging"
	"food_order/pkg/metrics"
	"food_order/pkg/resilience"
	"food_order/pkg/uuid"
)

const aggregateDelivery = "DELIVERY"

const (
	lockWaitBudget = 2 * time.Second
	lockLease      = 10 * time.Second
	deliveryWindow = 30 * time.Minute
)

// Dispatcher finds a rider for an order. A rider shortage comes back as
// an error and fails the delivery step.
type Dispatcher interface {
	AssignRider(ctx context.Context, orderID, address string) (string, error)
}

// DeliveryStore persists delivery rows.
type DeliveryStore interface {
	Create(ctx context.Context, q postgres.Querier, d *deldom.Delivery) error
	GetByOrderID(ctx context.Context, q postgres.Querier, orderID string) (*deldom.Delivery, error)
	UpdateStatusFenced(ctx context.Context, q postgres.Querier, d *deldom.Delivery, status deldom.Status, riderID string, token int64) error
}

// Ledger is the processed-event ledger.
type Ledger interface {
	IsProcessed(ctx context.Context, q postgres.Querier, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, q postgres.Querier, eventID string) error
}

// EventAppender appends outbox records inside the handler's transaction.
type EventAppender interface {
	SaveEvent(ctx context.Context, q postgres.Querier, aggregateType, aggregateID, eventType string, payload interface{}) error
}

// Locker is the advisory lease lock.
type Locker interface {
	TryLock(ctx context.Context, key string, waitBudget, leaseDuration time.Duration) (*redislock.Lease, error)
	Unlock(ctx context.Context, lease *redislock.Lease) error
}

// Tokens issues fencing tokens.
type Tokens interface {
	Next(ctx context.Context, resource string) (int64, error)
}

// Handler processes CreateDelivery commands.
type Handler struct {
	runner     postgres.TxRunner
	deliveries DeliveryStore
	ledger     Ledger
	outbox     EventAppender
	dispatcher Dispatcher
	locks      Locker
	tokens     Tokens
	envelope   *resilience.Envelope
	now        func() time.Time
}

func NewHandler(
	runner postgres.TxRunner,
	deliveries DeliveryStore,
	ledger Ledger,
	outbox EventAppender,
	dispatcher Dispatcher,
	locks Locker,
	tokens Tokens,
	envelope *resilience.Envelope,
) *Handler {
	return &Handler{
		runner:     runner,
		deliveries: deliveries,
		ledger:     ledger,
		outbox:     outbox,
		dispatcher: dispatcher,
		locks:      locks,
		tokens:     tokens,
		envelope:   envelope,
		now:        time.Now,
	}
}

// Start subscribes the handler to the delivery command binding.
func (h *Handler) Start(ctx context.Context, bus messaging.Bus, group string) error {
	if err := bus.Subscribe(ctx, messaging.BindingDeliveryCommands, group, h.HandleCommand); err != nil {
		return err
	}
	lg1 := logging.WithComponent("delivery-handler")
	lg1.Info().Msg("delivery handler listening for commands")
	return nil
}

// HandleCommand creates the delivery for one order. The advisory lock
// keeps concurrent deliveries of the same order from racing; if the lock
// is busy the message goes back for redelivery.
func (h *Handler) HandleCommand(ctx context.Context, msg messaging.Message) error {
	var cmd sagadom.DeliveryCommand
	if err := json.Unmarshal(msg.Body, &cmd); err != nil {
		return fmt.Errorf("decode delivery command: %w", err)
	}

	lease, err := h.locks.TryLock(ctx, "lock:delivery:"+cmd.OrderID, lockWaitBudget, lockLease)
	if err != nil {
		return err
	}
	if lease == nil {
		return apperr.Newf(apperr.ServiceUnavailable, "delivery lock for order %s is busy", cmd.OrderID)
	}
	defer func() {
		if err := h.locks.Unlock(context.WithoutCancel(ctx), lease); err != nil {
			lg2 := logging.WithOrderID(cmd.OrderID)
			lg2.Warn().Err(err).Msg("release delivery lock failed")
		}
	}()

	token, err := h.tokens.Next(ctx, "delivery:"+cmd.OrderID)
	if err != nil {
		return err
	}
	return h.createDelivery(ctx, &cmd, token)
}

func (h *Handler) createDelivery(ctx context.Context, cmd *sagadom.DeliveryCommand, token int64) error {
	log := logging.WithComponent("delivery-handler").With().
		Str("order_id", cmd.OrderID).Str("saga_id", cmd.SagaID).Logger()

	applied := false
	var outcome deldom.Status

	err := h.runner.InTx(ctx, func(tx *sql.Tx) error {
		processed, err := h.ledger.IsProcessed(ctx, tx, cmd.EventID)
		if err != nil {
			return err
		}
		if processed {
			metrics.EventsDeduplicated.Inc()
			return nil
		}
		if err := h.ledger.MarkProcessed(ctx, tx, cmd.EventID); err != nil {
			return err
		}
		applied = true

		now := h.now()
		d := deldom.New(uuid.New(), cmd.OrderID, now.Add(deliveryWindow), now)
		if err := h.deliveries.Create(ctx, tx, d); err != nil {
			if !apperr.IsKind(err, apperr.DuplicateRequest) {
				return err
			}
			// A previous attempt committed the row but not the ledger
			// mark; continue against the existing delivery.
			if d, err = h.deliveries.GetByOrderID(ctx, tx, cmd.OrderID); err != nil {
				return err
			}
		}

		var rider string
		dispatchErr := h.envelope.Do(ctx, func(ctx context.Context) error {
			var err error
			rider, err = h.dispatcher.AssignRider(ctx, cmd.OrderID, cmd.Address)
			return err
		})
		if dispatchErr != nil {
			if err := h.deliveries.UpdateStatusFenced(ctx, tx, d, deldom.StatusCancelled, "", token); err != nil {
				return err
			}
			outcome = d.Status
			return h.reply(ctx, tx, cmd, false, dispatchErr.Error())
		}

		if err := h.deliveries.UpdateStatusFenced(ctx, tx, d, deldom.StatusRiderAssigned, rider, token); err != nil {
			return err
		}
		outcome = d.Status
		return h.reply(ctx, tx, cmd, true, "")
	})
	if err != nil {
		return err
	}
	if applied {
		log.Info().Str("status", string(outcome)).Int64("fencing_token", token).Msg("delivery command processed")
	}
	return nil
}

func (h *Handler) reply(ctx context.Context, tx *sql.Tx, cmd *sagadom.DeliveryCommand, success bool, reason string) error {
	r := sagadom.Reply{
		EventID:   uuid.New(),
		SagaID:    cmd.SagaID,
		OrderID:   cmd.OrderID,
		Step:      sagadom.StepNameDelivery,
		Success:   success,
		Reason:    reason,
		RepliedAt: h.now(),
	}
	return h.outbox.SaveEvent(ctx, tx, aggregateDelivery, cmd.OrderID, sagadom.EventTypeSagaReply, r)
}
