// Package payment consumes saga payment commands: it charges or refunds
// through the gateway and reports the outcome back on the reply binding.
package payment

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	paydom "food_order/domain/payment"
	sagadom "food_order/domain/saga"
	"food_order/infrastructure/messaging"
	"food_order/infrastructure/postgres"
	"food_order/pkg/apperr"
	"food_order/pkg/logging"
	"food_order/pkg/metrics"
	"food_order/pkg/resilience"
	"food_order/pkg/uuid"
)

const aggregatePayment = "PAYMENT"

// ChargeRequest is what the gateway needs to take (or reverse) a payment.
type ChargeRequest struct {
	OrderID        string
	Amount         decimal.Decimal
	Method         string
	IdempotencyKey string
}

// Gateway is the external payment provider. Both calls are idempotent on
// IdempotencyKey. A decline comes back as an InvalidInput error; anything
// else is treated as a provider outage.
type Gateway interface {
	Charge(ctx context.Context, req ChargeRequest) error
	Refund(ctx context.Context, req ChargeRequest) error
}

// PaymentStore persists payment rows.
type PaymentStore interface {
	Create(ctx context.Context, q postgres.Querier, p *paydom.Payment) error
	GetByOrderID(ctx context.Context, q postgres.Querier, orderID string) (*paydom.Payment, error)
	UpdateStatus(ctx context.Context, q postgres.Querier, p *paydom.Payment) error
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

// Handler processes ProcessPayment and CompensatePayment commands.
type Handler struct {
	runner   postgres.TxRunner
	payments PaymentStore
	ledger   Ledger
	outbox   EventAppender
	gateway  Gateway
	envelope *resilience.Envelope
	now      func() time.Time
}

func NewHandler(
	runner postgres.TxRunner,
	payments PaymentStore,
	ledger Ledger,
	outbox EventAppender,
	gateway Gateway,
	envelope *resilience.Envelope,
) *Handler {
	return &Handler{
		runner:   runner,
		payments: payments,
		ledger:   ledger,
		outbox:   outbox,
		gateway:  gateway,
		envelope: envelope,
		now:      time.Now,
	}
}

// Start subscribes the handler to the payment command binding.
func (h *Handler) Start(ctx context.Context, bus messaging.Bus, group string) error {
	if err := bus.Subscribe(ctx, messaging.BindingPaymentCommands, group, h.HandleCommand); err != nil {
		return err
	}
	lg1 := logging.WithComponent("payment-handler")
	lg1.Info().Msg("payment handler listening for commands")
	return nil
}

// HandleCommand routes one payment command.
func (h *Handler) HandleCommand(ctx context.Context, msg messaging.Message) error {
	var cmd sagadom.PaymentCommand
	if err := json.Unmarshal(msg.Body, &cmd); err != nil {
		return fmt.Errorf("decode payment command: %w", err)
	}

	switch cmd.Action {
	case sagadom.ActionProcess:
		return h.processPayment(ctx, &cmd)
	case sagadom.ActionCompensate:
		return h.compensatePayment(ctx, &cmd)
	default:
		return fmt.Errorf("payment command %s: unknown action %q", cmd.EventID, cmd.Action)
	}
}

// processPayment charges the order. The outcome, whatever it is, commits
// atomically with the ledger mark and the saga reply: a declined or
// unreachable gateway still produces a FAILED payment row and a failure
// reply rather than a stuck saga.
func (h *Handler) processPayment(ctx context.Context, cmd *sagadom.PaymentCommand) error {
	log := logging.WithComponent("payment-handler").With().
		Str("order_id", cmd.OrderID).Str("saga_id", cmd.SagaID).Logger()

	applied := false
	var outcome paydom.Status
	var reason string

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
		p := paydom.New(uuid.New(), cmd.OrderID, cmd.Amount, cmd.Method, cmd.IdempotencyKey, now)

		chargeErr := h.envelope.Do(ctx, func(ctx context.Context) error {
			return h.gateway.Charge(ctx, ChargeRequest{
				OrderID:        cmd.OrderID,
				Amount:         cmd.Amount,
				Method:         cmd.Method,
				IdempotencyKey: cmd.IdempotencyKey,
			})
		})
		if chargeErr != nil {
			if err := p.MarkFailed(now); err != nil {
				return err
			}
			reason = chargeErr.Error()
		} else {
			if err := p.Complete(now); err != nil {
				return err
			}
		}
		outcome = p.Status

		if err := h.payments.Create(ctx, tx, p); err != nil {
			// A concurrent duplicate command already created the row;
			// its transaction also wrote the reply.
			if apperr.IsKind(err, apperr.DuplicateRequest) {
				applied = false
				metrics.EventsDeduplicated.Inc()
				return nil
			}
			return err
		}
		return h.reply(ctx, tx, cmd, sagadom.StepNamePayment, chargeErr == nil, reason)
	})
	if err != nil {
		return err
	}
	if applied {
		log.Info().Str("status", string(outcome)).Msg("payment processed")
	}
	return nil
}

// compensatePayment refunds a completed charge. A payment that never
// completed has nothing to reverse, so the reply is still a success. A
// gateway failure here returns an error and lets redelivery retry: a
// refund must eventually happen.
func (h *Handler) compensatePayment(ctx context.Context, cmd *sagadom.PaymentCommand) error {
	log := logging.WithComponent("payment-handler").With().
		Str("order_id", cmd.OrderID).Str("saga_id", cmd.SagaID).Logger()

	applied := false
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

		p, err := h.payments.GetByOrderID(ctx, tx, cmd.OrderID)
		if err != nil {
			if apperr.IsKind(err, apperr.EntityNotFound) {
				return h.reply(ctx, tx, cmd, sagadom.StepNamePaymentCompensate, true, "")
			}
			return err
		}

		if p.Status == paydom.StatusCompleted {
			refundErr := h.envelope.Do(ctx, func(ctx context.Context) error {
				return h.gateway.Refund(ctx, ChargeRequest{
					OrderID:        cmd.OrderID,
					Amount:         p.Amount,
					Method:         p.Method,
					IdempotencyKey: cmd.IdempotencyKey,
				})
			})
			if refundErr != nil {
				return fmt.Errorf("refund order %s: %w", cmd.OrderID, refundErr)
			}
			if err := p.Refund(h.now()); err != nil {
				return err
			}
			if err := h.payments.UpdateStatus(ctx, tx, p); err != nil {
				return err
			}
		}
		return h.reply(ctx, tx, cmd, sagadom.StepNamePaymentCompensate, true, "")
	})
	if err != nil {
		return err
	}
	if applied {
		log.Info().Msg("payment compensated")
	}
	return nil
}

func (h *Handler) reply(ctx context.Context, tx *sql.Tx, cmd *sagadom.PaymentCommand, step sagadom.StepName, success bool, reason string) error {
	r := sagadom.Reply{
		EventID:   uuid.New(),
		SagaID:    cmd.SagaID,
		OrderID:   cmd.OrderID,
		Step:      step,
		Success:   success,
		Reason:    reason,
		RepliedAt: h.now(),
	}
	return h.outbox.SaveEvent(ctx, tx, aggregatePayment, cmd.OrderID, sagadom.EventTypeSagaReply, r)
}
