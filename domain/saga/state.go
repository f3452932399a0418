// Package saga defines the order saga state machine and the command/reply
// contracts exchanged with the payment and delivery services. Only the
// orchestrator writes SagaState; every step change goes through Transition
// so an illegal move fails at the source.
package saga

import (
	"time"

	"food_order/pkg/apperr"
)

// TypeOrder tags the order-processing saga.
const TypeOrder = "ORDER"

// Status is the overall saga status
type Status string

const (
	StatusStarted      Status = "STARTED"
	StatusCompensating Status = "COMPENSATING"
	StatusCompleted    Status = "COMPLETED"
	StatusFailed       Status = "FAILED"
)

// Step is the current saga step
type Step string

const (
	StepPaymentPending      Step = "PAYMENT_PENDING"
	StepPaymentCompleted    Step = "PAYMENT_COMPLETED"
	StepDeliveryPending     Step = "DELIVERY_PENDING"
	StepCompensatingPayment Step = "COMPENSATING_PAYMENT"
	StepCompleted           Step = "COMPLETED"
	StepFailed              Step = "FAILED"
)

// transitions is the allowed step matrix. Terminal steps map to nil.
var transitions = map[Step][]Step{
	StepPaymentPending:      {StepPaymentCompleted, StepFailed},
	StepPaymentCompleted:    {StepDeliveryPending},
	StepDeliveryPending:     {StepCompleted, StepCompensatingPayment},
	StepCompensatingPayment: {StepFailed},
	StepCompleted:           nil,
	StepFailed:              nil,
}

// CanTransition reports whether from → to is a legal step move.
func CanTransition(from, to Step) bool {
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the step accepts no further transitions.
func IsTerminal(step Step) bool {
	return len(transitions[step]) == 0
}

// State is the persisted saga row.
type State struct {
	ID            string    `json:"id"`
	Type          string    `json:"type"`
	OrderID       string    `json:"order_id"`
	Status        Status    `json:"status"`
	Step          Step      `json:"step"`
	FailureReason string    `json:"failure_reason,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// NewState creates a saga in STARTED / PAYMENT_PENDING.
func NewState(sagaID, orderID string, now time.Time) *State {
	return &State{
		ID:        sagaID,
		Type:      TypeOrder,
		OrderID:   orderID,
		Status:    StatusStarted,
		Step:      StepPaymentPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Transition moves the saga to the next step, enforcing the matrix.
func (s *State) Transition(to Step, now time.Time) error {
	if !CanTransition(s.Step, to) {
		return apperr.Newf(apperr.InvalidStateTransition,
			"saga %s: illegal step transition %s -> %s", s.ID, s.Step, to)
	}
	s.Step = to
	s.UpdatedAt = now

	switch to {
	case StepCompleted:
		s.Status = StatusCompleted
	case StepFailed:
		s.Status = StatusFailed
	case StepCompensatingPayment:
		s.Status = StatusCompensating
	}
	return nil
}

// Fail moves the saga to the terminal FAILED step with a reason.
func (s *State) Fail(reason string, now time.Time) error {
	if err := s.Transition(StepFailed, now); err != nil {
		return err
	}
	s.FailureReason = reason
	return nil
}
