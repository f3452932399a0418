package delivery

import (
	"time"

	"food_order/pkg/apperr"
)

// Status represents the delivery status
type Status string

const (
	StatusWaiting       Status = "WAITING"
	StatusRiderAssigned Status = "RIDER_ASSIGNED"
	StatusPickedUp      Status = "PICKED_UP"
	StatusDelivering    Status = "DELIVERING"
	StatusDelivered     Status = "DELIVERED"
	StatusCancelled     Status = "CANCELLED"
)

// statusOrder drives the linear progression check. CANCELLED is reachable
// from any non-terminal status.
var statusOrder = map[Status]int{
	StatusWaiting:       0,
	StatusRiderAssigned: 1,
	StatusPickedUp:      2,
	StatusDelivering:    3,
	StatusDelivered:     4,
}

// Delivery is the delivery row owned by the delivery service. OrderID is
// unique. LastFencingToken guards status writes against stale lock
// holders; nil means no fenced write has happened yet.
type Delivery struct {
	ID               string    `json:"id"`
	OrderID          string    `json:"order_id"`
	Status           Status    `json:"status"`
	RiderID          string    `json:"rider_id,omitempty"`
	EstimatedAt      time.Time `json:"estimated_at"`
	LastFencingToken *int64    `json:"last_fencing_token,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
	Version          int64     `json:"version"`
}

// New builds a WAITING delivery.
func New(id, orderID string, estimatedAt, now time.Time) *Delivery {
	return &Delivery{
		ID:          id,
		OrderID:     orderID,
		Status:      StatusWaiting,
		EstimatedAt: estimatedAt,
		CreatedAt:   now,
		UpdatedAt:   now,
		Version:     1,
	}
}

// ValidateTransition checks the WAITING → ... → DELIVERED progression.
func ValidateTransition(from, to Status) error {
	if to == StatusCancelled {
		if from == StatusDelivered || from == StatusCancelled {
			return apperr.Newf(apperr.InvalidStateTransition,
				"delivery: cannot cancel from %s", from)
		}
		return nil
	}
	fo, ok1 := statusOrder[from]
	to2, ok2 := statusOrder[to]
	if !ok1 || !ok2 || to2 != fo+1 {
		return apperr.Newf(apperr.InvalidStateTransition,
			"delivery: illegal status transition %s -> %s", from, to)
	}
	return nil
}

// AssignRider moves WAITING → RIDER_ASSIGNED.
func (d *Delivery) AssignRider(riderID string, now time.Time) error {
	if err := ValidateTransition(d.Status, StatusRiderAssigned); err != nil {
		return err
	}
	d.Status = StatusRiderAssigned
	d.RiderID = riderID
	d.UpdatedAt = now
	return nil
}
