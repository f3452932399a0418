// Package notification broadcasts order-status transitions to connected
// listeners. Delivery is fire-and-forget with no backlog: a slow
// subscriber loses updates instead of blocking the publisher. The hub is
// independent of the saga's durability path and is invoked only after the
// transaction commits.
package notification

import (
	"encoding/json"
	"sync"
	"time"

	"food_order/pkg/logging"
)

// StatusUpdate is the JSON line emitted per transition.
type StatusUpdate struct {
	OrderID   string    `json:"order_id"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// Subscriber is a channel that receives encoded status updates.
type Subscriber chan []byte

// Hub manages subscriptions and distribution.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[Subscriber]bool
	closed      bool
}

// NewHub creates a hub.
func NewHub() *Hub {
	return &Hub{subscribers: make(map[Subscriber]bool)}
}

// Subscribe registers a connection-scoped listener.
func (h *Hub) Subscribe() Subscriber {
	h.mu.Lock()
	defer h.mu.Unlock()
	sub := make(Subscriber, 16)
	if !h.closed {
		h.subscribers[sub] = true
	}
	return sub
}

// Unsubscribe removes a listener and closes its channel.
func (h *Hub) Unsubscribe(sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subscribers[sub] {
		delete(h.subscribers, sub)
		close(sub)
	}
}

// Publish emits one status transition to every listener.
func (h *Hub) Publish(orderID, status string) {
	line, err := json.Marshal(StatusUpdate{
		OrderID:   orderID,
		Status:    status,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		lg1 := logging.WithComponent("notifier")
		lg1.Error().Err(err).Msg("encode status update")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subscribers {
		select {
		case sub <- line:
		default:
			// slow subscriber: drop, never block
		}
	}
}

// Close closes all subscriber channels.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for sub := range h.subscribers {
		delete(h.subscribers, sub)
		close(sub)
	}
}
