package notification

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishReachesAllSubscribers(t *testing.T) {
	h := NewHub()
	defer h.Close()

	a := h.Subscribe()
	b := h.Subscribe()

	h.Publish("order-1", "PAID")

	for _, sub := range []Subscriber{a, b} {
		var update StatusUpdate
		require.NoError(t, json.Unmarshal(<-sub, &update))
		assert.Equal(t, "order-1", update.OrderID)
		assert.Equal(t, "PAID", update.Status)
		assert.False(t, update.Timestamp.IsZero())
	}
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	h := NewHub()
	defer h.Close()

	sub := h.Subscribe()
	// fill the buffer and then some; Publish must never block
	for i := 0; i < 32; i++ {
		h.Publish("order-1", "PAID")
	}
	assert.Equal(t, cap(sub), len(sub))
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	h := NewHub()
	defer h.Close()

	sub := h.Subscribe()
	h.Unsubscribe(sub)
	_, open := <-sub
	assert.False(t, open)

	// double unsubscribe is harmless
	h.Unsubscribe(sub)
	h.Publish("order-1", "PAID")
}

func TestCloseStopsNewSubscriptions(t *testing.T) {
	h := NewHub()
	sub := h.Subscribe()
	h.Close()

	_, open := <-sub
	assert.False(t, open)

	late := h.Subscribe()
	h.Publish("order-1", "PAID")
	assert.Empty(t, late)
}
