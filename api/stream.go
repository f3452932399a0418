package api

import (
	"net/http"

	"food_order/application/notification"
)

// StreamHandler serves order-status updates over server-sent events.
type StreamHandler struct {
	hub *notification.Hub
}

func NewStreamHandler(hub *notification.Hub) *StreamHandler {
	return &StreamHandler{hub: hub}
}

// Stream handles GET /orders/stream. Each connection gets its own
// subscription; updates missed while the connection is slow are dropped,
// the order resource itself is the source of truth.
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sub := h.hub.Subscribe()
	defer h.hub.Unsubscribe(sub)

	for {
		select {
		case <-r.Context().Done():
			return
		case line, ok := <-sub:
			if !ok {
				return
			}
			if _, err := w.Write(append(append([]byte("data: "), line...), '\n', '\n')); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
