package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"food_order/application/usecases"
	"food_order/domain/order"
	"food_order/pkg/apperr"
	"food_order/pkg/uuid"
)

// OrderHandler handles HTTP requests for orders.
type OrderHandler struct {
	orders *usecases.OrderService
}

func NewOrderHandler(orders *usecases.OrderService) *OrderHandler {
	return &OrderHandler{orders: orders}
}

// CreateOrderRequest is the HTTP request body for creating an order.
type CreateOrderRequest struct {
	StoreID       int64             `json:"store_id"`
	Items         []CreateOrderItem `json:"items"`
	PaymentMethod string            `json:"payment_method"`
	Address       string            `json:"address"`
}

// CreateOrderItem is one requested menu line.
type CreateOrderItem struct {
	MenuID   int64 `json:"menu_id"`
	Quantity int   `json:"quantity"`
}

// OrderResponse is the order body returned by the API.
type OrderResponse struct {
	OrderID     string           `json:"order_id"`
	UserID      int64            `json:"user_id"`
	StoreID     int64            `json:"store_id"`
	Items       []order.LineItem `json:"items"`
	TotalAmount decimal.Decimal  `json:"total_amount"`
	Status      string           `json:"status"`
	Address     string           `json:"address"`
	CreatedAt   time.Time        `json:"created_at"`
}

// QueueStatusResponse is returned when the admission queue holds the order.
type QueueStatusResponse struct {
	OrderID          string `json:"order_id"`
	Status           string `json:"status"`
	Queued           bool   `json:"queued"`
	Position         int64  `json:"position,omitempty"`
	QueueSize        int64  `json:"queue_size"`
	EstimatedWaitSec int64  `json:"estimated_wait_seconds"`
}

func orderResponse(o *order.Order) OrderResponse {
	return OrderResponse{
		OrderID:     o.ID,
		UserID:      o.UserID,
		StoreID:     o.StoreID,
		Items:       o.Items,
		TotalAmount: o.TotalAmount,
		Status:      string(o.Status),
		Address:     o.Address,
		CreatedAt:   o.CreatedAt,
	}
}

// CreateOrder handles POST /orders. A direct admission returns 201 with
// the order; an admission under queue pressure returns 200 with the
// queue-status body instead.
func (h *OrderHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, apperr.Wrap(apperr.InvalidInput, "invalid request body", err))
		return
	}

	in := usecases.CreateOrderInput{
		UserID:         uid,
		StoreID:        req.StoreID,
		PaymentMethod:  req.PaymentMethod,
		Address:        req.Address,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	}
	for _, it := range req.Items {
		in.Items = append(in.Items, usecases.CreateOrderItem{MenuID: it.MenuID, Quantity: it.Quantity})
	}

	res, err := h.orders.CreateOrder(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if res.Queued {
		writeJSON(w, http.StatusOK, QueueStatusResponse{
			OrderID:          res.Order.ID,
			Status:           string(res.Order.Status),
			Queued:           true,
			Position:         res.Position,
			QueueSize:        res.QueueSize,
			EstimatedWaitSec: int64(res.EstimatedWait / time.Second),
		})
		return
	}
	writeJSON(w, http.StatusCreated, orderResponse(res.Order))
}

// GetOrder handles GET /orders/{id}.
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID := r.PathValue("id")
	if !uuid.IsValid(orderID) {
		writeError(w, r, apperr.New(apperr.InvalidInput, "invalid order id"))
		return
	}
	o, err := h.orders.GetOrder(r.Context(), orderID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orderResponse(o))
}

// CancelOrder handles POST /orders/{id}/cancel.
func (h *OrderHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID := r.PathValue("id")
	if !uuid.IsValid(orderID) {
		writeError(w, r, apperr.New(apperr.InvalidInput, "invalid order id"))
		return
	}
	o, err := h.orders.CancelOrder(r.Context(), orderID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orderResponse(o))
}

// QueueStatus handles GET /orders/queue/status?orderId=...
func (h *OrderHandler) QueueStatus(w http.ResponseWriter, r *http.Request) {
	orderID := r.URL.Query().Get("orderId")
	if !uuid.IsValid(orderID) {
		writeError(w, r, apperr.New(apperr.InvalidInput, "a valid orderId query parameter is required"))
		return
	}
	o, st, err := h.orders.QueueStatus(r.Context(), orderID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, QueueStatusResponse{
		OrderID:          o.ID,
		Status:           string(o.Status),
		Queued:           st.Queued,
		Position:         st.Position,
		QueueSize:        st.QueueSize,
		EstimatedWaitSec: int64(st.EstimatedWait / time.Second),
	})
}

// HealthCheck handles GET /health.
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}
