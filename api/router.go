package api

import (
	"net/http"

	"food_order/pkg/metrics"
)

// OrderRouter assembles the order service's HTTP mux. The rate limiter
// guards the mutating routes only; reads and the stream stay cheap.
func OrderRouter(orders *OrderHandler, stream *StreamHandler, limiter Limiter) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("POST /orders", RateLimit(limiter, http.HandlerFunc(orders.CreateOrder)))
	mux.HandleFunc("GET /orders/{id}", orders.GetOrder)
	mux.Handle("POST /orders/{id}/cancel", RateLimit(limiter, http.HandlerFunc(orders.CancelOrder)))
	mux.HandleFunc("GET /orders/queue/status", orders.QueueStatus)
	mux.HandleFunc("GET /orders/stream", stream.Stream)
	mux.HandleFunc("GET /health", HealthCheck)
	mux.Handle("GET /metrics", metrics.Handler())
	return Instrument(mux)
}

// StoreRouter assembles the store service's HTTP mux.
func StoreRouter(stores *StoreHandler) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /stores/{id}", stores.GetStore)
	mux.HandleFunc("GET /health", HealthCheck)
	mux.Handle("GET /metrics", metrics.Handler())
	return Instrument(mux)
}

// WorkerRouter is the minimal mux for the payment and delivery services,
// which expose no business endpoints.
func WorkerRouter() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", HealthCheck)
	mux.Handle("GET /metrics", metrics.Handler())
	return mux
}
