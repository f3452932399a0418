// Package metrics registers Prometheus metrics for the order-processing
// control plane and exposes the scrape handler.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Outbox metrics
	OutboxPublished = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "food_order_outbox_published_total",
			Help: "Total number of outbox records published to the broker",
		},
	)

	OutboxPublishFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "food_order_outbox_publish_failures_total",
			Help: "Total number of failed outbox publish attempts",
		},
	)

	OutboxPending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "food_order_outbox_pending",
			Help: "Unpublished outbox records seen by the last relay tick",
		},
	)

	// Saga metrics
	SagaTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "food_order_saga_transitions_total",
			Help: "Total number of saga step transitions by target step",
		},
		[]string{"step"},
	)

	SagaCompleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "food_order_saga_completed_total",
			Help: "Total number of terminated sagas by outcome",
		},
		[]string{"outcome"},
	)

	// Consumer metrics
	EventsDeduplicated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "food_order_events_deduplicated_total",
			Help: "Total number of duplicate events skipped by the idempotency ledger",
		},
	)

	EventsDeadLettered = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "food_order_events_dead_lettered_total",
			Help: "Total number of messages routed to the dead-letter binding",
		},
	)

	// Admission queue metrics
	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "food_order_admission_queue_depth",
			Help: "Current number of orders waiting in the admission queue",
		},
	)

	OrdersInflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "food_order_orders_inflight",
			Help: "Orders whose saga has started but not yet terminated",
		},
	)

	// Resilience metrics
	BreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "food_order_circuit_breaker_state",
			Help: "Circuit breaker state by name (0 = closed, 1 = open, 2 = half-open)",
		},
		[]string{"name"},
	)

	RateLimited = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "food_order_rate_limited_total",
			Help: "Total number of requests rejected by the ingress rate limiter",
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "food_order_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	// Cache metrics
	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "food_order_cache_hits_total",
			Help: "Cache hits by level (l1, redis, fallback)",
		},
		[]string{"level"},
	)

	CacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "food_order_cache_misses_total",
			Help: "Read-path requests that reached storage",
		},
	)
)

func init() {
	prometheus.MustRegister(OutboxPublished)
	prometheus.MustRegister(OutboxPublishFailures)
	prometheus.MustRegister(OutboxPending)
	prometheus.MustRegister(SagaTransitions)
	prometheus.MustRegister(SagaCompleted)
	prometheus.MustRegister(EventsDeduplicated)
	prometheus.MustRegister(EventsDeadLettered)
	prometheus.MustRegister(QueueDepth)
	prometheus.MustRegister(OrdersInflight)
	prometheus.MustRegister(BreakerState)
	prometheus.MustRegister(RateLimited)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(CacheHits)
	prometheus.MustRegister(CacheMisses)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
