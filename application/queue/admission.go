package queue

import (
	"context"
	"time"

	"food_order/infrastructure/redisq"
	"food_order/pkg/metrics"
)

// Store is the subset of the Redis-backed queue the admission service needs.
type Store interface {
	Enqueue(ctx context.Context, orderID string, submittedAt time.Time) error
	Rank(ctx context.Context, orderID string) (int64, bool, error)
	Size(ctx context.Context) (int64, error)
	Inflight(ctx context.Context) (int64, error)
	IncrInflight(ctx context.Context) (int64, error)
}

var _ Store = (*redisq.Queue)(nil)

// Config tunes when new orders are queued instead of processed directly.
type Config struct {
	// InflightThreshold is the number of concurrently processing orders
	// above which new orders are queued.
	InflightThreshold int64
	// DrainInterval is the dequeuer pace, used to estimate wait times.
	DrainInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		InflightThreshold: 100,
		DrainInterval:     500 * time.Millisecond,
	}
}

// Service decides whether an incoming order is admitted straight into the
// saga or parked in the admission queue, and reports queue positions.
type Service struct {
	store Store
	cfg   Config
}

func NewService(store Store, cfg Config) *Service {
	if cfg.InflightThreshold <= 0 {
		cfg.InflightThreshold = DefaultConfig().InflightThreshold
	}
	if cfg.DrainInterval <= 0 {
		cfg.DrainInterval = DefaultConfig().DrainInterval
	}
	return &Service{store: store, cfg: cfg}
}

// Active reports whether admission control is engaged. It stays engaged
// while the queue is non-empty so queued orders are not overtaken by
// direct admissions.
func (s *Service) Active(ctx context.Context) (bool, error) {
	inflight, err := s.store.Inflight(ctx)
	if err != nil {
		return false, err
	}
	if inflight >= s.cfg.InflightThreshold {
		return true, nil
	}
	size, err := s.store.Size(ctx)
	if err != nil {
		return false, err
	}
	return size > 0, nil
}

// Admit marks one more order as in flight.
func (s *Service) Admit(ctx context.Context) error {
	n, err := s.store.IncrInflight(ctx)
	if err != nil {
		return err
	}
	metrics.OrdersInflight.Set(float64(n))
	return nil
}

// Enqueue parks an order, keyed by submission time so dequeue order is
// strictly first-come-first-served.
func (s *Service) Enqueue(ctx context.Context, orderID string, submittedAt time.Time) error {
	if err := s.store.Enqueue(ctx, orderID, submittedAt); err != nil {
		return err
	}
	size, err := s.store.Size(ctx)
	if err == nil {
		metrics.QueueDepth.Set(float64(size))
	}
	return nil
}

// Status describes an order's position in the admission queue.
type Status struct {
	Queued        bool          `json:"queued"`
	Position      int64         `json:"position,omitempty"`
	QueueSize     int64         `json:"queue_size"`
	EstimatedWait time.Duration `json:"-"`
}

// Position reports where orderID sits in the queue. Queued=false means
// the order has already been released (or was never queued).
func (s *Service) Position(ctx context.Context, orderID string) (Status, error) {
	size, err := s.store.Size(ctx)
	if err != nil {
		return Status{}, err
	}
	rank, ok, err := s.store.Rank(ctx, orderID)
	if err != nil {
		return Status{}, err
	}
	if !ok {
		return Status{Queued: false, QueueSize: size}, nil
	}
	return Status{
		Queued:        true,
		Position:      rank + 1,
		QueueSize:     size,
		EstimatedWait: time.Duration(rank+1) * s.cfg.DrainInterval,
	}, nil
}
