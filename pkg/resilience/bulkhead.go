package resilience

import (
	"context"
	"time"

	"food_order/pkg/apperr"
)

// BulkheadConfig controls the concurrency isolation layer.
type BulkheadConfig struct {
	MaxConcurrent int
	MaxWait       time.Duration
}

// DefaultBulkheadConfig returns the standard bulkhead policy: 20 concurrent
// calls, 500 ms admission wait.
func DefaultBulkheadConfig() BulkheadConfig {
	return BulkheadConfig{MaxConcurrent: 20, MaxWait: 500 * time.Millisecond}
}

// Bulkhead bounds the number of concurrent calls to a dependency. Excess
// callers wait up to MaxWait for a slot, then fail fast with BulkheadFull.
type Bulkhead struct {
	name  string
	slots chan struct{}
	wait  time.Duration
}

// NewBulkhead creates a bulkhead with the given name and config.
func NewBulkhead(name string, cfg BulkheadConfig) *Bulkhead {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 20
	}
	return &Bulkhead{
		name:  name,
		slots: make(chan struct{}, cfg.MaxConcurrent),
		wait:  cfg.MaxWait,
	}
}

// Do runs call inside the bulkhead.
func (b *Bulkhead) Do(ctx context.Context, call func(ctx context.Context) error) error {
	select {
	case b.slots <- struct{}{}:
	default:
		t := time.NewTimer(b.wait)
		defer t.Stop()
		select {
		case b.slots <- struct{}{}:
		case <-t.C:
			return apperr.Newf(apperr.BulkheadFull, "bulkhead %q full", b.name)
		case <-ctx.Done():
			return apperr.Wrap(apperr.RequestTimeout, "cancelled waiting for bulkhead slot", ctx.Err())
		}
	}
	defer func() { <-b.slots }()
	return call(ctx)
}

// InUse returns the number of occupied slots.
func (b *Bulkhead) InUse() int {
	return len(b.slots)
}
