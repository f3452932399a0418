// Package resilience wraps cross-service calls in a fixed policy
// composition: Retry → CircuitBreaker → Bulkhead → Timeout → call, with an
// optional per-call-site fallback. Every outgoing network call in the
// system goes through an Envelope.
package resilience

import (
	"context"
	"errors"
	"time"

	"food_order/pkg/apperr"
)

// Call is the unit of work an Envelope protects.
type Call func(ctx context.Context) error

// Fallback produces a degraded result after the envelope is exhausted.
// Returning a non-nil error surfaces that error instead.
type Fallback func(ctx context.Context, cause error) error

// Config bundles the layer configs for one call site.
type Config struct {
	Retry    RetryConfig
	Breaker  BreakerConfig
	Bulkhead BulkheadConfig
	Timeout  time.Duration
}

// DefaultConfig returns the standard envelope policy.
func DefaultConfig() Config {
	return Config{
		Retry:    DefaultRetryConfig(),
		Breaker:  DefaultBreakerConfig(),
		Bulkhead: DefaultBulkheadConfig(),
		Timeout:  5 * time.Second,
	}
}

// Envelope is the reusable policy composition for one named dependency.
type Envelope struct {
	name     string
	retry    *Retry
	breaker  *Breaker
	bulkhead *Bulkhead
	timeout  time.Duration
	fallback Fallback
}

// New creates an envelope for the named dependency.
func New(name string, cfg Config) *Envelope {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &Envelope{
		name:     name,
		retry:    NewRetry(cfg.Retry),
		breaker:  NewBreaker(name, cfg.Breaker),
		bulkhead: NewBulkhead(name, cfg.Bulkhead),
		timeout:  cfg.Timeout,
	}
}

// WithFallback attaches a fallback and returns the envelope.
func (e *Envelope) WithFallback(fb Fallback) *Envelope {
	e.fallback = fb
	return e
}

// Breaker exposes the breaker, mainly for state inspection in health checks.
func (e *Envelope) Breaker() *Breaker { return e.breaker }

// Do runs call through the full composition.
func (e *Envelope) Do(ctx context.Context, call Call) error {
	err := e.retry.Do(ctx, func(ctx context.Context) error {
		return e.breaker.Do(ctx, func(ctx context.Context) error {
			return e.bulkhead.Do(ctx, func(ctx context.Context) error {
				tctx, cancel := context.WithTimeout(ctx, e.timeout)
				defer cancel()
				cerr := call(tctx)
				if cerr != nil && errors.Is(cerr, context.DeadlineExceeded) {
					return apperr.Wrap(apperr.RequestTimeout, e.name+" call deadline elapsed", cerr)
				}
				return cerr
			})
		})
	})
	if err != nil && e.fallback != nil {
		return e.fallback(ctx, err)
	}
	return err
}
