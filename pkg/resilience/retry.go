package resilience

import (
	"context"
	"math/rand"
	"time"

	"food_order/pkg/apperr"
)

// RetryConfig controls the retry layer.
type RetryConfig struct {
	Attempts int
	Base     time.Duration
	Factor   float64
}

// DefaultRetryConfig returns the standard retry policy: 3 attempts,
// 500 ms base delay, doubling between attempts.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{Attempts: 3, Base: 500 * time.Millisecond, Factor: 2}
}

// Retry re-executes a failing call with exponential backoff. Only callers
// whose downstream effect is idempotent (or idempotency-keyed) should wrap
// a call in Retry.
type Retry struct {
	cfg   RetryConfig
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRetry creates a retry layer with the given config.
func NewRetry(cfg RetryConfig) *Retry {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 1
	}
	if cfg.Factor < 1 {
		cfg.Factor = 1
	}
	return &Retry{cfg: cfg, sleep: sleepCtx}
}

// Do runs call, retrying transient failures. Permanent failures (invalid
// input, missing entities, duplicates, stale fencing tokens) are returned
// immediately.
func (r *Retry) Do(ctx context.Context, call func(ctx context.Context) error) error {
	delay := r.cfg.Base
	var err error

	for attempt := 1; attempt <= r.cfg.Attempts; attempt++ {
		err = call(ctx)
		if err == nil {
			return nil
		}
		if !IsRetryable(err) || attempt == r.cfg.Attempts {
			return err
		}

		// full jitter on top of the exponential step
		d := delay + time.Duration(rand.Int63n(int64(delay)/2+1))
		if serr := r.sleep(ctx, d); serr != nil {
			return serr
		}
		delay = time.Duration(float64(delay) * r.cfg.Factor)
	}
	return err
}

// IsRetryable reports whether a failed call may be attempted again.
// Open-breaker and full-bulkhead rejections are not retried; a backoff
// inside the envelope would sit on the same closed gate without ever
// reaching the downstream.
func IsRetryable(err error) bool {
	switch apperr.KindOf(err) {
	case apperr.InvalidInput,
		apperr.EntityNotFound,
		apperr.InvalidStateTransition,
		apperr.DuplicateRequest,
		apperr.StaleLock,
		apperr.RateLimitExceeded,
		apperr.CircuitBreakerOpen,
		apperr.BulkheadFull:
		return false
	}
	return true
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return apperr.Wrap(apperr.RequestTimeout, "cancelled during backoff", ctx.Err())
	}
}
