package resilience

import (
	"context"
	"sync"
	"time"

	"food_order/pkg/apperr"
	"food_order/pkg/metrics"
)

// BreakerState is the circuit breaker state.
type BreakerState int

const (
	StateClosed BreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// BreakerConfig controls the circuit breaker.
type BreakerConfig struct {
	// WindowSize is the number of recent calls considered for the
	// failure-rate decision.
	WindowSize int
	// FailureThreshold opens the circuit when the window's failure rate
	// reaches it (0..1).
	FailureThreshold float64
	// OpenFor is how long the circuit stays open before probing.
	OpenFor time.Duration
}

// DefaultBreakerConfig returns the standard breaker policy: a 10-call
// window, 50% failure threshold, 30 s open interval.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{WindowSize: 10, FailureThreshold: 0.5, OpenFor: 30 * time.Second}
}

// Breaker is a count-window circuit breaker. CLOSED passes calls through
// and records outcomes; when the window is full and the failure rate
// reaches the threshold it moves to OPEN and fails fast. After OpenFor it
// admits a single probe (HALF_OPEN); the probe's outcome decides between
// CLOSED and OPEN.
type Breaker struct {
	name string
	cfg  BreakerConfig
	now  func() time.Time

	mu       sync.Mutex
	state    BreakerState
	window   []bool // true = failure
	openedAt time.Time
	probing  bool
}

// NewBreaker creates a circuit breaker with the given name and config.
func NewBreaker(name string, cfg BreakerConfig) *Breaker {
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = 10
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 0.5
	}
	if cfg.OpenFor <= 0 {
		cfg.OpenFor = 30 * time.Second
	}
	b := &Breaker{name: name, cfg: cfg, now: time.Now}
	b.setState(StateClosed)
	return b
}

// State returns the current state, applying the OPEN → HALF_OPEN timer.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentState()
}

// Do runs call under the breaker.
func (b *Breaker) Do(ctx context.Context, call func(ctx context.Context) error) error {
	if err := b.admit(); err != nil {
		return err
	}
	err := call(ctx)
	b.record(err != nil && countsAsFailure(err))
	return err
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.currentState() {
	case StateOpen:
		return apperr.Newf(apperr.CircuitBreakerOpen, "circuit %q open", b.name)
	case StateHalfOpen:
		if b.probing {
			return apperr.Newf(apperr.CircuitBreakerOpen, "circuit %q probing", b.name)
		}
		b.probing = true
	}
	return nil
}

func (b *Breaker) record(failed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.currentState() == StateHalfOpen {
		b.probing = false
		if failed {
			b.openedAt = b.now()
			b.setState(StateOpen)
		} else {
			b.window = nil
			b.setState(StateClosed)
		}
		return
	}

	b.window = append(b.window, failed)
	if len(b.window) > b.cfg.WindowSize {
		b.window = b.window[len(b.window)-b.cfg.WindowSize:]
	}
	if len(b.window) < b.cfg.WindowSize {
		return
	}

	failures := 0
	for _, f := range b.window {
		if f {
			failures++
		}
	}
	if float64(failures)/float64(len(b.window)) >= b.cfg.FailureThreshold {
		b.openedAt = b.now()
		b.window = nil
		b.setState(StateOpen)
	}
}

// currentState must be called with mu held.
func (b *Breaker) currentState() BreakerState {
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cfg.OpenFor {
		b.setState(StateHalfOpen)
	}
	return b.state
}

func (b *Breaker) setState(s BreakerState) {
	b.state = s
	metrics.BreakerState.WithLabelValues(b.name).Set(float64(s))
}

// countsAsFailure excludes caller-side errors from the failure rate: a 400
// from a healthy dependency must not open the circuit.
func countsAsFailure(err error) bool {
	switch apperr.KindOf(err) {
	case apperr.InvalidInput,
		apperr.EntityNotFound,
		apperr.InvalidStateTransition,
		apperr.DuplicateRequest,
		apperr.StaleLock:
		return false
	}
	return true
}
