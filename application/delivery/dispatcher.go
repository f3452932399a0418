package delivery

import (
	"context"
	"sync"

	"food_order/pkg/apperr"
)

// PoolDispatcher hands out riders from a fixed pool, round robin. It
// stands in for a real dispatch system; an empty pool rejects every
// assignment, which is how rider shortage is simulated in tests.
type PoolDispatcher struct {
	mu     sync.Mutex
	riders []string
	next   int
}

func NewPoolDispatcher(riders []string) *PoolDispatcher {
	return &PoolDispatcher{riders: riders}
}

// AssignRider picks the next rider in rotation.
func (p *PoolDispatcher) AssignRider(ctx context.Context, orderID, address string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.riders) == 0 {
		return "", apperr.New(apperr.ServiceUnavailable, "no riders available")
	}
	r := p.riders[p.next%len(p.riders)]
	p.next++
	return r, nil
}
