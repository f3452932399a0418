package redislock

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// FencingCounter issues monotonically increasing tokens per contended
// resource. The counter key never expires, so tokens stay monotonic across
// restarts (Redis persistence makes them durable). The token is attached
// to guarded writes; the store's conditional update rejects any write
// carrying a token smaller than the last applied one.
type FencingCounter struct {
	rdb *redis.Client
}

// NewFencingCounter creates a fencing counter service.
func NewFencingCounter(rdb *redis.Client) *FencingCounter {
	return &FencingCounter{rdb: rdb}
}

// Next increments and returns the token for resource.
func (f *FencingCounter) Next(ctx context.Context, resource string) (int64, error) {
	token, err := f.rdb.Incr(ctx, "fencing:"+resource).Result()
	if err != nil {
		return 0, fmt.Errorf("next fencing token for %s: %w", resource, err)
	}
	return token, nil
}
