package redisq

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RequestKeys reserves HTTP Idempotency-Key values. A reservation lives
// for the dedup window; a second request with the same key inside the
// window is a duplicate.
type RequestKeys struct {
	rdb    *redis.Client
	window time.Duration
}

// NewRequestKeys creates the reservation store with a 24 h dedup window.
func NewRequestKeys(rdb *redis.Client) *RequestKeys {
	return &RequestKeys{rdb: rdb, window: 24 * time.Hour}
}

// Reserve claims key for orderID. It returns false when the key is
// already reserved inside the window.
func (k *RequestKeys) Reserve(ctx context.Context, key, orderID string) (bool, error) {
	ok, err := k.rdb.SetNX(ctx, "idemkey:"+key, orderID, k.window).Result()
	if err != nil {
		return false, fmt.Errorf("reserve idempotency key: %w", err)
	}
	return ok, nil
}

// Release frees a reservation after the guarded write failed, so the
// caller may retry with the same key.
func (k *RequestKeys) Release(ctx context.Context, key string) error {
	if err := k.rdb.Del(ctx, "idemkey:"+key).Err(); err != nil {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}
