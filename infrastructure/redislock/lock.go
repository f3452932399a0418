// Package redislock provides the coordination primitives backed by Redis:
// the advisory lease lock, the fencing counter, and the scheduled leader
// lock for singleton jobs.
//
// The advisory lock is a contention hint only. A lease can be held by two
// writers after a GC pause or clock skew; guarded writes stay correct
// because the store rejects stale fencing tokens, never because a lock
// was held.
package redislock

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"food_order/pkg/uuid"
)

// releaseScript deletes the lock only when this caller still owns it, so
// an expired holder cannot release a successor's lease.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Lock is a lease-based advisory mutex.
type Lock struct {
	rdb *redis.Client
}

// NewLock creates an advisory lock service.
func NewLock(rdb *redis.Client) *Lock {
	return &Lock{rdb: rdb}
}

// Lease identifies one acquisition; release requires it.
type Lease struct {
	Key   string
	Owner string
}

// TryLock attempts to acquire key, polling until waitBudget elapses. It
// returns (nil, nil) when the lock could not be acquired in time.
func (l *Lock) TryLock(ctx context.Context, key string, waitBudget, leaseDuration time.Duration) (*Lease, error) {
	owner := uuid.New()
	deadline := time.Now().Add(waitBudget)

	for {
		ok, err := l.rdb.SetNX(ctx, key, owner, leaseDuration).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			return &Lease{Key: key, Owner: owner}, nil
		}
		if time.Now().After(deadline) {
			return nil, nil
		}
		select {
		case <-time.After(50 * time.Millisecond):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Unlock releases the lease if this caller still holds it.
func (l *Lock) Unlock(ctx context.Context, lease *Lease) error {
	if lease == nil {
		return nil
	}
	if err := releaseScript.Run(ctx, l.rdb, []string{lease.Key}, lease.Owner).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("release lock %s: %w", lease.Key, err)
	}
	return nil
}
