// Package redisq holds the Redis-backed ingress structures: the admission
// queue sorted set, the in-flight order counter, the ingress rate limiter,
// and the HTTP idempotency-key reservations.
package redisq

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	queueKey    = "admission:queue"
	inflightKey = "admission:inflight"
)

// Queue is the ordered admission set. The score is the submission
// timestamp in unix milliseconds, so ascending rank equals FIFO.
type Queue struct {
	rdb *redis.Client
}

// NewQueue creates the admission queue.
func NewQueue(rdb *redis.Client) *Queue {
	return &Queue{rdb: rdb}
}

// Enqueue adds orderID at its submission timestamp. Re-enqueueing an
// existing member keeps its original score, preserving its place.
func (q *Queue) Enqueue(ctx context.Context, orderID string, submittedAt time.Time) error {
	err := q.rdb.ZAddNX(ctx, queueKey, redis.Z{
		Score:  float64(submittedAt.UnixMilli()),
		Member: orderID,
	}).Err()
	if err != nil {
		return fmt.Errorf("enqueue order %s: %w", orderID, err)
	}
	return nil
}

// Rank returns the zero-based position of orderID, or ok=false when the
// order is not queued. The lookup is logarithmic in the set size.
func (q *Queue) Rank(ctx context.Context, orderID string) (int64, bool, error) {
	rank, err := q.rdb.ZRank(ctx, queueKey, orderID).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("rank of order %s: %w", orderID, err)
	}
	return rank, true, nil
}

// Size returns the number of queued orders.
func (q *Queue) Size(ctx context.Context) (int64, error) {
	n, err := q.rdb.ZCard(ctx, queueKey).Result()
	if err != nil {
		return 0, fmt.Errorf("queue size: %w", err)
	}
	return n, nil
}

// PopMin atomically removes and returns the earliest-submitted order and
// its submission time, or ok=false when the queue is empty. The caller
// re-enqueues with the returned time on failure so the order keeps its
// place.
func (q *Queue) PopMin(ctx context.Context) (string, time.Time, bool, error) {
	zs, err := q.rdb.ZPopMin(ctx, queueKey, 1).Result()
	if err != nil {
		return "", time.Time{}, false, fmt.Errorf("pop admission queue: %w", err)
	}
	if len(zs) == 0 {
		return "", time.Time{}, false, nil
	}
	orderID, _ := zs[0].Member.(string)
	return orderID, time.UnixMilli(int64(zs[0].Score)), true, nil
}

// IncrInflight bumps the in-flight order counter and returns it.
func (q *Queue) IncrInflight(ctx context.Context) (int64, error) {
	n, err := q.rdb.Incr(ctx, inflightKey).Result()
	if err != nil {
		return 0, fmt.Errorf("incr inflight: %w", err)
	}
	return n, nil
}

// decrScript lowers the counter, clamped at zero.
var decrScript = redis.NewScript(`
local v = redis.call("DECR", KEYS[1])
if v < 0 then
	redis.call("SET", KEYS[1], 0)
	return 0
end
return v
`)

// DecrInflight decrements the in-flight order counter.
func (q *Queue) DecrInflight(ctx context.Context) (int64, error) {
	n, err := decrScript.Run(ctx, q.rdb, []string{inflightKey}).Int64()
	if err != nil {
		return 0, fmt.Errorf("decr inflight: %w", err)
	}
	return n, nil
}

// Inflight returns the current in-flight order count.
func (q *Queue) Inflight(ctx context.Context) (int64, error) {
	n, err := q.rdb.Get(ctx, inflightKey).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get inflight: %w", err)
	}
	return n, nil
}
