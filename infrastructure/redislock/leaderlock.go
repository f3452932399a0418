package redislock

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"food_order/pkg/logging"
	"food_order/pkg/uuid"
)

// ScheduledLock ensures at most one instance of a process group runs a
// named periodic job. lockAtMostFor bounds how long an orphaned lease can
// block the job after a crash; lockAtLeastFor keeps the lease after a very
// short run so peers don't storm the lock.
//
// Correctness of the guarded jobs does not depend on singleton execution
// (duplicate relay runs only produce duplicate deliveries the idempotency
// ledger absorbs); throughput and broker cost do.
type ScheduledLock struct {
	rdb *redis.Client
}

// NewScheduledLock creates a leader lock provider.
func NewScheduledLock(rdb *redis.Client) *ScheduledLock {
	return &ScheduledLock{rdb: rdb}
}

// shrinkScript trims the lease TTL only when this caller still owns it, so
// an expired holder cannot shorten a successor's lease.
var shrinkScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// held is one acquisition of a named job lock.
type held struct {
	key        string
	owner      string
	acquiredAt time.Time
	atLeastFor time.Duration
}

// acquire takes the job lock or returns nil when another instance holds it.
func (s *ScheduledLock) acquire(ctx context.Context, name string, lockAtMostFor, lockAtLeastFor time.Duration) (*held, error) {
	owner := uuid.New()
	key := "leader:" + name
	ok, err := s.rdb.SetNX(ctx, key, owner, lockAtMostFor).Result()
	if err != nil || !ok {
		return nil, err
	}
	return &held{key: key, owner: owner, acquiredAt: time.Now(), atLeastFor: lockAtLeastFor}, nil
}

// release lets the lease live out lockAtLeastFor, then deletes it if this
// instance still owns it.
func (s *ScheduledLock) release(ctx context.Context, h *held) {
	if h == nil {
		return
	}
	if remaining := h.atLeastFor - time.Since(h.acquiredAt); remaining > 0 {
		// shrink the lease to the at-least deadline instead of sleeping
		err := shrinkScript.Run(ctx, s.rdb, []string{h.key}, h.owner, remaining.Milliseconds()).Err()
		if err != nil && err != redis.Nil {
			lg1 := logging.WithComponent("leaderlock")
			lg1.Warn().Err(err).Str("job", h.key).Msg("shrink lease failed")
		}
		return
	}
	if err := releaseScript.Run(ctx, s.rdb, []string{h.key}, h.owner).Err(); err != nil && err != redis.Nil {
		lg2 := logging.WithComponent("leaderlock")
		lg2.Warn().Err(err).Str("job", h.key).Msg("release failed")
	}
}

// RunLocked executes job only when this instance wins the named lock. It
// returns true when the job ran. The job receives a context bounded by
// lockAtMostFor so an overlong iteration cannot outlive its lease.
func (s *ScheduledLock) RunLocked(ctx context.Context, name string, lockAtMostFor, lockAtLeastFor time.Duration, job func(ctx context.Context) error) (bool, error) {
	h, err := s.acquire(ctx, name, lockAtMostFor, lockAtLeastFor)
	if err != nil {
		return false, err
	}
	if h == nil {
		return false, nil
	}
	defer s.release(ctx, h)

	jctx, cancel := context.WithTimeout(ctx, lockAtMostFor)
	defer cancel()
	return true, job(jctx)
}
