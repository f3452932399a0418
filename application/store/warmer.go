package store

import (
	"context"
	"database/sql"
	"time"

	"food_order/infrastructure/cache"
	"food_order/infrastructure/redislock"
	"food_order/infrastructure/repository"
	"food_order/pkg/logging"
)

// WarmerConfig controls the cache warmer.
type WarmerConfig struct {
	JobName        string
	Interval       time.Duration
	LockAtMostFor  time.Duration
	LockAtLeastFor time.Duration
}

// DefaultWarmerConfig returns the standard warmer policy.
func DefaultWarmerConfig() WarmerConfig {
	return WarmerConfig{
		JobName:        "store-cache-warmer",
		Interval:       5 * time.Minute,
		LockAtMostFor:  2 * time.Minute,
		LockAtLeastFor: 30 * time.Second,
	}
}

// Warmer pre-populates the cache with the active working set (open
// stores) at startup and on an interval, under the leader lock so only
// one instance hits storage.
type Warmer struct {
	cfg    WarmerConfig
	db     *sql.DB
	repo   *repository.StoreRepository
	cache  *cache.StoreCache
	leader *redislock.ScheduledLock
}

// NewWarmer creates the warmer.
func NewWarmer(cfg WarmerConfig, db *sql.DB, repo *repository.StoreRepository, c *cache.StoreCache, leader *redislock.ScheduledLock) *Warmer {
	return &Warmer{cfg: cfg, db: db, repo: repo, cache: c, leader: leader}
}

// Start warms once immediately, then on the interval, until ctx ends.
func (w *Warmer) Start(ctx context.Context) error {
	log := logging.WithComponent("store-warmer")

	if _, err := w.leader.RunLocked(ctx, w.cfg.JobName, w.cfg.LockAtMostFor, w.cfg.LockAtLeastFor, w.warm); err != nil {
		log.Error().Err(err).Msg("initial warm failed")
	}

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := w.leader.RunLocked(ctx, w.cfg.JobName, w.cfg.LockAtMostFor, w.cfg.LockAtLeastFor, w.warm); err != nil {
				log.Error().Err(err).Msg("warm failed")
			}
		}
	}
}

func (w *Warmer) warm(ctx context.Context) error {
	log := logging.WithComponent("store-warmer")

	ids, err := w.repo.ListOpenIDs(ctx, w.db)
	if err != nil {
		return err
	}
	warmed := 0
	for _, id := range ids {
		s, err := w.repo.GetWithMenus(ctx, w.db, id)
		if err != nil {
			log.Warn().Err(err).Int64("store_id", id).Msg("skip store")
			continue
		}
		if err := w.cache.SetStoreWithMenus(ctx, s); err != nil {
			return err
		}
		warmed++
	}
	log.Info().Int("stores", warmed).Msg("cache warmed")
	return nil
}
