package outbox

import (
	"context"
	"database/sql"
	"time"

	"food_order/infrastructure/idempotency"
	"food_order/pkg/logging"
)

// CleanupConfig controls the retention sweeper.
type CleanupConfig struct {
	JobName string
	// Interval between sweeps.
	Interval time.Duration
	// OutboxRetention keeps published outbox rows for auditing.
	OutboxRetention time.Duration
	// LedgerRetention keeps processed-event rows; it must exceed the
	// broker's maximum redelivery window or a late redelivery would be
	// applied twice.
	LedgerRetention time.Duration
	LockAtMostFor   time.Duration
	LockAtLeastFor  time.Duration
}

// DefaultCleanupConfig returns the standard retention policy.
func DefaultCleanupConfig(jobName string) CleanupConfig {
	return CleanupConfig{
		JobName:         jobName,
		Interval:        time.Hour,
		OutboxRetention: 7 * 24 * time.Hour,
		LedgerRetention: 14 * 24 * time.Hour,
		LockAtMostFor:   5 * time.Minute,
		LockAtLeastFor:  time.Minute,
	}
}

// Cleanup removes published outbox rows and stale ledger rows past their
// retention windows. The relay never deletes; only this sweeper does.
type Cleanup struct {
	cfg    CleanupConfig
	db     *sql.DB
	store  *Store
	ledger *idempotency.Ledger
	leader LeaderLock
}

// NewCleanup creates the retention sweeper.
func NewCleanup(cfg CleanupConfig, db *sql.DB, store *Store, ledger *idempotency.Ledger, leader LeaderLock) *Cleanup {
	return &Cleanup{cfg: cfg, db: db, store: store, ledger: ledger, leader: leader}
}

// Start runs the sweep loop until ctx is cancelled.
func (c *Cleanup) Start(ctx context.Context) error {
	log := logging.WithComponent("outbox-cleanup")
	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			_, err := c.leader.RunLocked(ctx, c.cfg.JobName, c.cfg.LockAtMostFor, c.cfg.LockAtLeastFor, c.sweep)
			if err != nil {
				log.Error().Err(err).Msg("cleanup sweep failed")
			}
		}
	}
}

func (c *Cleanup) sweep(ctx context.Context) error {
	log := logging.WithComponent("outbox-cleanup")
	now := time.Now()

	outboxRemoved, err := c.store.DeletePublishedBefore(ctx, c.db, now.Add(-c.cfg.OutboxRetention))
	if err != nil {
		return err
	}
	ledgerRemoved, err := c.ledger.DeleteProcessedBefore(ctx, c.db, now.Add(-c.cfg.LedgerRetention))
	if err != nil {
		return err
	}

	if outboxRemoved > 0 || ledgerRemoved > 0 {
		log.Info().Int64("outbox_rows", outboxRemoved).
			Int64("ledger_rows", ledgerRemoved).Msg("retention sweep")
	}
	return nil
}
