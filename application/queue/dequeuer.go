package queue

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"food_order/pkg/metrics"
)

// PopStore is the queue surface the dequeuer drains.
type PopStore interface {
	PopMin(ctx context.Context) (string, time.Time, bool, error)
	Enqueue(ctx context.Context, orderID string, submittedAt time.Time) error
	Size(ctx context.Context) (int64, error)
}

// LeaderLock serializes draining across replicas.
type LeaderLock interface {
	RunLocked(ctx context.Context, name string, lockAtMostFor, lockAtLeastFor time.Duration, job func(ctx context.Context) error) (bool, error)
}

// Releaser pushes a queued order into payment processing.
type Releaser interface {
	ReleaseQueuedOrder(ctx context.Context, orderID string) error
}

const dequeuerLockName = "admission-dequeuer"

// Dequeuer drains the admission queue one order per tick, oldest first.
// Only one replica drains at a time; a failed release puts the order back
// with its original submission time.
type Dequeuer struct {
	store    PopStore
	lock     LeaderLock
	releaser Releaser
	interval time.Duration
	log      zerolog.Logger
}

func NewDequeuer(store PopStore, lock LeaderLock, releaser Releaser, interval time.Duration, log zerolog.Logger) *Dequeuer {
	if interval <= 0 {
		interval = DefaultConfig().DrainInterval
	}
	return &Dequeuer{
		store:    store,
		lock:     lock,
		releaser: releaser,
		interval: interval,
		log:      log.With().Str("component", "admission-dequeuer").Logger(),
	}
}

// Start drains until ctx is cancelled.
func (d *Dequeuer) Start(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	d.log.Info().Dur("interval", d.interval).Msg("admission dequeuer started")
	for {
		select {
		case <-ctx.Done():
			d.log.Info().Msg("admission dequeuer stopped")
			return
		case <-ticker.C:
			if _, err := d.lock.RunLocked(ctx, dequeuerLockName, 10*time.Second, 0, d.drainOne); err != nil && ctx.Err() == nil {
				d.log.Error().Err(err).Msg("drain tick failed")
			}
		}
	}
}

func (d *Dequeuer) drainOne(ctx context.Context) error {
	orderID, submittedAt, ok, err := d.store.PopMin(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if err := d.releaser.ReleaseQueuedOrder(ctx, orderID); err != nil {
		d.log.Error().Err(err).Str("order_id", orderID).Msg("release failed, re-enqueueing")
		if reErr := d.store.Enqueue(ctx, orderID, submittedAt); reErr != nil {
			d.log.Error().Err(reErr).Str("order_id", orderID).Msg("re-enqueue failed, order dropped from queue")
		}
		return err
	}
	if size, sErr := d.store.Size(ctx); sErr == nil {
		metrics.QueueDepth.Set(float64(size))
	}
	d.log.Info().Str("order_id", orderID).Msg("order released from admission queue")
	return nil
}
