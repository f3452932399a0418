package outbox

import (
	"context"
	"database/sql"
	"time"

	"food_order/infrastructure/messaging"
	"food_order/infrastructure/postgres"
	"food_order/pkg/logging"
	"food_order/pkg/metrics"
)

// RecordSource is the slice of Store the relay needs.
type RecordSource interface {
	FetchUnpublished(ctx context.Context, q postgres.Querier, limit int) ([]Record, error)
	MarkPublished(ctx context.Context, q postgres.Querier, id int64) error
}

// LeaderLock gates a relay tick to one instance per process group.
type LeaderLock interface {
	RunLocked(ctx context.Context, name string, lockAtMostFor, lockAtLeastFor time.Duration, job func(ctx context.Context) error) (bool, error)
}

// RelayConfig controls the relay.
type RelayConfig struct {
	// JobName names the leader lock; one per service schema.
	JobName   string
	Interval  time.Duration
	BatchSize int
	// LockAtMostFor bounds an orphaned lease; LockAtLeastFor damps
	// re-acquisition storms after short ticks.
	LockAtMostFor  time.Duration
	LockAtLeastFor time.Duration
}

// DefaultRelayConfig returns the standard relay policy for a service.
func DefaultRelayConfig(jobName string) RelayConfig {
	return RelayConfig{
		JobName:        jobName,
		Interval:       200 * time.Millisecond,
		BatchSize:      200,
		LockAtMostFor:  30 * time.Second,
		LockAtLeastFor: 100 * time.Millisecond,
	}
}

// Relay polls unpublished records under the leader lock and publishes them
// in creation order, keyed by aggregate id. Delivery is at-least-once: a
// crash between publish and mark-published yields a duplicate the
// consumer-side idempotency ledger absorbs.
type Relay struct {
	cfg    RelayConfig
	db     *sql.DB
	store  RecordSource
	bus    messaging.Bus
	leader LeaderLock
}

// NewRelay creates a relay.
func NewRelay(cfg RelayConfig, db *sql.DB, store RecordSource, bus messaging.Bus, leader LeaderLock) *Relay {
	return &Relay{cfg: cfg, db: db, store: store, bus: bus, leader: leader}
}

// Start runs the relay loop until ctx is cancelled.
func (r *Relay) Start(ctx context.Context) error {
	log := logging.WithComponent("outbox-relay")
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	log.Info().Str("job", r.cfg.JobName).Msg("outbox relay started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("outbox relay stopped")
			return nil
		case <-ticker.C:
			ran, err := r.leader.RunLocked(ctx, r.cfg.JobName, r.cfg.LockAtMostFor, r.cfg.LockAtLeastFor, r.tick)
			if err != nil {
				log.Error().Err(err).Msg("relay tick failed")
			}
			_ = ran // not leader this tick: nothing to do
		}
	}
}

// tick publishes one batch. On the first publish failure it stops: a later
// success would permanently reorder earlier unpublished records of the
// same aggregate. The next tick retries from the failed record.
func (r *Relay) tick(ctx context.Context) error {
	log := logging.WithComponent("outbox-relay")

	records, err := r.store.FetchUnpublished(ctx, r.db, r.cfg.BatchSize)
	if err != nil {
		return err
	}
	metrics.OutboxPending.Set(float64(len(records)))
	if len(records) == 0 {
		return nil
	}

	published := 0
	for _, rec := range records {
		msg := messaging.Message{
			Key:  rec.AggregateID,
			Type: rec.EventType,
			Body: rec.Payload,
		}
		if err := r.bus.Publish(ctx, messaging.BindingFor(rec.EventType), msg); err != nil {
			metrics.OutboxPublishFailures.Inc()
			log.Error().Err(err).Int64("record_id", rec.ID).
				Str("event_type", rec.EventType).Msg("publish failed, stopping batch")
			break
		}
		if err := r.store.MarkPublished(ctx, r.db, rec.ID); err != nil {
			// the record was published; stopping here means it will be
			// re-published next tick as an idempotent duplicate
			log.Error().Err(err).Int64("record_id", rec.ID).Msg("mark published failed, stopping batch")
			break
		}
		metrics.OutboxPublished.Inc()
		published++
	}

	if published > 0 {
		log.Debug().Int("published", published).Int("batch", len(records)).Msg("relay tick")
	}
	return nil
}
