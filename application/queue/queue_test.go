package queue

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore is an in-memory stand-in for the Redis queue.
type memStore struct {
	entries  map[string]time.Time
	inflight int64
}

func newMemStore() *memStore { return &memStore{entries: map[string]time.Time{}} }

func (m *memStore) Enqueue(ctx context.Context, orderID string, submittedAt time.Time) error {
	m.entries[orderID] = submittedAt
	return nil
}

func (m *memStore) sorted() []string {
	ids := make([]string, 0, len(m.entries))
	for id := range m.entries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return m.entries[ids[i]].Before(m.entries[ids[j]])
	})
	return ids
}

func (m *memStore) Rank(ctx context.Context, orderID string) (int64, bool, error) {
	for i, id := range m.sorted() {
		if id == orderID {
			return int64(i), true, nil
		}
	}
	return 0, false, nil
}

func (m *memStore) Size(ctx context.Context) (int64, error) {
	return int64(len(m.entries)), nil
}

func (m *memStore) Inflight(ctx context.Context) (int64, error) { return m.inflight, nil }

func (m *memStore) IncrInflight(ctx context.Context) (int64, error) {
	m.inflight++
	return m.inflight, nil
}

func (m *memStore) PopMin(ctx context.Context) (string, time.Time, bool, error) {
	ids := m.sorted()
	if len(ids) == 0 {
		return "", time.Time{}, false, nil
	}
	id := ids[0]
	at := m.entries[id]
	delete(m.entries, id)
	return id, at, true, nil
}

func TestActivePolicy(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	svc := NewService(store, Config{InflightThreshold: 3, DrainInterval: time.Second})

	active, err := svc.Active(ctx)
	require.NoError(t, err)
	assert.False(t, active)

	store.inflight = 3
	active, err = svc.Active(ctx)
	require.NoError(t, err)
	assert.True(t, active, "at the threshold new orders queue")

	// inflight drops but the queue is not drained yet: stay active so
	// queued orders keep their place in line
	store.inflight = 0
	require.NoError(t, svc.Enqueue(ctx, "order-1", time.Now()))
	active, err = svc.Active(ctx)
	require.NoError(t, err)
	assert.True(t, active)
}

func TestPosition(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	svc := NewService(store, Config{InflightThreshold: 1, DrainInterval: 2 * time.Second})

	base := time.Now()
	require.NoError(t, svc.Enqueue(ctx, "order-a", base))
	require.NoError(t, svc.Enqueue(ctx, "order-b", base.Add(time.Millisecond)))
	require.NoError(t, svc.Enqueue(ctx, "order-c", base.Add(2*time.Millisecond)))

	st, err := svc.Position(ctx, "order-b")
	require.NoError(t, err)
	assert.True(t, st.Queued)
	assert.Equal(t, int64(2), st.Position)
	assert.Equal(t, int64(3), st.QueueSize)
	assert.Equal(t, 4*time.Second, st.EstimatedWait)

	st, err = svc.Position(ctx, "order-released")
	require.NoError(t, err)
	assert.False(t, st.Queued)
	assert.Zero(t, st.Position)
}

type stubReleaser struct {
	released []string
	fail     map[string]error
}

func (s *stubReleaser) ReleaseQueuedOrder(ctx context.Context, orderID string) error {
	if err := s.fail[orderID]; err != nil {
		return err
	}
	s.released = append(s.released, orderID)
	return nil
}

func TestDrainOneReleasesOldestFirst(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	rel := &stubReleaser{}
	d := NewDequeuer(store, nil, rel, time.Second, zerolog.Nop())

	base := time.Now()
	require.NoError(t, store.Enqueue(ctx, "order-late", base.Add(time.Second)))
	require.NoError(t, store.Enqueue(ctx, "order-early", base))

	require.NoError(t, d.drainOne(ctx))
	require.NoError(t, d.drainOne(ctx))
	assert.Equal(t, []string{"order-early", "order-late"}, rel.released)

	// empty queue is a quiet no-op
	require.NoError(t, d.drainOne(ctx))
	assert.Len(t, rel.released, 2)
}

func TestDrainOneReenqueuesOnFailure(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	rel := &stubReleaser{fail: map[string]error{"order-1": errors.New("db down")}}
	d := NewDequeuer(store, nil, rel, time.Second, zerolog.Nop())

	submitted := time.Now().Add(-time.Minute)
	require.NoError(t, store.Enqueue(ctx, "order-1", submitted))

	err := d.drainOne(ctx)
	require.Error(t, err)

	// back in the queue with its original submission time, so a retry
	// does not push it behind newer orders
	at, ok := store.entries["order-1"]
	require.True(t, ok)
	assert.Equal(t, submitted, at)
}
