package outbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"food_order/infrastructure/messaging"
	"food_order/infrastructure/postgres"
)

// memSource serves records from memory and tracks mark-published calls.
type memSource struct {
	records []Record
	marked  []int64
}

func (m *memSource) FetchUnpublished(ctx context.Context, q postgres.Querier, limit int) ([]Record, error) {
	var out []Record
	for _, r := range m.records {
		if !r.Published && len(out) < limit {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memSource) MarkPublished(ctx context.Context, q postgres.Querier, id int64) error {
	for i := range m.records {
		if m.records[i].ID == id {
			m.records[i].Published = true
		}
	}
	m.marked = append(m.marked, id)
	return nil
}

type published struct {
	binding string
	msg     messaging.Message
}

// stubBus records publishes and can fail on one aggregate key.
type stubBus struct {
	failOn string
	sent   []published
}

func (b *stubBus) Publish(ctx context.Context, binding string, msg messaging.Message) error {
	if b.failOn != "" && msg.Key == b.failOn {
		return errors.New("broker unavailable")
	}
	b.sent = append(b.sent, published{binding, msg})
	return nil
}

func (b *stubBus) Subscribe(ctx context.Context, binding, group string, handler messaging.Handler) error {
	return nil
}

func (b *stubBus) Close() error { return nil }

func record(id int64, aggregateID, eventType string) Record {
	return Record{
		ID:            id,
		AggregateType: "SAGA",
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       []byte(`{}`),
		CreatedAt:     time.Unix(id, 0),
	}
}

func newRelay(src *memSource, bus messaging.Bus) *Relay {
	return NewRelay(DefaultRelayConfig("test-relay"), nil, src, bus, nil)
}

func TestTickPublishesInOrder(t *testing.T) {
	src := &memSource{records: []Record{
		record(1, "order-1", "ProcessPayment"),
		record(2, "order-2", "ProcessPayment"),
		record(3, "order-1", "SagaReply"),
	}}
	bus := &stubBus{}
	r := newRelay(src, bus)

	require.NoError(t, r.tick(context.Background()))

	require.Len(t, bus.sent, 3)
	assert.Equal(t, "order-1", bus.sent[0].msg.Key)
	assert.Equal(t, "order-2", bus.sent[1].msg.Key)
	assert.Equal(t, messaging.BindingPaymentCommands, bus.sent[0].binding)
	assert.Equal(t, messaging.BindingSagaReplies, bus.sent[2].binding)
	assert.Equal(t, []int64{1, 2, 3}, src.marked)

	// second tick has nothing left
	require.NoError(t, r.tick(context.Background()))
	assert.Len(t, bus.sent, 3)
}

func TestTickStopsOnFirstPublishFailure(t *testing.T) {
	src := &memSource{records: []Record{
		record(1, "order-1", "ProcessPayment"),
		record(2, "order-2", "ProcessPayment"),
		record(3, "order-3", "ProcessPayment"),
	}}
	bus := &stubBus{failOn: "order-2"}
	r := newRelay(src, bus)

	// the failed record stops the batch so order-3 is not published ahead
	// of order-2
	require.NoError(t, r.tick(context.Background()))
	require.Len(t, bus.sent, 1)
	assert.Equal(t, []int64{1}, src.marked)

	// next tick resumes from the failed record
	bus.failOn = ""
	require.NoError(t, r.tick(context.Background()))
	assert.Len(t, bus.sent, 3)
	assert.Equal(t, []int64{1, 2, 3}, src.marked)
}

func TestTickEmptyBatch(t *testing.T) {
	src := &memSource{}
	bus := &stubBus{}
	r := newRelay(src, bus)
	require.NoError(t, r.tick(context.Background()))
	assert.Empty(t, bus.sent)
}
