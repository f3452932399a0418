package saga

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"food_order/domain/order"
	sagadom "food_order/domain/saga"
	"food_order/infrastructure/messaging"
	"food_order/infrastructure/postgres"
	"food_order/pkg/apperr"
)

func replyMessage(body []byte) messaging.Message {
	return messaging.Message{Type: sagadom.EventTypeSagaReply, Body: body}
}

// --- in-memory stubs ---

// txRunner gives the in-memory stubs transactional visibility: every
// write staged inside a failed InTx is rolled back to the snapshot taken
// at transaction start.
type txRunner struct {
	snapshot func() (restore func())
}

func (r txRunner) InTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	restore := r.snapshot()
	if err := fn(nil); err != nil {
		restore()
		return err
	}
	return nil
}

type stubSagas struct {
	byID map[string]*sagadom.State
}

func newStubSagas() *stubSagas { return &stubSagas{byID: map[string]*sagadom.State{}} }

func (s *stubSagas) Create(ctx context.Context, q postgres.Querier, st *sagadom.State) error {
	cp := *st
	s.byID[st.ID] = &cp
	return nil
}

func (s *stubSagas) GetForUpdate(ctx context.Context, q postgres.Querier, sagaID string) (*sagadom.State, error) {
	st, ok := s.byID[sagaID]
	if !ok {
		return nil, apperr.Newf(apperr.EntityNotFound, "saga %s not found", sagaID)
	}
	cp := *st
	return &cp, nil
}

func (s *stubSagas) GetByOrderIDForUpdate(ctx context.Context, q postgres.Querier, orderID string) (*sagadom.State, error) {
	for _, st := range s.byID {
		if st.OrderID == orderID {
			cp := *st
			return &cp, nil
		}
	}
	return nil, apperr.Newf(apperr.EntityNotFound, "saga for order %s not found", orderID)
}

func (s *stubSagas) Update(ctx context.Context, q postgres.Querier, st *sagadom.State) error {
	cp := *st
	s.byID[st.ID] = &cp
	return nil
}

type stubOrders struct {
	byID      map[string]*order.Order
	updateErr error
}

func newStubOrders() *stubOrders { return &stubOrders{byID: map[string]*order.Order{}} }

func (s *stubOrders) Get(ctx context.Context, q postgres.Querier, orderID string) (*order.Order, error) {
	o, ok := s.byID[orderID]
	if !ok {
		return nil, apperr.Newf(apperr.EntityNotFound, "order %s not found", orderID)
	}
	cp := *o
	return &cp, nil
}

func (s *stubOrders) UpdateStatus(ctx context.Context, q postgres.Querier, o *order.Order, status order.Status) error {
	if s.updateErr != nil {
		return s.updateErr
	}
	cur := s.byID[o.ID]
	cur.Status = status
	cur.Version++
	o.Status = status
	return nil
}

type outboxEntry struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       interface{}
}

type stubOutbox struct {
	entries []outboxEntry
}

func (s *stubOutbox) SaveEvent(ctx context.Context, q postgres.Querier, aggregateType, aggregateID, eventType string, payload interface{}) error {
	s.entries = append(s.entries, outboxEntry{aggregateType, aggregateID, eventType, payload})
	return nil
}

func (s *stubOutbox) byType(eventType string) []outboxEntry {
	var out []outboxEntry
	for _, e := range s.entries {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

type stubLedger struct {
	seen map[string]bool
}

func newStubLedger() *stubLedger { return &stubLedger{seen: map[string]bool{}} }

func (s *stubLedger) IsProcessed(ctx context.Context, q postgres.Querier, eventID string) (bool, error) {
	return s.seen[eventID], nil
}

func (s *stubLedger) MarkProcessed(ctx context.Context, q postgres.Querier, eventID string) error {
	s.seen[eventID] = true
	return nil
}

type stubInflight struct {
	n int64
}

func (s *stubInflight) DecrInflight(ctx context.Context) (int64, error) {
	s.n--
	return s.n, nil
}

type stubNotifier struct {
	updates []string
}

func (s *stubNotifier) Publish(orderID, status string) {
	s.updates = append(s.updates, orderID+":"+status)
}

// --- fixture ---

type fixture struct {
	orch     *Orchestrator
	sagas    *stubSagas
	orders   *stubOrders
	outbox   *stubOutbox
	ledger   *stubLedger
	inflight *stubInflight
	notifier *stubNotifier
	ord      *order.Order
	sagaID   string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		sagas:    newStubSagas(),
		orders:   newStubOrders(),
		outbox:   &stubOutbox{},
		ledger:   newStubLedger(),
		inflight: &stubInflight{n: 1},
		notifier: &stubNotifier{},
	}
	f.orch = NewOrchestrator(f.runner(), f.sagas, f.orders, f.outbox, f.ledger, f.inflight, f.notifier)

	now := time.Now()
	f.ord = order.New("order-1", 7, 1, []order.LineItem{
		{MenuID: 1, Quantity: 1, Price: decimal.RequireFromString("18000")},
	}, "CARD", "Seoul", now)
	f.orders.byID[f.ord.ID] = f.ord
	f.sagaID = "saga-1"

	require.NoError(t, f.runner().InTx(context.Background(), func(tx *sql.Tx) error {
		_, err := f.orch.Begin(context.Background(), tx, f.sagaID, f.ord)
		if err != nil {
			return err
		}
		return f.orch.EmitPaymentCommand(context.Background(), tx, f.sagaID, f.ord)
	}))
	return f
}

func (f *fixture) runner() txRunner {
	return txRunner{snapshot: func() func() {
		sagas := make(map[string]*sagadom.State, len(f.sagas.byID))
		for k, v := range f.sagas.byID {
			cp := *v
			sagas[k] = &cp
		}
		orders := make(map[string]*order.Order, len(f.orders.byID))
		for k, v := range f.orders.byID {
			cp := *v
			orders[k] = &cp
		}
		entries := append([]outboxEntry(nil), f.outbox.entries...)
		seen := make(map[string]bool, len(f.ledger.seen))
		for k, v := range f.ledger.seen {
			seen[k] = v
		}
		return func() {
			f.sagas.byID = sagas
			f.orders.byID = orders
			f.outbox.entries = entries
			f.ledger.seen = seen
		}
	}}
}

func (f *fixture) paymentReply(eventID string, success bool, reason string) *sagadom.Reply {
	return &sagadom.Reply{
		EventID: eventID, SagaID: f.sagaID, OrderID: f.ord.ID,
		Step: sagadom.StepNamePayment, Success: success, Reason: reason,
		RepliedAt: time.Now(),
	}
}

func (f *fixture) deliveryReply(eventID string, success bool, reason string) *sagadom.Reply {
	return &sagadom.Reply{
		EventID: eventID, SagaID: f.sagaID, OrderID: f.ord.ID,
		Step: sagadom.StepNameDelivery, Success: success, Reason: reason,
		RepliedAt: time.Now(),
	}
}

// --- scenarios ---

func TestHappyPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// payment command was emitted at start
	require.Len(t, f.outbox.byType(sagadom.EventTypeProcessPayment), 1)

	require.NoError(t, f.orch.OnPaymentResult(ctx, f.paymentReply("evt-pay", true, "")))
	assert.Equal(t, sagadom.StepDeliveryPending, f.sagas.byID[f.sagaID].Step)
	assert.Equal(t, order.StatusPaid, f.orders.byID[f.ord.ID].Status)
	require.Len(t, f.outbox.byType(sagadom.EventTypeCreateDelivery), 1)

	require.NoError(t, f.orch.OnDeliveryResult(ctx, f.deliveryReply("evt-del", true, "")))
	s := f.sagas.byID[f.sagaID]
	assert.Equal(t, sagadom.StepCompleted, s.Step)
	assert.Equal(t, sagadom.StatusCompleted, s.Status)
	assert.Equal(t, order.StatusDelivering, f.orders.byID[f.ord.ID].Status)
	assert.Equal(t, int64(0), f.inflight.n, "saga termination settles the inflight counter")
	assert.Contains(t, f.notifier.updates, "order-1:PAID")
	assert.Contains(t, f.notifier.updates, "order-1:DELIVERING")
}

func TestPaymentFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.orch.OnPaymentResult(ctx, f.paymentReply("evt-pay", false, "card declined")))

	s := f.sagas.byID[f.sagaID]
	assert.Equal(t, sagadom.StepFailed, s.Step)
	assert.Equal(t, sagadom.StatusFailed, s.Status)
	assert.Equal(t, "card declined", s.FailureReason)
	assert.Equal(t, order.StatusCancelled, f.orders.byID[f.ord.ID].Status)
	assert.Empty(t, f.outbox.byType(sagadom.EventTypeCreateDelivery), "no delivery after failed payment")
	assert.Equal(t, int64(0), f.inflight.n)
}

func TestDeliveryFailureCompensates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.orch.OnPaymentResult(ctx, f.paymentReply("evt-pay", true, "")))
	require.NoError(t, f.orch.OnDeliveryResult(ctx, f.deliveryReply("evt-del", false, "no riders available")))

	s := f.sagas.byID[f.sagaID]
	assert.Equal(t, sagadom.StepCompensatingPayment, s.Step)
	assert.Equal(t, sagadom.StatusCompensating, s.Status)

	refunds := f.outbox.byType(sagadom.EventTypeCompensatePayment)
	require.Len(t, refunds, 1)
	cmd := refunds[0].Payload.(sagadom.PaymentCommand)
	assert.Equal(t, sagadom.ActionCompensate, cmd.Action)
	assert.Equal(t, "refund-order-1", cmd.IdempotencyKey)

	// refund reply terminates the saga
	require.NoError(t, f.orch.OnCompensationResult(ctx, &sagadom.Reply{
		EventID: "evt-comp", SagaID: f.sagaID, OrderID: f.ord.ID,
		Step: sagadom.StepNamePaymentCompensate, Success: true, RepliedAt: time.Now(),
	}))
	s = f.sagas.byID[f.sagaID]
	assert.Equal(t, sagadom.StepFailed, s.Step)
	assert.Equal(t, "no riders available", s.FailureReason)
	assert.Equal(t, order.StatusCancelled, f.orders.byID[f.ord.ID].Status)
	assert.Equal(t, int64(0), f.inflight.n)
}

func TestDuplicateReplyIsNoOp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.orch.OnPaymentResult(ctx, f.paymentReply("evt-pay", true, "")))
	require.NoError(t, f.orch.OnPaymentResult(ctx, f.paymentReply("evt-pay", true, "")))

	assert.Len(t, f.outbox.byType(sagadom.EventTypeCreateDelivery), 1, "duplicate must not re-emit the delivery command")
	assert.Equal(t, sagadom.StepDeliveryPending, f.sagas.byID[f.sagaID].Step)
}

func TestReleaseQueuedOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// the fixture already emitted one payment command; a release for a
	// saga still in PAYMENT_PENDING emits another
	require.NoError(t, f.orch.ReleaseQueuedOrder(ctx, f.ord.ID))
	assert.Len(t, f.outbox.byType(sagadom.EventTypeProcessPayment), 2)

	// past PAYMENT_PENDING the release is a no-op
	require.NoError(t, f.orch.OnPaymentResult(ctx, f.paymentReply("evt-pay", true, "")))
	require.NoError(t, f.orch.ReleaseQueuedOrder(ctx, f.ord.ID))
	assert.Len(t, f.outbox.byType(sagadom.EventTypeProcessPayment), 2)
}

func TestAbortedReplyTxLeavesNoTrace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.orders.updateErr = errors.New("connection reset")
	err := f.orch.OnPaymentResult(ctx, f.paymentReply("evt-pay", true, ""))
	require.Error(t, err)

	assert.False(t, f.ledger.seen["evt-pay"], "ledger mark rolls back with the aborted transaction")
	assert.Equal(t, sagadom.StepPaymentPending, f.sagas.byID[f.sagaID].Step)
	assert.Equal(t, order.StatusPaymentPending, f.orders.byID[f.ord.ID].Status)
	assert.Empty(t, f.outbox.byType(sagadom.EventTypeCreateDelivery))

	// the same reply applies cleanly on redelivery once the fault clears
	f.orders.updateErr = nil
	require.NoError(t, f.orch.OnPaymentResult(ctx, f.paymentReply("evt-pay", true, "")))
	assert.Equal(t, sagadom.StepDeliveryPending, f.sagas.byID[f.sagaID].Step)
	assert.Len(t, f.outbox.byType(sagadom.EventTypeCreateDelivery), 1)
}

func TestHandleReplyRoutesByStep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	body := []byte(`{"event_id":"evt-1","saga_id":"saga-1","order_id":"order-1","step":"PAYMENT","success":true}`)
	require.NoError(t, f.orch.HandleReply(ctx, replyMessage(body)))
	assert.Equal(t, sagadom.StepDeliveryPending, f.sagas.byID[f.sagaID].Step)

	err := f.orch.HandleReply(ctx, replyMessage([]byte(`{"event_id":"evt-2","step":"NONSENSE"}`)))
	assert.Error(t, err)
}

func TestIllegalReplyOrderRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// a delivery reply before the payment completed is an illegal step move
	err := f.orch.OnDeliveryResult(ctx, f.deliveryReply("evt-del", true, ""))
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.InvalidStateTransition))
	assert.Equal(t, sagadom.StepPaymentPending, f.sagas.byID[f.sagaID].Step)
}
