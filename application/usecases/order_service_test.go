package usecases

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"food_order/application/queue"
	"food_order/domain/order"
	sagadom "food_order/domain/saga"
	"food_order/domain/store"
	"food_order/infrastructure/postgres"
	"food_order/pkg/apperr"
)

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

type memOrders struct {
	byID map[string]*order.Order
}

func newMemOrders() *memOrders { return &memOrders{byID: map[string]*order.Order{}} }

func (m *memOrders) Create(ctx context.Context, q postgres.Querier, o *order.Order) error {
	cp := *o
	m.byID[o.ID] = &cp
	return nil
}

func (m *memOrders) Get(ctx context.Context, q postgres.Querier, orderID string) (*order.Order, error) {
	o, ok := m.byID[orderID]
	if !ok {
		return nil, apperr.Newf(apperr.EntityNotFound, "order %s not found", orderID)
	}
	cp := *o
	return &cp, nil
}

func (m *memOrders) UpdateStatus(ctx context.Context, q postgres.Querier, o *order.Order, status order.Status) error {
	cur := m.byID[o.ID]
	cur.Status = status
	o.Status = status
	return nil
}

type memSagas struct {
	byOrder map[string]*sagadom.State
}

func newMemSagas() *memSagas { return &memSagas{byOrder: map[string]*sagadom.State{}} }

func (m *memSagas) GetByOrderIDForUpdate(ctx context.Context, q postgres.Querier, orderID string) (*sagadom.State, error) {
	s, ok := m.byOrder[orderID]
	if !ok {
		return nil, apperr.Newf(apperr.EntityNotFound, "saga for order %s not found", orderID)
	}
	cp := *s
	return &cp, nil
}

func (m *memSagas) Update(ctx context.Context, q postgres.Querier, s *sagadom.State) error {
	cp := *s
	m.byOrder[s.OrderID] = &cp
	return nil
}

// stubSaga records orchestrator calls made during order creation.
type stubSaga struct {
	sagas    *memSagas
	emitErr  error
	payments []string
	released []string
}

func (s *stubSaga) Begin(ctx context.Context, tx *sql.Tx, sagaID string, ord *order.Order) (*sagadom.State, error) {
	st := sagadom.NewState(sagaID, ord.ID, time.Now())
	s.sagas.byOrder[ord.ID] = st
	return st, nil
}

func (s *stubSaga) EmitPaymentCommand(ctx context.Context, tx *sql.Tx, sagaID string, ord *order.Order) error {
	if s.emitErr != nil {
		return s.emitErr
	}
	s.payments = append(s.payments, ord.ID)
	return nil
}

func (s *stubSaga) ReleaseQueuedOrder(ctx context.Context, orderID string) error {
	s.released = append(s.released, orderID)
	return nil
}

type stubDirectory struct {
	st  *store.Store
	err error
}

func (s *stubDirectory) GetStoreWithMenus(ctx context.Context, storeID int64) (*store.Store, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.st, nil
}

type stubAdmission struct {
	active     bool
	admitted   int
	enqueued   []string
	enqueueErr error
	position   queue.Status
}

func (s *stubAdmission) Active(ctx context.Context) (bool, error) { return s.active, nil }

func (s *stubAdmission) Admit(ctx context.Context) error {
	s.admitted++
	return nil
}

func (s *stubAdmission) Enqueue(ctx context.Context, orderID string, submittedAt time.Time) error {
	if s.enqueueErr != nil {
		return s.enqueueErr
	}
	s.enqueued = append(s.enqueued, orderID)
	return nil
}

func (s *stubAdmission) Position(ctx context.Context, orderID string) (queue.Status, error) {
	return s.position, nil
}

type stubKeys struct {
	reserved map[string]bool
	released []string
}

func newStubKeys() *stubKeys { return &stubKeys{reserved: map[string]bool{}} }

func (s *stubKeys) Reserve(ctx context.Context, key, orderID string) (bool, error) {
	if s.reserved[key] {
		return false, nil
	}
	s.reserved[key] = true
	return true, nil
}

func (s *stubKeys) Release(ctx context.Context, key string) error {
	delete(s.reserved, key)
	s.released = append(s.released, key)
	return nil
}

type recordOutbox struct {
	types []string
}

func (r *recordOutbox) SaveEvent(ctx context.Context, q postgres.Querier, aggregateType, aggregateID, eventType string, payload interface{}) error {
	r.types = append(r.types, eventType)
	return nil
}

type stubNotifier struct {
	updates []string
}

func (s *stubNotifier) Publish(orderID, status string) {
	s.updates = append(s.updates, status)
}

type stubInflight struct{ n int64 }

func (s *stubInflight) DecrInflight(ctx context.Context) (int64, error) {
	s.n--
	return s.n, nil
}

type serviceFixture struct {
	svc       *OrderService
	orders    *memOrders
	sagas     *memSagas
	saga      *stubSaga
	admission *stubAdmission
	keys      *stubKeys
	outbox    *recordOutbox
	notifier  *stubNotifier
	inflight  *stubInflight
}

func newServiceFixture() *serviceFixture {
	sagas := newMemSagas()
	f := &serviceFixture{
		orders:    newMemOrders(),
		sagas:     sagas,
		saga:      &stubSaga{sagas: sagas},
		admission: &stubAdmission{},
		keys:      newStubKeys(),
		outbox:    &recordOutbox{},
		notifier:  &stubNotifier{},
		inflight:  &stubInflight{n: 1},
	}
	dir := &stubDirectory{st: &store.Store{
		ID: 1, Name: "Chicken Plus", Open: true,
		Menus: []store.Menu{
			{ID: 10, StoreID: 1, Name: "Fried Chicken", Price: decimal.RequireFromString("18000")},
			{ID: 11, StoreID: 1, Name: "Cola", Price: decimal.RequireFromString("2000")},
		},
	}}
	f.svc = NewOrderService(nil, f.runner(), f.orders, f.sagas, f.saga, dir,
		f.admission, f.keys, f.outbox, f.notifier, f.inflight)
	return f
}

func (f *serviceFixture) runner() txRunner {
	return txRunner{snapshot: func() func() {
		orders := make(map[string]*order.Order, len(f.orders.byID))
		for k, v := range f.orders.byID {
			cp := *v
			orders[k] = &cp
		}
		sagas := make(map[string]*sagadom.State, len(f.sagas.byOrder))
		for k, v := range f.sagas.byOrder {
			cp := *v
			sagas[k] = &cp
		}
		payments := append([]string(nil), f.saga.payments...)
		types := append([]string(nil), f.outbox.types...)
		return func() {
			f.orders.byID = orders
			f.sagas.byOrder = sagas
			f.saga.payments = payments
			f.outbox.types = types
		}
	}}
}

func validInput() CreateOrderInput {
	return CreateOrderInput{
		UserID:        7,
		StoreID:       1,
		Items:         []CreateOrderItem{{MenuID: 10, Quantity: 2}, {MenuID: 11, Quantity: 1}},
		PaymentMethod: "CARD",
		Address:       "Seoul",
	}
}

func TestCreateOrderDirect(t *testing.T) {
	f := newServiceFixture()
	res, err := f.svc.CreateOrder(context.Background(), validInput())
	require.NoError(t, err)

	assert.False(t, res.Queued)
	assert.Equal(t, order.StatusPaymentPending, res.Order.Status)
	assert.True(t, res.Order.TotalAmount.Equal(decimal.RequireFromString("38000")),
		"total is 2×18000 + 1×2000 from captured menu prices")

	assert.Len(t, f.saga.payments, 1, "direct admission emits the payment command")
	assert.Empty(t, f.admission.enqueued)
	assert.Equal(t, 1, f.admission.admitted)
	assert.Contains(t, f.outbox.types, order.EventTypeOrderCreated)
	assert.Equal(t, []string{string(order.StatusPaymentPending)}, f.notifier.updates)
}

func TestCreateOrderQueued(t *testing.T) {
	f := newServiceFixture()
	f.admission.active = true
	f.admission.position = queue.Status{Queued: true, Position: 4, QueueSize: 9, EstimatedWait: 2 * time.Second}

	res, err := f.svc.CreateOrder(context.Background(), validInput())
	require.NoError(t, err)

	assert.True(t, res.Queued)
	assert.Equal(t, int64(4), res.Position)
	assert.Equal(t, int64(9), res.QueueSize)
	assert.Empty(t, f.saga.payments, "payment command withheld until release")
	assert.Equal(t, []string{res.Order.ID}, f.admission.enqueued)
}

func TestCreateOrderDuplicateKey(t *testing.T) {
	f := newServiceFixture()
	in := validInput()
	in.IdempotencyKey = "key-1"

	_, err := f.svc.CreateOrder(context.Background(), in)
	require.NoError(t, err)

	_, err = f.svc.CreateOrder(context.Background(), in)
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.DuplicateRequest))
	assert.Len(t, f.orders.byID, 1)
}

func TestCreateOrderClosedStore(t *testing.T) {
	f := newServiceFixture()
	dir := &stubDirectory{st: &store.Store{ID: 1, Open: false}}
	f.svc = NewOrderService(nil, f.runner(), f.orders, f.sagas, f.saga, dir,
		f.admission, f.keys, f.outbox, f.notifier, f.inflight)

	in := validInput()
	in.IdempotencyKey = "key-1"
	_, err := f.svc.CreateOrder(context.Background(), in)
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.InvalidInput))
	assert.Equal(t, []string{"key-1"}, f.keys.released, "failed request frees its idempotency key")
}

func TestCreateOrderValidation(t *testing.T) {
	f := newServiceFixture()

	in := validInput()
	in.PaymentMethod = "BITCOIN"
	_, err := f.svc.CreateOrder(context.Background(), in)
	assert.True(t, apperr.IsKind(err, apperr.InvalidInput))

	in = validInput()
	in.Items = nil
	_, err = f.svc.CreateOrder(context.Background(), in)
	assert.True(t, apperr.IsKind(err, apperr.InvalidInput))

	in = validInput()
	in.Items[0].Quantity = 101
	_, err = f.svc.CreateOrder(context.Background(), in)
	assert.True(t, apperr.IsKind(err, apperr.InvalidInput))
}

func TestCreateOrderAbortedTxLeavesNoTrace(t *testing.T) {
	f := newServiceFixture()
	f.saga.emitErr = apperr.New(apperr.ServiceUnavailable, "outbox write failed")

	in := validInput()
	in.IdempotencyKey = "key-1"
	_, err := f.svc.CreateOrder(context.Background(), in)
	require.Error(t, err)

	assert.Empty(t, f.orders.byID, "aborted transaction leaves no order row")
	assert.Empty(t, f.sagas.byOrder, "aborted transaction leaves no saga row")
	assert.Empty(t, f.outbox.types, "the staged OrderCreated event rolls back with the order")
	assert.Empty(t, f.notifier.updates)
	assert.Equal(t, []string{"key-1"}, f.keys.released, "failed request frees its idempotency key")
}

func TestCreateOrderEnqueueFailureReleasesDirectly(t *testing.T) {
	f := newServiceFixture()
	f.admission.active = true
	f.admission.enqueueErr = apperr.New(apperr.ServiceUnavailable, "redis down")

	res, err := f.svc.CreateOrder(context.Background(), validInput())
	require.NoError(t, err)
	assert.False(t, res.Queued)
	assert.Equal(t, []string{res.Order.ID}, f.saga.released,
		"an order that cannot be parked is released straight into payment")
}

func TestCancelOrder(t *testing.T) {
	f := newServiceFixture()
	res, err := f.svc.CreateOrder(context.Background(), validInput())
	require.NoError(t, err)

	ord, err := f.svc.CancelOrder(context.Background(), res.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusCancelled, ord.Status)
	assert.Equal(t, order.StatusCancelled, f.orders.byID[ord.ID].Status)

	sg := f.sagas.byOrder[ord.ID]
	assert.Equal(t, sagadom.StatusFailed, sg.Status)
	assert.Equal(t, "cancelled by user", sg.FailureReason)
	assert.Contains(t, f.outbox.types, EventTypeOrderCancelled)
	assert.Equal(t, int64(0), f.inflight.n)
}

func TestCancelPaidOrderRejected(t *testing.T) {
	f := newServiceFixture()
	res, err := f.svc.CreateOrder(context.Background(), validInput())
	require.NoError(t, err)
	f.orders.byID[res.Order.ID].Status = order.StatusPaid

	_, err = f.svc.CancelOrder(context.Background(), res.Order.ID)
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.InvalidStateTransition))
}

func TestGetOrderNotFound(t *testing.T) {
	f := newServiceFixture()
	_, err := f.svc.GetOrder(context.Background(), "missing")
	assert.True(t, apperr.IsKind(err, apperr.EntityNotFound))
}
