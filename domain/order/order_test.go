package order

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"food_order/pkg/apperr"
)

func item(menuID int64, qty int, price string) LineItem {
	return LineItem{MenuID: menuID, Quantity: qty, Price: decimal.RequireFromString(price)}
}

func TestTotal(t *testing.T) {
	items := []LineItem{
		item(1, 2, "18000"),
		item(2, 1, "19000.50"),
	}
	assert.True(t, Total(items).Equal(decimal.RequireFromString("55000.50")))
	assert.True(t, Total(nil).Equal(decimal.Zero))
}

func TestNewCapturesTotal(t *testing.T) {
	now := time.Now()
	o := New("order-1", 7, 1, []LineItem{item(1, 3, "11000")}, "CARD", "Seoul", now)
	assert.Equal(t, StatusPaymentPending, o.Status)
	assert.True(t, o.TotalAmount.Equal(decimal.RequireFromString("33000")))
	assert.Equal(t, int64(1), o.Version)
}

func TestCancel(t *testing.T) {
	now := time.Now()
	o := New("order-1", 7, 1, []LineItem{item(1, 1, "11000")}, "CARD", "Seoul", now)

	require.NoError(t, o.Cancel(now))
	assert.Equal(t, StatusCancelled, o.Status)
}

func TestCancelRejectedAfterPayment(t *testing.T) {
	now := time.Now()
	for _, st := range []Status{StatusPaid, StatusPreparing, StatusDelivering, StatusDelivered, StatusCancelled} {
		o := New("order-1", 7, 1, nil, "CARD", "Seoul", now)
		o.Status = st
		err := o.Cancel(now)
		require.Error(t, err, "status %s", st)
		assert.True(t, apperr.IsKind(err, apperr.InvalidStateTransition))
	}
}
