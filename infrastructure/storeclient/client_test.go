package storeclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"food_order/domain/store"
	"food_order/pkg/apperr"
	"food_order/pkg/resilience"
)

func clientEnvelope() *resilience.Envelope {
	return resilience.New("test-store-service", resilience.Config{
		Retry:    resilience.RetryConfig{Attempts: 1, Base: time.Millisecond, Factor: 1},
		Bulkhead: resilience.BulkheadConfig{MaxConcurrent: 2, MaxWait: time.Millisecond},
		Timeout:  time.Second,
	})
}

func TestGetStoreWithMenus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/stores/1", r.URL.Path)
		assert.Equal(t, "true", r.URL.Query().Get("menus"))
		json.NewEncoder(w).Encode(store.Store{
			ID: 1, Name: "Chicken Plus", Open: true,
			Menus: []store.Menu{{ID: 10, StoreID: 1, Name: "Fried Chicken", Price: decimal.RequireFromString("18000")}},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, clientEnvelope())
	s, err := c.GetStoreWithMenus(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "Chicken Plus", s.Name)
	require.Len(t, s.Menus, 1)
	assert.True(t, s.Menus[0].Price.Equal(decimal.RequireFromString("18000")))
}

func TestGetStoreNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(srv.URL, clientEnvelope())
	_, err := c.GetStoreWithMenus(context.Background(), 99)
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.EntityNotFound))
}

func TestGetStoreServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL, clientEnvelope())
	_, err := c.GetStoreWithMenus(context.Background(), 1)
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.ServiceUnavailable))
}

func TestGetStoreUnreachable(t *testing.T) {
	srv := httptest.NewServer(nil)
	srv.Close()

	c := New(srv.URL, clientEnvelope())
	_, err := c.GetStoreWithMenus(context.Background(), 1)
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.ServiceUnavailable))
}
