package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"food_order/pkg/apperr"
)

type stubLimiter struct {
	allowed bool
	err     error
	callers []string
}

func (s *stubLimiter) Allow(ctx context.Context, caller string) (bool, error) {
	s.callers = append(s.callers, caller)
	return s.allowed, s.err
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestRateLimitAllows(t *testing.T) {
	lim := &stubLimiter{allowed: true}
	h := RateLimit(lim, okHandler())

	req := httptest.NewRequest(http.MethodPost, "/orders", nil)
	req.Header.Set("X-User-Id", "7")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{"7"}, lim.callers, "bucket is keyed per user")
}

func TestRateLimitRejects(t *testing.T) {
	lim := &stubLimiter{allowed: false}
	h := RateLimit(lim, okHandler())

	req := httptest.NewRequest(http.MethodPost, "/orders", nil)
	req.Header.Set("X-User-Id", "7")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))

	var p Problem
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	assert.Equal(t, apperr.TypeURI(apperr.RateLimitExceeded), p.Type)
	assert.Equal(t, http.StatusTooManyRequests, p.Status)
}

func TestRateLimitFailsOpen(t *testing.T) {
	lim := &stubLimiter{err: errors.New("redis down")}
	h := RateLimit(lim, okHandler())

	req := httptest.NewRequest(http.MethodPost, "/orders", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestRateLimitFallsBackToRemoteAddr(t *testing.T) {
	lim := &stubLimiter{allowed: true}
	h := RateLimit(lim, okHandler())

	req := httptest.NewRequest(http.MethodPost, "/orders", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Len(t, lim.callers, 1)
	assert.Equal(t, req.RemoteAddr, lim.callers[0])
}

func TestUserID(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/orders/1", nil)
	req.Header.Set("X-User-Id", "42")
	id, err := userID(req)
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	for _, raw := range []string{"", "abc", "0", "-1"} {
		req := httptest.NewRequest(http.MethodGet, "/orders/1", nil)
		if raw != "" {
			req.Header.Set("X-User-Id", raw)
		}
		_, err := userID(req)
		require.Error(t, err, "header %q", raw)
		assert.True(t, apperr.IsKind(err, apperr.InvalidInput))
	}
}

func TestWriteErrorMapsKinds(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{apperr.New(apperr.InvalidInput, "bad"), http.StatusBadRequest},
		{apperr.New(apperr.EntityNotFound, "missing"), http.StatusNotFound},
		{apperr.New(apperr.DuplicateRequest, "again"), http.StatusConflict},
		{apperr.New(apperr.InvalidStateTransition, "late"), http.StatusBadRequest},
		{apperr.New(apperr.StaleLock, "fenced"), http.StatusConflict},
		{apperr.New(apperr.RateLimitExceeded, "slow down"), http.StatusTooManyRequests},
		{apperr.New(apperr.CircuitBreakerOpen, "open"), http.StatusServiceUnavailable},
		{apperr.New(apperr.BulkheadFull, "full"), http.StatusServiceUnavailable},
		{apperr.New(apperr.ServiceUnavailable, "down"), http.StatusServiceUnavailable},
		{apperr.New(apperr.RequestTimeout, "slow"), http.StatusGatewayTimeout},
		{errors.New("plain"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		writeError(rec, httptest.NewRequest(http.MethodGet, "/", nil), tc.err)
		assert.Equal(t, tc.status, rec.Code, "%v", tc.err)

		var p Problem
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
		assert.Equal(t, tc.status, p.Status)
		assert.Equal(t, apperr.TypeURI(apperr.KindOf(tc.err)), p.Type)
	}
}

func TestWriteErrorHidesInternalDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, httptest.NewRequest(http.MethodGet, "/", nil), errors.New("dsn=postgres://secret"))

	var p Problem
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	assert.Empty(t, p.Detail, "internal errors must not leak details")

	rec = httptest.NewRecorder()
	writeError(rec, httptest.NewRequest(http.MethodGet, "/", nil), apperr.New(apperr.InvalidInput, "quantity must be positive"))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	assert.Equal(t, "quantity must be positive", p.Detail)
}
