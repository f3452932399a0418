package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"food_order/pkg/apperr"
	"food_order/pkg/logging"
	"food_order/pkg/metrics"
)

// Limiter is the ingress rate limiter, keyed per caller.
type Limiter interface {
	Allow(ctx context.Context, caller string) (bool, error)
}

// userID reads the authenticated user from the X-User-Id header, set by
// the gateway in front of this service.
func userID(r *http.Request) (int64, error) {
	raw := r.Header.Get("X-User-Id")
	if raw == "" {
		return 0, apperr.New(apperr.InvalidInput, "missing X-User-Id header")
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.New(apperr.InvalidInput, "invalid X-User-Id header")
	}
	return id, nil
}

// RateLimit rejects callers that exhausted their token bucket. The
// limiter failing open is deliberate: a Redis blip must not reject
// every request.
func RateLimit(limiter Limiter, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller := r.Header.Get("X-User-Id")
		if caller == "" {
			caller = r.RemoteAddr
		}
		allowed, err := limiter.Allow(r.Context(), caller)
		if err != nil {
			lg1 := logging.WithComponent("api")
			lg1.Warn().Err(err).Msg("rate limiter unavailable, failing open")
			allowed = true
		}
		if !allowed {
			metrics.RateLimited.Inc()
			writeError(w, r, apperr.New(apperr.RateLimitExceeded, "request rate limit exceeded"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Instrument records the request metric and an access log line.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		metrics.APIRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(rec.status)).Inc()
		lg2 := logging.WithComponent("api")
		lg2.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	})
}
