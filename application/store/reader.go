// Package store implements the hot read path for store lookups with
// multi-level fallback: in-process LRU, Redis, then storage behind a
// circuit breaker, then a last-resort manual cache read.
package store

import (
	"context"
	"database/sql"
	"strconv"

	"golang.org/x/sync/singleflight"

	domain "food_order/domain/store"
	"food_order/infrastructure/cache"
	"food_order/infrastructure/postgres"
	"food_order/infrastructure/repository"
	"food_order/pkg/apperr"
	"food_order/pkg/metrics"
	"food_order/pkg/resilience"
)

// Storage is the store query surface the reader falls through to.
type Storage interface {
	GetWithMenus(ctx context.Context, q postgres.Querier, storeID int64) (*domain.Store, error)
}

// Cache is the two-level cache surface.
type Cache interface {
	GetLocal(storeID int64) (*domain.Store, bool)
	GetStoreWithMenus(ctx context.Context, storeID int64) (*domain.Store, bool, error)
	SetStoreWithMenus(ctx context.Context, s *domain.Store) error
}

var (
	_ Storage = (*repository.StoreRepository)(nil)
	_ Cache   = (*cache.StoreCache)(nil)
)

// Reader serves store reads. Level order:
//
//	L1  in-process LRU
//	L1' Redis get
//	L2  storage query (circuit breaker + singleflight); success populates the caches
//	L3  manual Redis get when L2 fails
//	L4  typed ServiceUnavailable
type Reader struct {
	db       *sql.DB
	repo     Storage
	cache    Cache
	envelope *resilience.Envelope
	group    singleflight.Group
}

// NewReader creates the cached store reader.
func NewReader(db *sql.DB, repo Storage, c Cache, envelope *resilience.Envelope) *Reader {
	return &Reader{db: db, repo: repo, cache: c, envelope: envelope}
}

// GetStoreWithMenus returns the store aggregate for order pricing.
func (r *Reader) GetStoreWithMenus(ctx context.Context, storeID int64) (*domain.Store, error) {
	if s, ok := r.cache.GetLocal(storeID); ok {
		metrics.CacheHits.WithLabelValues("l1").Inc()
		return s, nil
	}

	s, ok, err := r.cache.GetStoreWithMenus(ctx, storeID)
	if err == nil && ok {
		metrics.CacheHits.WithLabelValues("redis").Inc()
		return s, nil
	}
	// a cache outage is not fatal; the storage level decides

	metrics.CacheMisses.Inc()
	s, err = r.loadFromStorage(ctx, storeID)
	if err == nil {
		return s, nil
	}
	if apperr.IsKind(err, apperr.EntityNotFound) {
		return nil, err
	}

	// L3: storage is down or the breaker is open; serve a possibly stale
	// cached copy before surfacing failure
	if s, ok, cerr := r.cache.GetStoreWithMenus(ctx, storeID); cerr == nil && ok {
		metrics.CacheHits.WithLabelValues("fallback").Inc()
		return s, nil
	}
	return nil, apperr.Wrap(apperr.ServiceUnavailable, "store lookup exhausted all levels", err)
}

// loadFromStorage runs the breaker-guarded query, collapsing concurrent
// loads of the same store into one.
func (r *Reader) loadFromStorage(ctx context.Context, storeID int64) (*domain.Store, error) {
	v, err, _ := r.group.Do(cacheGroupKey(storeID), func() (interface{}, error) {
		var s *domain.Store
		err := r.envelope.Do(ctx, func(ctx context.Context) error {
			var qerr error
			s, qerr = r.repo.GetWithMenus(ctx, r.db, storeID)
			return qerr
		})
		if err != nil {
			return nil, err
		}
		// populating the cache is a side effect of L2 success
		_ = r.cache.SetStoreWithMenus(ctx, s)
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.Store), nil
}

func cacheGroupKey(storeID int64) string {
	return "store-with-menus:" + strconv.FormatInt(storeID, 10)
}
