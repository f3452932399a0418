// Package cache implements the read-path cache for store lookups: a small
// in-process LRU in front of Redis. Cache writes never participate in
// transactions; populating the cache is a side effect of a successful
// storage read.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"

	"food_order/domain/store"
)

// TTLs vary by hotness: the identity record changes rarely, the
// aggregate-with-menus changes with every menu edit.
const (
	storeTTL = 10 * time.Minute
	menusTTL = time.Minute

	l1Size = 1024
	l1TTL  = 10 * time.Second
)

// StoreCache caches store records and store-with-menus aggregates.
type StoreCache struct {
	rdb *redis.Client
	l1  *expirable.LRU[string, []byte]
}

// NewStoreCache creates the cache.
func NewStoreCache(rdb *redis.Client) *StoreCache {
	return &StoreCache{
		rdb: rdb,
		l1:  expirable.NewLRU[string, []byte](l1Size, nil, l1TTL),
	}
}

func storeKey(id int64) string      { return fmt.Sprintf("store:%d", id) }
func storeMenusKey(id int64) string { return fmt.Sprintf("store:%d:menus", id) }

// GetLocal returns the in-process copy of the store aggregate, if any.
func (c *StoreCache) GetLocal(storeID int64) (*store.Store, bool) {
	data, ok := c.l1.Get(storeMenusKey(storeID))
	if !ok {
		return nil, false
	}
	var s store.Store
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, false
	}
	return &s, true
}

// GetStoreWithMenus returns the cached aggregate from Redis, or ok=false
// on a miss.
func (c *StoreCache) GetStoreWithMenus(ctx context.Context, storeID int64) (*store.Store, bool, error) {
	data, err := c.rdb.Get(ctx, storeMenusKey(storeID)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache get store %d: %w", storeID, err)
	}

	var s store.Store
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, false, fmt.Errorf("cache decode store %d: %w", storeID, err)
	}
	c.l1.Add(storeMenusKey(storeID), data)
	return &s, true, nil
}

// SetStoreWithMenus populates both cache levels.
func (c *StoreCache) SetStoreWithMenus(ctx context.Context, s *store.Store) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("cache encode store %d: %w", s.ID, err)
	}
	c.l1.Add(storeMenusKey(s.ID), data)
	if err := c.rdb.Set(ctx, storeMenusKey(s.ID), data, menusTTL).Err(); err != nil {
		return fmt.Errorf("cache set store %d: %w", s.ID, err)
	}

	// identity record without menus, on the longer TTL
	ident := store.Store{ID: s.ID, Name: s.Name, Open: s.Open}
	identData, err := json.Marshal(&ident)
	if err != nil {
		return err
	}
	if err := c.rdb.Set(ctx, storeKey(s.ID), identData, storeTTL).Err(); err != nil {
		return fmt.Errorf("cache set store identity %d: %w", s.ID, err)
	}
	return nil
}

// GetStore returns the cached identity record (no menus).
func (c *StoreCache) GetStore(ctx context.Context, storeID int64) (*store.Store, bool, error) {
	data, err := c.rdb.Get(ctx, storeKey(storeID)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache get store identity %d: %w", storeID, err)
	}
	var s store.Store
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, false, fmt.Errorf("cache decode store identity %d: %w", storeID, err)
	}
	return &s, true, nil
}
