package repository

import (
	"context"
	"database/sql"
	"fmt"

	"food_order/domain/store"
	"food_order/infrastructure/postgres"
	"food_order/pkg/apperr"
)

// StoreRepository reads store and menu rows in the store service's schema.
type StoreRepository struct{}

// NewStoreRepository creates a store repository.
func NewStoreRepository() *StoreRepository {
	return &StoreRepository{}
}

// Get loads one store without menus.
func (r *StoreRepository) Get(ctx context.Context, q postgres.Querier, storeID int64) (*store.Store, error) {
	query := `SELECT id, name, open FROM stores WHERE id = $1`

	var s store.Store
	err := q.QueryRowContext(ctx, query, storeID).Scan(&s.ID, &s.Name, &s.Open)
	if err == sql.ErrNoRows {
		return nil, apperr.Newf(apperr.EntityNotFound, "store %d not found", storeID)
	}
	if err != nil {
		return nil, fmt.Errorf("query store %d: %w", storeID, err)
	}
	return &s, nil
}

// GetWithMenus loads one store with its menus.
func (r *StoreRepository) GetWithMenus(ctx context.Context, q postgres.Querier, storeID int64) (*store.Store, error) {
	s, err := r.Get(ctx, q, storeID)
	if err != nil {
		return nil, err
	}

	query := `SELECT id, store_id, name, price FROM menus WHERE store_id = $1 ORDER BY id`
	rows, err := q.QueryContext(ctx, query, storeID)
	if err != nil {
		return nil, fmt.Errorf("query menus of store %d: %w", storeID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var m store.Menu
		if err := rows.Scan(&m.ID, &m.StoreID, &m.Name, &m.Price); err != nil {
			return nil, fmt.Errorf("scan menu: %w", err)
		}
		s.Menus = append(s.Menus, m)
	}
	return s, rows.Err()
}

// ListOpenIDs returns the ids of open stores, for the cache warmer.
func (r *StoreRepository) ListOpenIDs(ctx context.Context, q postgres.Querier) ([]int64, error) {
	rows, err := q.QueryContext(ctx, `SELECT id FROM stores WHERE open = true ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query open stores: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
