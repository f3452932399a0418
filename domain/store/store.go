package store

import (
	"github.com/shopspring/decimal"

	"food_order/pkg/apperr"
)

// Menu is one sellable item of a store.
type Menu struct {
	ID      int64           `json:"id"`
	StoreID int64           `json:"store_id"`
	Name    string          `json:"name"`
	Price   decimal.Decimal `json:"price"`
}

// Store is the store record with its menus.
type Store struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Open  bool   `json:"open"`
	Menus []Menu `json:"menus,omitempty"`
}

// Menu returns the menu with the given id.
func (s *Store) Menu(menuID int64) (Menu, error) {
	for _, m := range s.Menus {
		if m.ID == menuID {
			return m, nil
		}
	}
	return Menu{}, apperr.Newf(apperr.EntityNotFound, "menu %d not found in store %d", menuID, s.ID)
}
