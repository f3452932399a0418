package api

import (
	"net/http"
	"strconv"

	appstore "food_order/application/store"
	"food_order/pkg/apperr"
)

// StoreHandler serves the store service's read API.
type StoreHandler struct {
	reader *appstore.Reader
}

func NewStoreHandler(reader *appstore.Reader) *StoreHandler {
	return &StoreHandler{reader: reader}
}

// GetStore handles GET /stores/{id}. Menus are always included; the
// order service prices line items from them.
func (h *StoreHandler) GetStore(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, r, apperr.New(apperr.InvalidInput, "invalid store id"))
		return
	}
	st, err := h.reader.GetStoreWithMenus(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}
