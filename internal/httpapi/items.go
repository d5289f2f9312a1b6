package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"hardwarepos/backend/internal/domain"
)

// handleListItems serves the whole catalogue, one category (?category_id=)
// or a name search (?name=).
func (a *API) handleListItems(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	var (
		items []domain.Item
		err   error
	)
	switch {
	case strings.TrimSpace(query.Get("category_id")) != "":
		categoryID, parseErr := strconv.ParseInt(strings.TrimSpace(query.Get("category_id")), 10, 64)
		if parseErr != nil {
			writeError(w, http.StatusBadRequest, errors.New("invalid category_id"))
			return
		}
		items, err = a.service.ItemsByCategory(r.Context(), categoryID)
	case query.Has("name"):
		items, err = a.service.SearchItems(r.Context(), query.Get("name"))
	default:
		items, err = a.service.ListItems(r.Context())
	}
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) handleLowStock(w http.ResponseWriter, r *http.Request) {
	items, err := a.service.LowStockItems(r.Context())
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) handleCreateItem(w http.ResponseWriter, r *http.Request) {
	var req domain.ItemCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	item, created, err := a.service.CreateItem(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]any{"item": item, "created": created})
}

func (a *API) handleGetItem(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	item, err := a.service.GetItem(r.Context(), id)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"item": item})
}

func (a *API) handleUpdateItem(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var req domain.ItemUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	item, err := a.service.UpdateItem(r.Context(), id, req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"item": item})
}

func (a *API) handleDeleteItem(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := a.service.DeleteItem(r.Context(), id); err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleAdjustStock adds ?quantity= to the stock. Negative values remove stock.
func (a *API) handleAdjustStock(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	delta, err := strconv.Atoi(strings.TrimSpace(r.URL.Query().Get("quantity")))
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid quantity"))
		return
	}

	item, err := a.service.AdjustStock(r.Context(), id, delta)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"item": item})
}

func (a *API) handleCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := a.service.ListCategories(r.Context())
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"categories": categories})
}
