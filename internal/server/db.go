package server

import (
	"net/http"

	"github.com/couchmongo/couchmongo/internal/apperr"
)

func (h *Handler) headDB(w http.ResponseWriter, r *http.Request) {
	exists, err := h.Adapter.CollectionExists(r.Context(), dbName(r))
	if h.handleError(w, r, err) {
		return
	}
	if !exists {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) getDB(w http.ResponseWriter, r *http.Request) {
	exists, err := h.Adapter.CollectionExists(r.Context(), dbName(r))
	if h.handleError(w, r, err) {
		return
	}
	if !exists {
		h.handleError(w, r, apperr.NotFound("database %q does not exist", dbName(r)))
		return
	}
	count, err := h.Adapter.Collection(dbName(r)).Count(r.Context(), nil)
	if h.handleError(w, r, err) {
		return
	}
	h.handleError(w, r, writeJSON(w, http.StatusOK, map[string]interface{}{
		"db_name":   dbName(r),
		"doc_count": count,
	}))
}

func (h *Handler) putDB(w http.ResponseWriter, r *http.Request) {
	// Create is idempotent, per §6.
	if h.handleError(w, r, h.Adapter.CreateCollection(r.Context(), dbName(r))) {
		return
	}
	h.handleError(w, r, writeJSON(w, http.StatusCreated, map[string]interface{}{"ok": true}))
}

func (h *Handler) deleteDB(w http.ResponseWriter, r *http.Request) {
	if !h.AllowDBDelete {
		h.handleError(w, r, apperr.BadRequest("database deletion is disabled by configuration"))
		return
	}
	if h.handleError(w, r, h.Adapter.DropCollection(r.Context(), dbName(r))) {
		return
	}
	h.handleError(w, r, writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true}))
}
