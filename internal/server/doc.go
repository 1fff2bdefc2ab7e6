package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/couchmongo/couchmongo/internal/apperr"
)

func revParam(r *http.Request) string {
	if rev := r.URL.Query().Get("rev"); rev != "" {
		return rev
	}
	return r.Header.Get("If-Match")
}

func (h *Handler) getDoc(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	doc, err := h.Engine.Get(r.Context(), dbName(r), id, revParam(r))
	if h.handleError(w, r, err) {
		return
	}
	h.handleError(w, r, writeJSON(w, http.StatusOK, doc))
}

func (h *Handler) putDoc(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var body map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.handleError(w, r, apperr.BadRequest("invalid JSON body: %v", err))
		return
	}
	if bodyID, ok := body["_id"].(string); ok && bodyID != "" && bodyID != id {
		h.handleError(w, r, apperr.BadRequest("document id is immutable"))
		return
	}
	if ifMatch := r.Header.Get("If-Match"); ifMatch != "" {
		if bodyRev, ok := body["_rev"].(string); ok && bodyRev != "" && bodyRev != ifMatch {
			h.handleError(w, r, apperr.BadRequest("document rev does not match If-Match header"))
			return
		}
	}
	res, err := h.Engine.Put(r.Context(), dbName(r), id, body, revParam(r))
	if h.handleError(w, r, err) {
		return
	}
	h.handleError(w, r, writeJSON(w, http.StatusCreated, map[string]interface{}{
		"ok": true, "id": res.ID, "rev": res.Rev,
	}))
}

func (h *Handler) postDoc(w http.ResponseWriter, r *http.Request) {
	var body map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.handleError(w, r, apperr.BadRequest("invalid JSON body: %v", err))
		return
	}
	res, err := h.Engine.Post(r.Context(), dbName(r), body)
	if h.handleError(w, r, err) {
		return
	}
	h.handleError(w, r, writeJSON(w, http.StatusCreated, map[string]interface{}{
		"ok": true, "id": res.ID, "rev": res.Rev,
	}))
}

func (h *Handler) deleteDoc(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	res, err := h.Engine.Delete(r.Context(), dbName(r), id, revParam(r))
	if h.handleError(w, r, err) {
		return
	}
	h.handleError(w, r, writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok": true, "id": res.ID, "rev": res.Rev,
	}))
}
