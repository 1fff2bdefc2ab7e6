package server

import (
	"encoding/json"
	"net/http"

	"github.com/couchmongo/couchmongo/internal/apperr"
)

type bulkDocsRequest struct {
	Docs         []map[string]interface{} `json:"docs"`
	AllOrNothing bool                      `json:"all_or_nothing"`
}

func (h *Handler) postBulkDocs(w http.ResponseWriter, r *http.Request) {
	var req bulkDocsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.handleError(w, r, apperr.BadRequest("invalid JSON body: %v", err))
		return
	}
	results := h.Engine.BulkDocs(r.Context(), dbName(r), req.Docs, req.AllOrNothing)

	out := make([]map[string]interface{}, len(results))
	for i, res := range results {
		if res.OK {
			out[i] = map[string]interface{}{"ok": true, "id": res.ID, "rev": res.Rev}
			continue
		}
		out[i] = map[string]interface{}{"id": res.ID, "error": res.Error, "reason": res.Reason}
	}
	h.handleError(w, r, writeJSON(w, http.StatusCreated, out))
}
