package server

import (
	"encoding/json"
	"net/http"

	"github.com/couchmongo/couchmongo/internal/apperr"
)

type findRequest struct {
	Selector map[string]interface{} `json:"selector"`
	Sort     []interface{}          `json:"sort"`
	Limit    int64                  `json:"limit"`
	Skip     int64                  `json:"skip"`
}

func (h *Handler) postFind(w http.ResponseWriter, r *http.Request) {
	var req findRequest
	req.Limit = -1
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.handleError(w, r, apperr.BadRequest("invalid JSON body: %v", err))
		return
	}
	rows, err := h.Engine.Find(r.Context(), dbName(r), req.Selector, req.Sort, req.Limit, req.Skip)
	if h.handleError(w, r, err) {
		return
	}

	docs := make([]map[string]interface{}, len(rows))
	for i, row := range rows {
		docs[i] = row.Doc
	}
	h.handleError(w, r, writeJSON(w, http.StatusOK, map[string]interface{}{"docs": docs}))
}

type allDocsRequest struct {
	Keys        []interface{} `json:"keys"`
	StartKey    string        `json:"start_key"`
	EndKey      string        `json:"end_key"`
	IncludeDocs bool          `json:"include_docs"`
	Limit       int64         `json:"limit"`
	Skip        int64         `json:"skip"`
}

func (h *Handler) getAllDocs(w http.ResponseWriter, r *http.Request) {
	req := allDocsRequest{Limit: -1}
	if r.Method == http.MethodPost {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.handleError(w, r, apperr.BadRequest("invalid JSON body: %v", err))
			return
		}
	} else {
		q := r.URL.Query()
		req.StartKey = q.Get("start_key")
		req.EndKey = q.Get("end_key")
		req.IncludeDocs = q.Get("include_docs") == "true"
	}

	rows, err := h.Engine.AllDocs(r.Context(), dbName(r), req.Keys, req.StartKey, req.EndKey, req.IncludeDocs, req.Limit, req.Skip)
	if h.handleError(w, r, err) {
		return
	}

	type resultRow struct {
		ID  string                 `json:"id"`
		Key string                 `json:"key"`
		Doc map[string]interface{} `json:"doc,omitempty"`
	}
	out := make([]resultRow, len(rows))
	for i, row := range rows {
		out[i] = resultRow{ID: row.ID, Key: row.ID, Doc: row.Doc}
	}
	h.handleError(w, r, writeJSON(w, http.StatusOK, map[string]interface{}{
		"total_rows": len(out),
		"rows":       out,
	}))
}
