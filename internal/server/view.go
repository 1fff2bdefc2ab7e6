package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/couchmongo/couchmongo/internal/viewengine"
)

func (h *Handler) getView(w http.ResponseWriter, r *http.Request) {
	design := chi.URLParam(r, "design")
	view := chi.URLParam(r, "view")

	opts, err := parseViewOptions(r)
	if h.handleError(w, r, err) {
		return
	}

	result, err := h.Engine.View(r.Context(), h.Designs, h.Views, dbName(r), design, view, opts)
	if h.handleError(w, r, err) {
		return
	}

	type resultRow struct {
		ID    string                 `json:"id,omitempty"`
		Key   interface{}            `json:"key"`
		Value interface{}            `json:"value"`
		Doc   map[string]interface{} `json:"doc,omitempty"`
	}
	rows := make([]resultRow, len(result.Rows))
	for i, row := range result.Rows {
		rows[i] = resultRow{ID: row.ID, Key: row.Key, Value: row.Value, Doc: row.Doc}
	}

	body := map[string]interface{}{"rows": rows}
	reduced := opts.Reduce != nil && *opts.Reduce
	if opts.Reduce == nil {
		// Without an explicit reduce option, the view reduces iff it has a reduce source.
		if v, lookupErr := h.Designs.LookupView(r.Context(), dbName(r), design, view); lookupErr == nil {
			reduced = v.ReduceSrc != ""
		}
	}
	if reduced {
		// total_rows/offset are omitted for reduced results, per §4.4 step 6.
	} else {
		body["total_rows"] = result.TotalRows
		body["offset"] = result.Offset
	}
	h.handleError(w, r, writeJSON(w, http.StatusOK, body))
}

// parseViewOptions decodes the query-string options into viewengine.Options.
// Values are JSON-encoded in the query string per §6.
func parseViewOptions(r *http.Request) (viewengine.Options, error) {
	raw := map[string]interface{}{}
	for key, values := range r.URL.Query() {
		if len(values) == 0 {
			continue
		}
		var v interface{}
		if err := json.Unmarshal([]byte(values[0]), &v); err != nil {
			v = values[0]
		}
		raw[key] = v
	}
	return viewengine.FromMap(raw)
}
