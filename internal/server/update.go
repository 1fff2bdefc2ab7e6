package server

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/couchmongo/couchmongo/internal/jsruntime"
)

func (h *Handler) postUpdate(w http.ResponseWriter, r *http.Request) {
	design := chi.URLParam(r, "design")
	update := chi.URLParam(r, "update")
	id := chi.URLParam(r, "id")

	u, err := h.Designs.LookupUpdate(r.Context(), dbName(r), design, update)
	if h.handleError(w, r, err) {
		return
	}

	req := jsruntime.UpdateRequest{
		Method:  r.Method,
		Headers: flattenHeader(r.Header),
		Query:   flattenQuery(r.URL.Query()),
	}
	if r.Body != nil {
		raw, readErr := io.ReadAll(r.Body)
		if readErr == nil && len(raw) > 0 {
			_ = json.Unmarshal(raw, &req.Body)
		}
	}

	result, err := h.Engine.UpdateFn(r.Context(), dbName(r), id, u.Src, req)
	if h.handleError(w, r, err) {
		return
	}

	code := http.StatusOK
	if c, ok := result.Response["code"].(float64); ok {
		code = int(c)
	}
	if headers, ok := result.Response["headers"].(map[string]interface{}); ok {
		for k, v := range headers {
			if s, ok := v.(string); ok {
				w.Header().Set(k, s)
			}
		}
	}
	h.handleError(w, r, writeJSON(w, code, result.Response["body"]))
}

func flattenHeader(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k := range h {
		out[k] = h.Get(k)
	}
	return out
}

func flattenQuery(q map[string][]string) map[string]string {
	out := make(map[string]string, len(q))
	for k, v := range q {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}
