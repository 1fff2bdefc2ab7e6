package server

import (
	"encoding/json"
	"net/http"

	"github.com/couchmongo/couchmongo/internal/apperr"
)

// handleError writes err as a CouchDB-shaped error body with the status
// from apperr.HTTPStatus. It is a no-op if err is nil. All errors are
// logged with the request's correlation id, per §7.
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error) bool {
	if err == nil {
		return false
	}
	status := apperr.HTTPStatus(err)
	h.Logger.Printf("error [%s]: %v", correlationID(r), err)
	w.Header().Set("Content-Type", typeJSON)
	w.WriteHeader(status)
	if encErr := json.NewEncoder(w).Encode(apperr.ErrorBody(err)); encErr != nil {
		h.Logger.Printf("error [%s]: failed to encode error body: %v", correlationID(r), encErr)
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) error {
	w.Header().Set("Content-Type", typeJSON)
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}
