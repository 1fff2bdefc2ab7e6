package server

import (
	"net/http"
)

type serverInfo struct {
	CouchDB string     `json:"couchdb"`
	Version string     `json:"version"`
	Vendor  vendorInfo `json:"vendor"`
}

type vendorInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

func (h *Handler) getRoot(w http.ResponseWriter, r *http.Request) {
	h.handleError(w, r, writeJSON(w, http.StatusOK, serverInfo{
		CouchDB: "Welcome",
		Version: h.VendorVersion,
		Vendor:  vendorInfo{Name: h.VendorName, Version: h.VendorVersion},
	}))
}

func (h *Handler) getAllDBs(w http.ResponseWriter, r *http.Request) {
	names, err := h.Adapter.ListCollections(r.Context())
	if h.handleError(w, r, err) {
		return
	}
	h.handleError(w, r, writeJSON(w, http.StatusOK, names))
}
