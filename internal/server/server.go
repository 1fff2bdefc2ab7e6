// Package server is the HTTP front-end: routing, content negotiation,
// request correlation, and mapping internal errors to CouchDB-shaped
// responses, per §6 and §7.
package server

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/couchmongo/couchmongo/internal/designrepo"
	"github.com/couchmongo/couchmongo/internal/docengine"
	"github.com/couchmongo/couchmongo/internal/mongodb"
	"github.com/couchmongo/couchmongo/internal/requestlog"
	"github.com/couchmongo/couchmongo/internal/viewengine"
)

const typeJSON = "application/json"

// Handler is the CouchDB-compatible HTTP handler.
type Handler struct {
	Adapter       mongodb.Store
	Engine        *docengine.Engine
	Designs       *designrepo.Repo
	Views         *viewengine.Engine
	Logger        *log.Logger
	AccessLog     requestlog.RequestLogger
	VendorName    string
	VendorVersion string
	CompressLevel int
	AllowDBDelete bool
}

// New constructs a Handler with sane defaults for the optional fields.
func New(adapter mongodb.Store, engine *docengine.Engine, designs *designrepo.Repo, views *viewengine.Engine) *Handler {
	return &Handler{
		Adapter:       adapter,
		Engine:        engine,
		Designs:       designs,
		Views:         views,
		Logger:        log.Default(),
		AccessLog:     requestlog.Default,
		VendorName:    "couchmongo",
		VendorVersion: "1.0.0",
		CompressLevel: 8,
	}
}

// Router builds the chi router serving the §6 HTTP surface.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Compress(h.CompressLevel, "text/plain", "text/html", "application/json"))
	r.Use(requestID)
	r.Use(h.requestLogger)

	r.Get("/", h.getRoot)
	r.Get("/_all_dbs", h.getAllDBs)

	r.Route("/{db}", func(r chi.Router) {
		r.Head("/", h.headDB)
		r.Get("/", h.getDB)
		r.Put("/", h.putDB)
		r.Delete("/", h.deleteDB)
		r.Post("/", h.postDoc)

		r.Post("/_bulk_docs", h.postBulkDocs)
		r.Post("/_find", h.postFind)
		r.Get("/_all_docs", h.getAllDocs)
		r.Post("/_all_docs", h.getAllDocs)

		r.Get("/_design/{design}/_view/{view}", h.getView)
		r.Post("/_design/{design}/_update/{update}", h.postUpdate)
		r.Put("/_design/{design}/_update/{update}", h.postUpdate)
		r.Post("/_design/{design}/_update/{update}/{id}", h.postUpdate)
		r.Put("/_design/{design}/_update/{update}/{id}", h.postUpdate)

		r.Get("/{id}", h.getDoc)
		r.Put("/{id}", h.putDoc)
		r.Delete("/{id}", h.deleteDoc)
	})

	return r
}

type correlationIDKey struct{}

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		w.Header().Set("X-Request-Id", id)
		ctx := context.WithValue(r.Context(), correlationIDKey{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func correlationID(r *http.Request) string {
	id, _ := r.Context().Value(correlationIDKey{}).(string)
	return id
}

func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		h.AccessLog.Log(r, ww.Status(), requestlog.Fields{
			requestlog.FieldRequestID:   correlationID(r),
			requestlog.FieldElapsedTime: time.Since(start),
			requestlog.FieldResponseSize: ww.BytesWritten(),
		})
	})
}

func dbName(r *http.Request) string { return chi.URLParam(r, "db") }
