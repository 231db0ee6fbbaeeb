// Package api provides the admin HTTP API for Hookline record and route
// management.
//
// The handler is a plain http.Handler; the host application mounts it under
// whatever prefix it likes. Hookline never listens on its own.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/xraph/hookline"
	"github.com/xraph/hookline/store"
)

// Handler is the root HTTP handler for the Hookline admin API.
type Handler struct {
	hl     *hookline.Hookline
	store  store.Store
	logger *slog.Logger
	mux    *http.ServeMux
}

// NewHandler creates a new admin API handler.
func NewHandler(hl *hookline.Hookline, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}

	h := &Handler{
		hl:     hl,
		store:  hl.Store(),
		logger: logger,
		mux:    http.NewServeMux(),
	}

	h.registerRoutes()
	return h
}

func (h *Handler) registerRoutes() {
	// Records
	h.mux.HandleFunc("GET /records", h.listRecords)
	h.mux.HandleFunc("GET /records/{id}", h.getRecord)
	h.mux.HandleFunc("POST /records/{id}/cancel", h.cancelRecord)
	h.mux.HandleFunc("POST /records/{id}/requeue", h.requeueRecord)

	// Routes
	h.mux.HandleFunc("GET /routes", h.listRoutes)
	h.mux.HandleFunc("GET /routes/{id}", h.getRoute)
	h.mux.HandleFunc("POST /routes/seed", h.seedRoutes)
	h.mux.HandleFunc("POST /routes/flush-cache", h.flushRouteCache)

	// Archives
	h.mux.HandleFunc("GET /archives", h.listArchives)
	h.mux.HandleFunc("GET /archives/{id}", h.getArchive)
	h.mux.HandleFunc("POST /archives/{id}/restore", h.restoreArchive)

	// Sweeps
	h.mux.HandleFunc("POST /sweeps/{name}", h.runSweep)

	// Stats
	h.mux.HandleFunc("GET /stats", h.getStats)
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.withMiddleware(h.mux).ServeHTTP(w, r)
}

func (h *Handler) withMiddleware(next http.Handler) http.Handler {
	return h.panicRecovery(h.logging(next))
}

func (h *Handler) logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		h.logger.Info("api request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rw.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

func (h *Handler) panicRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				h.logger.Error("panic recovered",
					"error", rec,
					"stack", string(debug.Stack()),
				)
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// JSON helpers.

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best effort
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// queryParam returns a query parameter value, or empty string if not present.
func queryParam(r *http.Request, key string) string {
	return r.URL.Query().Get(key)
}

// queryInt returns a query parameter as int or a default value.
func queryInt(r *http.Request, key string, defaultVal int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return defaultVal
	}
	var n int
	for _, c := range v {
		if c < '0' || c > '9' {
			return defaultVal
		}
		n = n*10 + int(c-'0')
	}
	return n
}
