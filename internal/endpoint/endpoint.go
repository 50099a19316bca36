// Package endpoint serves cached snapshots and diagnostics to downstream consumers over HTTP.
package endpoint

import (
	"net/http"

	"github.com/NYTimes/gziphandler"
	"github.com/go-chi/chi/v5"
	"github.com/macrat/telecache/internal/logger"
	"go.uber.org/zap"
)

type handler struct {
	b   Backend
	log *zap.SugaredLogger
}

// New creates the HTTP handler of every endpoint.
// A nil logger discards logs.
func New(b Backend, l *zap.SugaredLogger) http.Handler {
	if l == nil {
		l = logger.Nop()
	}
	h := handler{b: b, log: l}

	r := chi.NewRouter()

	r.Get("/healthz", HealthzEndpoint(b))
	r.Get("/metrics", MetricsEndpoint(b))
	r.Handle("/mcp", MCPHandler(b))

	r.Route("/v1", func(r chi.Router) {
		r.Get("/tiers", h.listTiers)
		r.Get("/tiers/{tier}/snapshot", h.getSnapshot)
		r.Get("/tiers/{tier}/entities", h.getEntities)
		r.Get("/tiers/{tier}/export.xlsx", h.exportXlsx)
		r.Post("/tiers/{tier}/refresh", h.refresh)
		r.Post("/invalidate", h.invalidate)
		r.Get("/diagnostics", h.diagnostics)
		r.Get("/diagnostics.txt", h.diagnosticsText)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", r.URL.Path)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", r.Method+" "+r.URL.Path)
	})

	return gziphandler.GzipHandler(r)
}

func (h handler) handleError(scope string, err error) {
	if err != nil {
		h.log.Warnw("failed to write response", "endpoint", scope, "error", err)
	}
}
