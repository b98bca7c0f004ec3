/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the dashboard frontend

ROUTE GROUPS:
  /api/products/*   Product pages and history
  /api/stats, /api/facets, /api/runs
  /api/admin/*      Manual ingest and image mirroring
  /metrics          Prometheus (when enabled)
  /img/*            Mirrored images (when served from a directory)

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterOptions holds optional routes.
type RouterOptions struct {
	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
	// ImageDir is served at /img/ when set.
	ImageDir string
	// AllowedOrigins defaults to the local dashboard dev servers.
	AllowedOrigins []string
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"http://localhost:5173", "http://localhost:8080"}
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: opts.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Route("/products", func(r chi.Router) {
			r.Get("/", h.ListProducts)
			r.Get("/{id}/history", h.GetHistory)
		})

		r.Get("/stats", h.GetStats)
		r.Get("/facets", h.GetFacets)
		r.Get("/runs", h.ListRuns)

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Post("/ingest", h.TriggerIngest)
			r.Post("/images", h.SyncImages)
		})
	})

	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics)
	}
	if opts.ImageDir != "" {
		r.Handle("/img/*", http.StripPrefix("/img/", http.FileServer(http.Dir(opts.ImageDir))))
	}

	return r
}
