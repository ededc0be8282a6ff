/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the chi router, middleware stack and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the dashboard

ROUTE GROUPS:
  /health               Liveness
  /metrics              Prometheus exposition
  /api/etl/*            Workflows and load log
  /api/funds/*          Stored fund data
  /api/holidays/*       Market holiday calendar

SECURITY NOTE:
  No authentication middleware. Deploy behind the internal gateway.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterOptions tune the router. Zero values are usable.
type RouterOptions struct {
	AllowedOrigins []string
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:8081"}
	}

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
	}))

	r.Get("/health", h.Health)
	r.Handle("/metrics", promhttp.HandlerFor(h.Gatherer, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		// Workflow routes
		r.Route("/etl", func(r chi.Router) {
			r.Post("/run-daily", h.RunDaily)
			r.Post("/validate", h.Validate)
			r.Get("/log", h.GetLoadLog)
			r.Route("/workflows", func(r chi.Router) {
				r.Get("/", h.ListWorkflows)
				r.Get("/{id}", h.GetWorkflow)
				r.Get("/{id}/report", h.GetReport)
				r.Post("/{id}/cancel", h.CancelWorkflow)
			})
		})

		// Fund data routes
		r.Route("/funds", func(r chi.Router) {
			r.Get("/", h.ListFunds)
			r.Get("/missing-dates", h.MissingDates)
		})

		// Holiday routes
		r.Route("/holidays", func(r chi.Router) {
			r.Get("/", h.ListHolidays)
			r.Post("/", h.CreateHoliday)
			r.Post("/defaults", h.AddDefaultHolidays)
			r.Delete("/{id}", h.DeleteHoliday)
		})
	})

	return r
}
