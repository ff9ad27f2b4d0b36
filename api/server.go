/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for frontend tooling

ROUTE GROUPS:
  /api/lots/*          Lot receipt and administration
  /api/products/*      Candidate ranking
  /api/groups/*        Demand groups: preview and commit
  /api/lines/*         Manual allocation and trace read-back
  /api/reservations/*  Reservation lifecycle
  /api/admin/*         Sweep and maintenance

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Lot routes
		r.Route("/lots", func(r chi.Router) {
			r.Post("/", h.ReceiveLot)
			r.Get("/{id}", h.GetLot)
			r.Post("/{id}/locked", h.AdjustLocked)
			r.Post("/{id}/status", h.SetLotStatus)
			r.Post("/{id}/inspection", h.SetInspection)
		})

		// Candidate ranking
		r.Route("/products", func(r chi.Router) {
			r.Get("/{id}/candidates", h.Candidates)
		})

		// Demand group routes
		r.Route("/groups", func(r chi.Router) {
			r.Post("/", h.CreateGroup)
			r.Get("/{id}", h.GetGroup)
			r.Get("/{id}/preview", h.PreviewGroup)
			r.Post("/{id}/commit", h.CommitGroup)
		})

		// Demand line routes
		r.Route("/lines", func(r chi.Router) {
			r.Post("/{id}/allocate", h.AllocateManual)
			r.Get("/{id}/trace", h.TraceForLine)
		})

		// Reservation routes
		r.Route("/reservations", func(r chi.Router) {
			r.Post("/cancel", h.CancelBulk)
			r.Post("/{id}/confirm", h.Confirm)
			r.Post("/{id}/promote", h.Promote)
			r.Post("/{id}/cancel", h.Cancel)
			r.Post("/{id}/external", h.MarkExternal)
			r.Delete("/{id}/external", h.UnmarkExternal)
		})

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Post("/sweep", h.Sweep)
		})
	})

	return r
}
