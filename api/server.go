/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     logrus request line (method, path, status, duration)
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the web client
  5. Timeout:    Request context deadline

ROUTE GROUPS:
  /healthz              Liveness (store ping)
  /api/auth/*           Login, logout, session check (public)
  /api/customers/*      Customer management      (Bearer session)
  /api/debts/*          Debt management          (Bearer session)
  /api/payments         Payments                 (Bearer session)
  /api/stats            Dashboard aggregates     (Bearer session)

SEE ALSO:
  - handlers.go: Handler implementations
  - middleware.go: RequestLogger, RequireAuth
  - cmd/server/main.go: Server startup
*/
package api

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterOptions tune the middleware stack.
type RouterOptions struct {
	AllowedOrigins []string
	RequestTimeout time.Duration
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(h.log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))
	if opts.RequestTimeout > 0 {
		r.Use(middleware.Timeout(opts.RequestTimeout))
	}

	r.Get("/healthz", h.Health)

	r.Route("/api", func(r chi.Router) {
		// Auth routes
		r.Route("/auth", func(r chi.Router) {
			r.Post("/login", h.Login)
			r.Post("/logout", h.Logout)
			r.Get("/check", h.CheckAuth)
		})

		r.Group(func(r chi.Router) {
			r.Use(h.RequireAuth)

			r.Get("/stats", h.GetStats)

			// Customer routes
			r.Route("/customers", func(r chi.Router) {
				r.Get("/", h.ListCustomers)
				r.Post("/", h.CreateCustomer)
				r.Get("/{id}", h.GetCustomer)
				r.Patch("/{id}", h.UpdateCustomer)
				r.Delete("/{id}", h.DeactivateCustomer)
			})

			// Debt routes
			r.Route("/debts", func(r chi.Router) {
				r.Get("/", h.ListDebts)
				r.Post("/", h.CreateDebt)
				r.Get("/overdue", h.ListOverdueDebts)
				r.Get("/{id}", h.GetDebt)
				r.Patch("/{id}", h.UpdateDebt)
				r.Patch("/{id}/archive", h.ArchiveDebt)
				r.Delete("/{id}", h.DeleteDebt)
			})

			// Payment routes
			r.Route("/payments", func(r chi.Router) {
				r.Get("/", h.ListPayments)
				r.Post("/", h.ApplyPayment)
			})
		})
	})

	return r
}
