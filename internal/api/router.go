package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/example/ec-fulfillment/internal/api/middleware"
	"github.com/example/ec-fulfillment/internal/auth"
)

type RouterConfig struct {
	Handlers *Handlers
	Auth     *AuthHandlers
	// Customers verifies Supabase access tokens; Operators verifies tokens
	// issued by Auth.Login.
	Customers      middleware.TokenVerifier
	Operators      middleware.TokenVerifier
	RequestTimeout time.Duration
	AllowedOrigin  string
}

func NewRouter(cfg RouterConfig) http.Handler {
	h := cfg.Handlers
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logging)
	r.Use(middleware.CORS(cfg.AllowedOrigin))
	r.Use(chimw.Recoverer)
	if cfg.RequestTimeout > 0 {
		r.Use(chimw.Timeout(cfg.RequestTimeout))
	}

	r.Get("/healthz", h.Health)

	r.Route("/checkout", func(r chi.Router) {
		r.Use(middleware.AuthMiddleware(cfg.Customers))
		r.Post("/intents", h.CreateIntent)
		r.Get("/orders/{id}", h.GetCustomerOrder)
		r.Post("/orders/{id}/verify", h.VerifyPayment)
	})

	r.Route("/shipping", func(r chi.Router) {
		r.Get("/serviceability", h.Serviceability)
		r.Get("/track/{waybill}", h.Track)
	})

	r.Post("/webhooks/{provider}", h.Webhook)

	r.Route("/admin", func(r chi.Router) {
		r.Post("/login", cfg.Auth.Login)
		r.Post("/logout", cfg.Auth.Logout)

		r.Group(func(r chi.Router) {
			r.Use(middleware.AuthMiddleware(cfg.Operators))
			r.Use(middleware.RequireRole(auth.RoleOperator))

			r.Get("/orders/{id}", h.AdminGetOrder)
			r.Get("/orders/{id}/payments", h.AdminPaymentRecords)
			r.Post("/orders/{id}/shipment", h.AdminBookShipment)
			r.Post("/orders/{id}/shipment/retry", h.AdminRetryBooking)
			r.Post("/sweep", h.AdminSweep)
		})
	})

	return r
}
