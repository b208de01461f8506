package http

import (
	"crypto/rsa"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/robertarktes/group-seat-bookings/internal/idempotency"
	"github.com/robertarktes/group-seat-bookings/internal/observability"
	"github.com/robertarktes/group-seat-bookings/internal/rateLimit"
)

type RouterDeps struct {
	Logger      observability.Logger
	JWTKey      *rsa.PublicKey
	RateLimiter *rateLimit.RateLimiter
	Limits      Limits
	Idempotency *idempotency.Idempotency
}

func SetupRouter(h *Handlers, deps RouterDeps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(RequestIDMiddleware)
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(MetricsMiddleware)

	r.Get("/v1/healthz", h.Healthz)
	r.Get("/v1/readyz", h.Readyz)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Group(func(r chi.Router) {
		r.Use(TracingMiddleware)
		r.Use(JWTMiddleware(deps.JWTKey))
		r.Use(RateLimitMiddleware(deps.RateLimiter, deps.Limits))
		r.Use(IdempotencyMiddleware(deps.Idempotency))

		r.Route("/v1/invites", func(r chi.Router) {
			r.Post("/", h.CreateInvite)
			r.Get("/{code}", h.GetInvite)
			r.Post("/{code}/join", h.JoinInvite)
			r.Post("/{code}/leave", h.LeaveInvite)
			r.Post("/{code}/cancel", h.CancelInvite)
		})

		r.Route("/v1/wallets", func(r chi.Router) {
			r.Post("/", h.OpenWallet)
			r.Get("/{kind}/{userID}", h.GetWallet)
			r.Put("/{kind}/{userID}/status", h.SetWalletStatus)
			r.Get("/{kind}/{userID}/transactions", h.ListTransactions)
		})

		r.Post("/v1/ledger/entries", h.PostEntry)
		r.Post("/v1/ledger/booking-payments", h.BookingPayment)
		r.Post("/v1/ledger/payouts", h.RequestPayout)

		r.Put("/v1/showtimes/{id}", h.PutShowtime)
	})

	return r
}
