package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
)

type RouterConfig struct {
	AllowedOrigins []string
	Admin          AdminAuth
}

func NewRouter(handler *Handler, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	if len(cfg.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Authorization", "Content-Type", "Admin-Token", "X-Request-Id"},
			ExposedHeaders: []string{"X-Request-Id"},
			MaxAge:         300,
		}))
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeSuccess(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", handler.ready)
	r.Post("/webhooks/stripe", handler.stripeWebhook)

	r.Route("/api/v1/admin", func(r chi.Router) {
		r.Use(cfg.Admin.Middleware)
		r.Post("/affiliate/earnings", handler.recordEarning)
		r.Post("/affiliate/payouts", handler.runPayouts)
		r.Get("/affiliate/payouts/reconciliation", handler.reconcile)
		r.Post("/affiliate/payouts/{payout_id}/repair", handler.repairPayout)
		r.Get("/affiliates/{affiliate_id}", handler.getStatement)
		r.Get("/affiliates/{affiliate_id}/unpaid", handler.getUnpaidTotal)
	})
	return r
}
