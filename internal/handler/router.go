package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	custommiddleware "github.com/mmeshcher/esim-orders/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса продажи eSIM.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))
	if h.metrics != nil {
		r.Use(custommiddleware.Metrics(h.metrics))
		r.Method(http.MethodGet, "/metrics", h.metrics.Handler())
	}

	r.Get("/healthz", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Get("/packages", h.ListPackages)
		r.Post("/checkout", h.Checkout)

		r.Get("/orders/{uuid}", h.GetOrder)
		r.Get("/orders/{uuid}/esim/qr.png", h.GetEsimQR)

		r.Route("/webhooks", func(r chi.Router) {
			r.Use(h.signature.Middleware)

			r.Post("/payment", h.PaymentWebhook)
			r.Post("/provisioning", h.ProvisioningWebhook)
		})

		r.Group(func(r chi.Router) {
			if h.limiter != nil {
				r.Use(custommiddleware.RateLimit(h.limiter, h.logger))
			}
			r.Post("/track", h.RequestTrackingLink)
		})
		r.Get("/track/{token}", h.TrackOrders)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
