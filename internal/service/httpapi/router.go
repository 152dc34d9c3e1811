package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// NewRouter собирает маршруты /api/v1/orders с общими middleware.
func NewRouter(h *Handler, logger *log.Entry) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(Identity)
	r.Use(RequestLogger(logger))
	r.Use(middleware.Recoverer)

	r.Route("/api/v1/orders", func(r chi.Router) {
		r.Post("/", h.CreateOrder)
		r.Get("/", h.ListOrders)
		r.Get("/statistics", h.Statistics)
		r.Get("/health", h.Health)
		r.Get("/{orderID}", h.GetOrder)
		r.Get("/{orderID}/timeline", h.Timeline)
		r.Put("/{orderID}/status", h.UpdateStatus)
		r.Post("/{orderID}/cancel", h.CancelOrder)
	})

	return otelhttp.NewHandler(r, "orders-api")
}
