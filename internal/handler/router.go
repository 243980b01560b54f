package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/notcolumbus/dime/internal/middleware"
)

func pathParam(r *http.Request, name string) string {
	return chi.URLParam(r, name)
}

// NewRouter собирает маршрутизатор API сервиса dime.
func NewRouter(h *Handler, logger *zap.Logger) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Logger(logger))
	r.Use(middleware.GzipMiddleware)

	r.Route("/api", func(r chi.Router) {
		r.Post("/categorize-all", h.CategorizeAll)
		r.Post("/categorize/{txID}", h.CategorizeTransaction)
		r.Post("/calculate-points/{txID}", h.CalculatePoints)
		r.Post("/recalculate-points", h.RecalculatePoints)
		r.Post("/backfill-payment-methods", h.BackfillPaymentMethods)

		r.Get("/spending-by-category", h.SpendingByCategory)
		r.Post("/spending-by-category", h.SpendingByCategory)
		r.Get("/cashflow", h.Cashflow)
		r.Post("/cashflow", h.Cashflow)
		r.Get("/spending-trends", h.SpendingTrends)
		r.Post("/spending-trends", h.SpendingTrends)

		r.Get("/transactions", h.GetTransactions)
		r.Get("/top-of-file", h.TopOfFile)
		r.Get("/alerts", h.Alerts)
	})

	r.Handle("/metrics", promhttp.Handler())

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
	})

	return r
}
