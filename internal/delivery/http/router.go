package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter wires the storefront API.
func NewRouter(h *Handler, auth *Authenticator, limiter *RateLimiter, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(EnableCORS)

	// gateway redeliveries arrive in bursts from a few addresses
	r.Post("/api/payments/webhook", h.handleWebhook)

	r.Group(func(r chi.Router) {
		r.Use(limiter.Middleware)

		r.Get("/health", h.handleHealth)
		r.Get("/api/products", h.handleGetProducts)

		r.Group(func(r chi.Router) {
			r.Use(auth.Middleware)

			r.Post("/api/orders", h.handleCreateOrder)
			r.Get("/api/orders", h.handleGetOrders)
			r.Get("/api/orders/{id}", h.handleGetOrder)
			r.Get("/api/orders/{id}/history", h.handleOrderHistory)
			r.Post("/api/orders/{id}/cancel", h.handleCancelOrder)
			r.Get("/api/notifications", h.handleListNotifications)

			r.Post("/api/payments/intents", h.handleCreateIntent)
			r.Post("/api/payments/confirm", h.handleConfirmPayment)
			r.Post("/api/refunds", h.handleCreateRefund)

			r.Route("/api/admin", func(r chi.Router) {
				r.Use(RequireAdmin)
				r.Post("/refunds", h.handleCreateRefund)
				r.Post("/refunds/process", h.handleProcessRefund)
				r.Post("/refunds/{id}/complete", h.handleCompleteRefund)
				r.Patch("/orders/{id}/status", h.handleUpdateStatus)
				r.Post("/orders/{id}/cancel", h.handleAdminCancelOrder)
			})
		})
	})
	return r
}

// EnableCORS is a middleware to allow the React frontend to connect.
func EnableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.InfoContext(r.Context(), "HTTP request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}
