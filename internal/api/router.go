/**
 * @description
 * This file sets up the HTTP router for the ledger worker. It defines the
 * endpoints the central router calls on each partition worker and applies the
 * standard middleware stack.
 *
 * Note: there is deliberately no timeout middleware. Store operations block
 * the request goroutine for their duration; a stalled filesystem stalls that
 * request. This is a documented property of the single-node deployment model,
 * and cutting a request off mid-critical-section would help nothing.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// NewRouter wires the worker endpoints.
func NewRouter(h *Handlers, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)

	r.Get("/health", h.HealthHandler)
	r.Get("/balance", h.BalanceHandler)
	r.Get("/cash_position", h.CashPositionHandler)
	r.Get("/transactions", h.TransactionsHandler)
	r.Post("/transfer", h.TransferHandler)
	r.Post("/credit", h.CreditHandler)

	return r
}

// requestLogger emits one structured line per request.
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}
