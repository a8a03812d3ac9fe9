// Scriptorium - Typewriting Monkey Live Stream
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/scriptorium

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter configures all HTTP routes.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()

	// Global middleware, applied to all routes in order.
	r.Use(RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(RequestLogging)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet},
	}))

	// REST surface. The back-fill endpoint does chunked backend reads, so
	// rate limiting keeps one greedy client from monopolizing the store.
	r.Route("/v1", func(r chi.Router) {
		r.Use(httprate.LimitByIP(300, time.Minute))

		r.Get("/status", h.Status)
		r.Get("/stats", h.Stats)
		r.Get("/chars", h.Chars)

		r.Route("/health", func(r chi.Router) {
			r.Get("/", h.Health)
			r.Get("/live", h.HealthLive)
			r.Get("/ready", h.HealthReady)
		})
	})

	// Live subscription endpoint. Not rate limited: one long-lived
	// connection per subscriber.
	r.Get("/ws", h.WebSocket)

	// Prometheus metrics.
	r.Handle("/metrics", promhttp.Handler())

	return r
}
