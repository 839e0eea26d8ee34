package app

import (
	"net/http"

	"github.com/gorilla/mux"

	"qbo-bridge/internal/handlers"
	"qbo-bridge/internal/middleware"
	"qbo-bridge/internal/ratelimit"
)

// SetupRoutes configures the HTTP routes for the API process.
func SetupRoutes(router *mux.Router, h *handlers.Handlers, adminMiddleware func(http.Handler) http.Handler, limiter *ratelimit.Limiter) {
	router.Use(middleware.LoggingMiddleware)

	// Health check, no auth.
	router.HandleFunc("/health", h.HealthCheck).Methods("GET")

	// OAuth connect flow, browser-driven.
	router.HandleFunc("/api/qbo/connect", h.Connect).Methods("GET")
	router.HandleFunc("/quickbooks/callback", h.Callback).Methods("GET")

	// Integration status, read-only.
	router.HandleFunc("/api/qbo/status", h.GetStatus).Methods("GET")

	// Manual refresh, admin only.
	router.Handle("/api/qbo/refresh", adminMiddleware(http.HandlerFunc(h.ForceRefresh))).Methods("POST")

	// Webhook receiver. Rate limited per caller when Redis is available.
	webhookHandler := http.Handler(http.HandlerFunc(h.HandleWebhook))
	if limiter != nil {
		webhookHandler = limiter.HTTPMiddleware(ratelimit.IPBasedKey)(webhookHandler)
	}
	router.Handle("/webhooks/qbo", webhookHandler).Methods("POST")
}
