// Package handlers implements the HTTP surface of the bridge: integration
// status, manual refresh, the OAuth connect/callback pair and the webhook
// receiver.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"qbo-bridge/internal/common/errors"
	"qbo-bridge/internal/common/logging"
	"qbo-bridge/internal/config"
	"qbo-bridge/internal/keepalive"
	"qbo-bridge/internal/qbo"
	"qbo-bridge/internal/tokenstore"
	"qbo-bridge/internal/webhook"
)

// Coordinator is the slice of the refresh coordinator the handlers use.
type Coordinator interface {
	EnsureFresh(ctx context.Context, integrationID string, minRemaining time.Duration) (*tokenstore.TokenRecord, error)
	ForceRefresh(ctx context.Context, integrationID string) (*tokenstore.TokenRecord, error)
}

// OAuthClient is the slice of the provider client the connect flow uses.
type OAuthClient interface {
	AuthorizeURL(state string) string
	ExchangeCode(ctx context.Context, code string) (*qbo.TokenResponse, error)
}

type Handlers struct {
	store       tokenstore.Store
	coordinator Coordinator
	client      OAuthClient
	verifier    *webhook.Verifier
	sink        webhook.Sink
	scheduler   *keepalive.Scheduler
	config      *config.Config
	logger      logging.Logger
}

// New wires the handlers. scheduler may be nil when the keepalive sweep
// runs in a separate process; sink may be nil to drop webhook events.
func New(store tokenstore.Store, coordinator Coordinator, client OAuthClient, verifier *webhook.Verifier, sink webhook.Sink, scheduler *keepalive.Scheduler, cfg *config.Config, logger logging.Logger) *Handlers {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Handlers{
		store:       store,
		coordinator: coordinator,
		client:      client,
		verifier:    verifier,
		sink:        sink,
		scheduler:   scheduler,
		config:      cfg,
		logger:      logger,
	}
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode response", err)
	}
}

// writeError maps the error taxonomy onto HTTP statuses. Provider failures
// surface as 502 so callers can tell "our bug" from "their outage".
func (h *Handlers) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	message := "internal error"

	switch errors.GetType(err) {
	case errors.ErrTypeNoToken:
		status = http.StatusNotFound
		message = "integration is not connected"
	case errors.ErrTypeExchange:
		status = http.StatusBadGateway
		message = "token exchange with provider failed"
	case errors.ErrTypeSignature:
		status = http.StatusUnauthorized
		message = "signature verification failed"
	case errors.ErrTypeAuth:
		status = http.StatusUnauthorized
		message = "authentication required"
	case errors.ErrTypeValidation:
		status = http.StatusBadRequest
		message = "invalid request"
	case errors.ErrTypeConfig:
		status = http.StatusInternalServerError
		message = "service misconfigured"
	}

	h.writeJSON(w, status, map[string]string{"error": message})
}

// resolveIntegrationID maps the configured provider/org pair to its id,
// creating the registry row on first use.
func (h *Handlers) resolveIntegrationID(ctx context.Context) (string, error) {
	return h.store.EnsureIntegration(ctx, h.config.IntegrationProvider, h.config.IntegrationOrgID)
}
