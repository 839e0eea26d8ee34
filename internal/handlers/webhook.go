package handlers

import (
	"context"
	"io"
	"net/http"
	"time"

	"qbo-bridge/internal/common/logging"
	"qbo-bridge/internal/webhook"
)

// maxWebhookBody caps the raw body read. Provider payloads are small; a
// megabyte is already generous.
const maxWebhookBody = 1 << 20

// HandleWebhook receives provider change notifications. The raw body is
// read before any decoding so the signature covers the exact wire bytes.
// Verified payloads are acknowledged immediately; sink delivery happens
// off the request path.
func (h *Handlers) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	if err := h.verifier.Verify(body, r.Header.Get(webhook.SignatureHeader)); err != nil {
		h.writeError(w, err)
		return
	}

	payload, err := webhook.ParsePayload(body)
	if err != nil {
		h.writeError(w, err)
		return
	}

	events := webhook.Flatten(payload, time.Now().UTC())
	if len(events) > 0 && h.sink != nil {
		go func() {
			// Detached from the request context; the delivery outlives the
			// 200 response.
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := h.sink.Deliver(ctx, events); err != nil {
				h.logger.Error("webhook sink delivery failed", err,
					logging.Int("events", len(events)))
			}
		}()
	}

	h.logger.Info("webhook received",
		logging.Int("notifications", len(payload.EventNotifications)),
		logging.Int("entities", len(events)))

	h.writeJSON(w, http.StatusOK, map[string]int{"received": len(events)})
}
