package handlers

import (
	"net/http"
	"time"

	"qbo-bridge/internal/common/logging"
)

// StatusResponse is the GET /api/qbo/status body. It exposes expiry and
// version metadata but never the credentials themselves.
type StatusResponse struct {
	Connected        bool       `json:"connected"`
	RealmID          string     `json:"realmId,omitempty"`
	ExpiresAt        *time.Time `json:"expiresAt,omitempty"`
	ExpiresInSeconds int64      `json:"expiresInSeconds,omitempty"`
	Version          int64      `json:"version,omitempty"`
	UpdatedAt        *time.Time `json:"updatedAt,omitempty"`
	Keepalive        *Keepalive `json:"keepalive,omitempty"`
}

// Keepalive reports sweep counters when the scheduler runs in-process.
type Keepalive struct {
	Sweeps   int64 `json:"sweeps"`
	Checked  int64 `json:"checked"`
	Failures int64 `json:"failures"`
}

// GetStatus reports whether the integration is connected and how much
// lifetime the current access token has left.
func (h *Handlers) GetStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	integrationID, err := h.resolveIntegrationID(ctx)
	if err != nil {
		h.writeError(w, err)
		return
	}

	rec, err := h.store.Load(ctx, integrationID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	resp := StatusResponse{}
	if rec != nil {
		expiresIn := int64(rec.TimeUntilExpiry().Seconds())
		if expiresIn < 0 {
			expiresIn = 0
		}
		resp.Connected = true
		resp.RealmID = rec.RealmID
		resp.ExpiresAt = &rec.ExpiresAt
		resp.ExpiresInSeconds = expiresIn
		resp.Version = rec.Version
		resp.UpdatedAt = &rec.UpdatedAt
	}
	if h.scheduler != nil {
		stats := h.scheduler.Snapshot()
		resp.Keepalive = &Keepalive{
			Sweeps:   stats.Sweeps,
			Checked:  stats.Checked,
			Failures: stats.Failures,
		}
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// ForceRefresh performs an immediate refresh regardless of remaining
// lifetime. Admin authenticated; sits behind auth.Middleware in the router.
func (h *Handlers) ForceRefresh(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	integrationID, err := h.resolveIntegrationID(ctx)
	if err != nil {
		h.writeError(w, err)
		return
	}

	rec, err := h.coordinator.ForceRefresh(ctx, integrationID)
	if err != nil {
		h.logger.Warn("manual refresh failed",
			logging.String("integration_id", integrationID),
			logging.Err(err))
		h.writeError(w, err)
		return
	}

	expiresIn := int64(rec.TimeUntilExpiry().Seconds())
	h.writeJSON(w, http.StatusOK, StatusResponse{
		Connected:        true,
		RealmID:          rec.RealmID,
		ExpiresAt:        &rec.ExpiresAt,
		ExpiresInSeconds: expiresIn,
		Version:          rec.Version,
		UpdatedAt:        &rec.UpdatedAt,
	})
}

// HealthCheck reports process and dependency health.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	status := http.StatusOK
	overall := "ok"
	checks := map[string]string{}

	if err := h.store.Health(ctx); err != nil {
		checks["database"] = "unhealthy: " + err.Error()
		status = http.StatusServiceUnavailable
		overall = "degraded"
	} else {
		checks["database"] = "healthy"
	}

	h.writeJSON(w, status, map[string]interface{}{
		"status": overall,
		"checks": checks,
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}
