package handlers

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"net/http"
	"time"

	"qbo-bridge/internal/common/logging"
	"qbo-bridge/internal/refresh"
	"qbo-bridge/internal/tokenstore"
)

// StateCookie carries the CSRF state between the connect redirect and the
// provider callback.
const StateCookie = "qbo_oauth_state"

// stateTTL bounds how long a pending authorization stays valid.
const stateTTL = 10 * time.Minute

// Connect starts the authorization flow: mints a random state, pins it in
// a short-lived cookie and redirects the browser to the provider.
func (h *Handlers) Connect(w http.ResponseWriter, r *http.Request) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		h.writeError(w, err)
		return
	}
	state := base64.RawURLEncoding.EncodeToString(buf)

	http.SetCookie(w, &http.Cookie{
		Name:     StateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   int(stateTTL.Seconds()),
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, h.client.AuthorizeURL(state), http.StatusFound)
}

// Callback completes the authorization flow: validates state, exchanges
// the code for the first token pair and persists it.
func (h *Handlers) Callback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	query := r.URL.Query()

	if errParam := query.Get("error"); errParam != "" {
		h.logger.Warn("authorization denied by provider",
			logging.String("error", errParam))
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "authorization was denied"})
		return
	}

	code := query.Get("code")
	state := query.Get("state")
	realmID := query.Get("realmId")
	if code == "" || state == "" {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing code or state"})
		return
	}

	cookie, err := r.Cookie(StateCookie)
	if err != nil || subtle.ConstantTimeCompare([]byte(cookie.Value), []byte(state)) != 1 {
		h.logger.Warn("oauth state mismatch", logging.String("remote", r.RemoteAddr))
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "state mismatch"})
		return
	}

	// The state is single use.
	http.SetCookie(w, &http.Cookie{
		Name:     StateCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})

	resp, err := h.client.ExchangeCode(ctx, code)
	if err != nil {
		h.logger.Error("authorization code exchange failed", err)
		h.writeError(w, err)
		return
	}

	integrationID, err := h.resolveIntegrationID(ctx)
	if err != nil {
		h.writeError(w, err)
		return
	}

	expiresAt := time.Now().Add(time.Duration(resp.ExpiresIn)*time.Second - refresh.SafetyMargin)
	rec, err := h.store.SaveInitial(ctx, &tokenstore.TokenRecord{
		IntegrationID: integrationID,
		RealmID:       realmID,
		AccessToken:   resp.AccessToken,
		RefreshToken:  resp.RefreshToken,
		ExpiresAt:     expiresAt,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.logger.Info("integration connected",
		logging.String("integration_id", integrationID),
		logging.String("realm_id", realmID),
		logging.Int64("version", rec.Version))

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"connected": true,
		"realmId":   realmID,
		"expiresAt": rec.ExpiresAt,
	})
}
