// Package webhook verifies and decodes QuickBooks change notifications.
//
// Intuit signs each delivery with HMAC-SHA256 over the raw request body,
// keyed with the app's verifier token, and sends the base64 digest in the
// intuit-signature header. Verification must run against the exact bytes
// received on the wire, before any JSON decoding.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"

	"qbo-bridge/internal/common/errors"
	"qbo-bridge/internal/common/logging"
)

// SignatureHeader is the request header carrying the base64 HMAC digest.
const SignatureHeader = "intuit-signature"

// Verifier checks webhook payload signatures against a shared verifier token.
type Verifier struct {
	secret []byte
	logger logging.Logger
}

// NewVerifier creates a Verifier for the given verifier token. The token may
// be empty; Verify then rejects every delivery until one is configured.
func NewVerifier(secret string, logger logging.Logger) *Verifier {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Verifier{
		secret: []byte(secret),
		logger: logger,
	}
}

// Verify checks the signature header against the HMAC of the raw body.
// The comparison is constant time.
func (v *Verifier) Verify(body []byte, signature string) error {
	if len(v.secret) == 0 {
		return errors.MissingCredentialsError("QBO_WEBHOOK_VERIFIER")
	}
	if signature == "" {
		return errors.SignatureError("missing signature header")
	}

	mac := hmac.New(sha256.New, v.secret)
	mac.Write(body)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(signature), []byte(expected)) {
		v.logger.Warn("webhook signature mismatch",
			logging.Int("body_bytes", len(body)))
		return errors.SignatureError("signature mismatch")
	}
	return nil
}

// Sign computes the base64 HMAC digest for a payload. Used by tests and by
// tooling that replays captured deliveries.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
