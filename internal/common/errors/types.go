package errors

import (
	"fmt"
	"strings"
)

// ErrorType classifies an error for callers that branch on failure kind
// rather than message text.
type ErrorType string

const (
	// ErrTypeNoToken means the integration never completed its initial
	// authorization, so there is no credential pair to refresh.
	ErrTypeNoToken ErrorType = "no_token"
	// ErrTypeExchange means the provider rejected a token endpoint call.
	ErrTypeExchange ErrorType = "exchange"
	// ErrTypeConflict means an optimistic-concurrency write lost the race.
	ErrTypeConflict ErrorType = "version_conflict"
	// ErrTypeSignature means an inbound webhook failed HMAC verification.
	ErrTypeSignature ErrorType = "signature_mismatch"
	// ErrTypeConfig represents configuration errors.
	ErrTypeConfig ErrorType = "config"
	// ErrTypeAuth represents authentication errors on the admin surface.
	ErrTypeAuth ErrorType = "authentication"
	// ErrTypeValidation represents validation errors.
	ErrTypeValidation ErrorType = "validation"
	// ErrTypeInternal represents internal system errors.
	ErrTypeInternal ErrorType = "internal"
	// ErrTypeRateLimit represents rate limit errors.
	ErrTypeRateLimit ErrorType = "rate_limit"
)

// AppError is the structured error carried across package boundaries.
type AppError struct {
	Type    ErrorType              `json:"type"`
	Message string                 `json:"message"`
	Cause   error                  `json:"-"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	parts := []string{string(e.Type), e.Message}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause=%v", e.Cause))
	}

	if len(e.Context) > 0 {
		contextParts := make([]string, 0, len(e.Context))
		for k, v := range e.Context {
			contextParts = append(contextParts, fmt.Sprintf("%s=%v", k, v))
		}
		parts = append(parts, fmt.Sprintf("context={%s}", strings.Join(contextParts, ", ")))
	}

	return strings.Join(parts, ": ")
}

// Unwrap returns the underlying cause.
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext adds a key/value pair to the error context.
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NoTokenError reports that an integration has no stored credential pair.
// This is surfaced to callers as a "not connected" state and is never retried.
func NoTokenError(integrationID string) *AppError {
	return &AppError{
		Type:    ErrTypeNoToken,
		Message: "no token record for integration",
		Context: map[string]interface{}{"integration_id": integrationID},
	}
}

// ExchangeError reports a rejected or failed provider token endpoint call.
// Status is the HTTP status from the provider (0 for transport failures)
// and body carries the provider's response text for operators.
func ExchangeError(status int, body string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeExchange,
		Message: "token exchange failed",
		Cause:   cause,
		Context: map[string]interface{}{
			"status": status,
			"body":   body,
		},
	}
}

// ConflictError reports a lost compare-and-save race. Internal to the
// refresh path; resolved by re-reading, never shown to external callers.
func ConflictError(integrationID string, expectedVersion int64) *AppError {
	return &AppError{
		Type:    ErrTypeConflict,
		Message: "token record version conflict",
		Context: map[string]interface{}{
			"integration_id":   integrationID,
			"expected_version": expectedVersion,
		},
	}
}

// SignatureError reports a webhook payload whose HMAC did not verify.
func SignatureError(msg string) *AppError {
	return &AppError{
		Type:    ErrTypeSignature,
		Message: msg,
	}
}

// ConfigError creates a new configuration error.
func ConfigError(msg string) *AppError {
	return &AppError{
		Type:    ErrTypeConfig,
		Message: msg,
	}
}

// MissingCredentialsError reports absent provider client credentials.
// Fatal at startup; not retryable.
func MissingCredentialsError(field string) *AppError {
	return &AppError{
		Type:    ErrTypeConfig,
		Message: fmt.Sprintf("missing provider credential: %s", field),
	}
}

// AuthError creates a new authentication error.
func AuthError(msg string) *AppError {
	return &AppError{
		Type:    ErrTypeAuth,
		Message: msg,
	}
}

// ValidationError creates a new validation error.
func ValidationError(msg string) *AppError {
	return &AppError{
		Type:    ErrTypeValidation,
		Message: msg,
	}
}

// InternalError creates a new internal error.
func InternalError(msg string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeInternal,
		Message: msg,
		Cause:   cause,
	}
}

// RateLimitError creates a new rate limit error.
func RateLimitError(resource string) *AppError {
	return &AppError{
		Type:    ErrTypeRateLimit,
		Message: fmt.Sprintf("rate limit exceeded for %s", resource),
	}
}

// IsType checks if an error is of a specific type.
func IsType(err error, errType ErrorType) bool {
	if err == nil {
		return false
	}

	appErr, ok := err.(*AppError)
	if !ok {
		return false
	}

	return appErr.Type == errType
}

// GetType returns the error type if it's an AppError, otherwise ErrTypeInternal.
func GetType(err error) ErrorType {
	if err == nil {
		return ""
	}

	appErr, ok := err.(*AppError)
	if !ok {
		return ErrTypeInternal
	}

	return appErr.Type
}

// ExchangeStatus extracts the provider HTTP status from an exchange error,
// returning 0 when the error is not an exchange error.
func ExchangeStatus(err error) int {
	appErr, ok := err.(*AppError)
	if !ok || appErr.Type != ErrTypeExchange {
		return 0
	}
	status, _ := appErr.Context["status"].(int)
	return status
}
