// Package tokenstore persists the credential pair for each connected
// integration. Exactly one live record exists per integration; writes go
// through a compare-and-save conditioned on the record version so that two
// processes can never both believe they hold the authoritative refresh token.
package tokenstore

import (
	"context"
	"time"
)

// TokenRecord is the stored credential pair for one integration.
type TokenRecord struct {
	// IntegrationID identifies the connected account locally. Stable,
	// minted once at first connect.
	IntegrationID string `json:"integration_id"`
	// RealmID is the provider-side company identifier tied to the credential.
	RealmID string `json:"realm_id"`
	// AccessToken is the short-lived bearer credential.
	AccessToken string `json:"access_token"`
	// RefreshToken rotates: every successful refresh may return a new value
	// that invalidates this one.
	RefreshToken string `json:"refresh_token"`
	// ExpiresAt is when the provider stops accepting AccessToken, already
	// reduced by the safety margin at write time.
	ExpiresAt time.Time `json:"expires_at"`
	// Version increments by one on every successful write.
	Version int64 `json:"version"`
	// UpdatedAt is the last successful write time.
	UpdatedAt time.Time `json:"updated_at"`
}

// TimeUntilExpiry returns the remaining lifetime of the access token.
// Negative when already expired.
func (r *TokenRecord) TimeUntilExpiry() time.Duration {
	return time.Until(r.ExpiresAt)
}

// FreshFor reports whether the access token will remain valid for at
// least minRemaining.
func (r *TokenRecord) FreshFor(minRemaining time.Duration) bool {
	return r.TimeUntilExpiry() >= minRemaining
}

// Store is the durable keyed record store behind the refresh coordinator.
type Store interface {
	// Load returns the current record for an integration, or (nil, nil)
	// when the integration has never connected.
	Load(ctx context.Context, integrationID string) (*TokenRecord, error)

	// CompareAndSave writes rec only if the stored version still equals
	// expectedVersion, incrementing the version by one. On a conflict it
	// returns the current (winning) record together with a conflict error;
	// the caller must re-read rather than overwrite.
	CompareAndSave(ctx context.Context, integrationID string, expectedVersion int64, rec *TokenRecord) (*TokenRecord, error)

	// SaveInitial upserts the record produced by the authorization-code
	// exchange. A replacement of an existing row still advances the version.
	SaveInitial(ctx context.Context, rec *TokenRecord) (*TokenRecord, error)

	// EnsureIntegration returns the integration id for a provider/org pair,
	// creating the registry row on first connect.
	EnsureIntegration(ctx context.Context, provider, orgID string) (string, error)

	// ListConnected returns the ids of all integrations that currently hold
	// a credential record. Used by the keepalive sweep.
	ListConnected(ctx context.Context) ([]string, error)

	Health(ctx context.Context) error
	Close() error
}
