// Package refresh implements the token lifecycle coordinator. It decides
// whether the stored credential pair is still usable, serializes refresh
// attempts per integration within the process, and persists rotated pairs
// through versioned writes.
//
// The refresh token is consumed exactly once per rotation: any path that
// could fire two refresh calls concurrently against the same stored token
// is closed here, not left to the provider.
package refresh

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"

	"qbo-bridge/internal/common/errors"
	"qbo-bridge/internal/common/logging"
	"qbo-bridge/internal/qbo"
	"qbo-bridge/internal/tokenstore"
)

// SafetyMargin is subtracted from the provider's stated expiry so the
// final stretch of a token's lifetime is never used. Absorbs clock skew
// and in-flight request latency.
const SafetyMargin = 60 * time.Second

// forceAll makes the refresh path skip the freshness short-circuit.
const forceAll = time.Duration(-1)

// Exchanger is the provider call the coordinator depends on.
type Exchanger interface {
	Refresh(ctx context.Context, refreshToken string) (*qbo.TokenResponse, error)
}

// Coordinator answers "give me a usable access token" and "force a
// refresh" with single-flight semantics per integration.
type Coordinator struct {
	store     tokenstore.Store
	exchanger Exchanger
	group     singleflight.Group
	logger    logging.Logger
	now       func() time.Time
}

// NewCoordinator creates a Coordinator over the given store and exchanger.
func NewCoordinator(store tokenstore.Store, exchanger Exchanger, logger logging.Logger) *Coordinator {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Coordinator{
		store:     store,
		exchanger: exchanger,
		logger:    logger,
		now:       time.Now,
	}
}

// EnsureFresh returns the current record when at least minRemaining of
// access token lifetime is left; otherwise it refreshes first. The common
// path performs no network call. Fails with a no-token error when the
// integration never connected; that is surfaced, not retried.
func (c *Coordinator) EnsureFresh(ctx context.Context, integrationID string, minRemaining time.Duration) (*tokenstore.TokenRecord, error) {
	rec, err := c.store.Load(ctx, integrationID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, errors.NoTokenError(integrationID)
	}
	if rec.FreshFor(minRemaining) {
		return rec, nil
	}

	return c.refresh(ctx, integrationID, minRemaining)
}

// ForceRefresh refreshes regardless of remaining lifetime. Used by the
// manual admin trigger. Still subject to single-flight: a force that
// arrives while a refresh is in flight shares that attempt's outcome.
func (c *Coordinator) ForceRefresh(ctx context.Context, integrationID string) (*tokenstore.TokenRecord, error) {
	return c.refresh(ctx, integrationID, forceAll)
}

// refresh funnels all refresh attempts for one integration through a
// shared in-flight call. A caller that finds an attempt already running
// awaits its result instead of starting a second provider exchange; the
// marker clears when the attempt finishes, success or failure, so a later
// caller can retry.
func (c *Coordinator) refresh(ctx context.Context, integrationID string, minRemaining time.Duration) (*tokenstore.TokenRecord, error) {
	v, err, shared := c.group.Do(integrationID, func() (interface{}, error) {
		return c.doRefresh(ctx, integrationID, minRemaining)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		c.logger.Debug("joined in-flight refresh",
			logging.String("integration_id", integrationID))
	}
	return v.(*tokenstore.TokenRecord), nil
}

func (c *Coordinator) doRefresh(ctx context.Context, integrationID string, minRemaining time.Duration) (*tokenstore.TokenRecord, error) {
	// Re-read inside the flight: a sibling process (or the attempt this
	// caller queued behind) may have written a fresher pair already, and
	// the stored record is the only authoritative copy.
	rec, err := c.store.Load(ctx, integrationID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, errors.NoTokenError(integrationID)
	}
	if minRemaining != forceAll && rec.FreshFor(minRemaining) {
		return rec, nil
	}
	if rec.RefreshToken == "" {
		return nil, errors.NoTokenError(integrationID).
			WithContext("reason", "record has no refresh token")
	}

	resp, err := c.exchanger.Refresh(ctx, rec.RefreshToken)
	if err != nil {
		// The stored record stays untouched; the next scheduler tick or
		// caller retries.
		c.logger.Warn("token refresh failed",
			logging.String("integration_id", integrationID),
			logging.Err(err))
		return nil, err
	}

	// The provider may omit the rotated refresh token; the previous value
	// then remains valid and must be reused.
	newRefresh := resp.RefreshToken
	if newRefresh == "" {
		newRefresh = rec.RefreshToken
	}

	expiresAt := c.now().Add(time.Duration(resp.ExpiresIn)*time.Second - SafetyMargin)

	updated, err := c.store.CompareAndSave(ctx, integrationID, rec.Version, &tokenstore.TokenRecord{
		IntegrationID: integrationID,
		RealmID:       rec.RealmID,
		AccessToken:   resp.AccessToken,
		RefreshToken:  newRefresh,
		ExpiresAt:     expiresAt,
	})
	if err != nil {
		if errors.IsType(err, errors.ErrTypeConflict) {
			// Another process advanced the record past the version this
			// attempt started from. Its pair is the live one; discard this
			// attempt's result rather than overwrite newer credentials.
			c.logger.Info("discarding refresh result after version conflict",
				logging.String("integration_id", integrationID),
				logging.Int64("expected_version", rec.Version))
			return updated, nil
		}
		return nil, err
	}

	c.logger.Info("access token refreshed",
		logging.String("integration_id", integrationID),
		logging.Int64("version", updated.Version),
		logging.Time("expires_at", updated.ExpiresAt))

	return updated, nil
}
