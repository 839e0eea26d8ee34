// Package qbo is the stateless wrapper around the provider's OAuth2 token
// endpoint. It performs exactly one HTTP call per invocation, with no retries
// and no caching, and leaves all timing and storage decisions to callers.
package qbo

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"qbo-bridge/internal/common/errors"
	"qbo-bridge/internal/common/httpx"
	"qbo-bridge/internal/common/logging"
)

// TokenResponse is the normalized result of a token endpoint call.
type TokenResponse struct {
	// AccessToken is the new short-lived bearer credential.
	AccessToken string `json:"access_token"`
	// RefreshToken is present when the provider rotated it. When empty the
	// previous refresh token remains valid and must be reused.
	RefreshToken string `json:"refresh_token,omitempty"`
	// ExpiresIn is the access token lifetime in seconds.
	ExpiresIn int `json:"expires_in"`
	// XRefreshTokenExpiresIn is the remaining refresh token lifetime in
	// seconds, when the provider reports it.
	XRefreshTokenExpiresIn int `json:"x_refresh_token_expires_in,omitempty"`
	// TokenType is typically "bearer".
	TokenType string `json:"token_type,omitempty"`
}

// ClientConfig holds the provider credentials and endpoints.
type ClientConfig struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	AuthURL      string
	RedirectURI  string
	Scope        string
	Timeout      time.Duration
}

// Client talks to the provider's token endpoint for the authorization-code
// exchange and the refresh-token grant.
type Client struct {
	config     ClientConfig
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	logger     logging.Logger
}

// NewClient creates a Client. Returns a config error when the provider
// credentials are absent; that condition is fatal and not retryable.
func NewClient(config ClientConfig, logger logging.Logger) (*Client, error) {
	if config.ClientID == "" {
		return nil, errors.MissingCredentialsError("client_id")
	}
	if config.ClientSecret == "" {
		return nil, errors.MissingCredentialsError("client_secret")
	}
	if config.TokenURL == "" {
		return nil, errors.ConfigError("token_url is required")
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "qbo-token-endpoint",
		Timeout: 60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				logging.String("breaker", name),
				logging.String("from", from.String()),
				logging.String("to", to.String()))
		},
	})

	return &Client{
		config:     config,
		httpClient: httpx.NewClientWithTimeout(config.Timeout),
		breaker:    breaker,
		logger:     logger,
	}, nil
}

// AuthorizeURL builds the consent-screen URL for the redirect-based
// connect flow.
func (c *Client) AuthorizeURL(state string) string {
	params := url.Values{}
	params.Set("client_id", c.config.ClientID)
	params.Set("response_type", "code")
	params.Set("scope", c.config.Scope)
	params.Set("redirect_uri", c.config.RedirectURI)
	params.Set("state", state)
	return c.config.AuthURL + "?" + params.Encode()
}

// ExchangeCode performs the authorization-code exchange.
func (c *Client) ExchangeCode(ctx context.Context, code string) (*TokenResponse, error) {
	data := url.Values{}
	data.Set("grant_type", "authorization_code")
	data.Set("code", code)
	data.Set("redirect_uri", c.config.RedirectURI)

	return c.requestToken(ctx, data)
}

// Refresh performs the refresh-token grant. The passed refresh token is
// consumed on success: the response may carry its rotated replacement.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	data := url.Values{}
	data.Set("grant_type", "refresh_token")
	data.Set("refresh_token", refreshToken)

	return c.requestToken(ctx, data)
}

func (c *Client) requestToken(ctx context.Context, data url.Values) (*TokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.TokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, errors.InternalError("failed to create token request", err)
	}
	req.SetBasicAuth(c.config.ClientID, c.config.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	result, err := c.breaker.Execute(func() (interface{}, error) {
		resp, httpErr := c.httpClient.Do(req)
		if httpErr != nil {
			return nil, errors.ExchangeError(0, "", httpErr)
		}
		defer resp.Body.Close()

		body, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if readErr != nil {
			return nil, errors.ExchangeError(resp.StatusCode, "", readErr)
		}

		if resp.StatusCode != http.StatusOK {
			return nil, errors.ExchangeError(resp.StatusCode, string(body), nil)
		}

		var tokenResp TokenResponse
		if jsonErr := json.Unmarshal(body, &tokenResp); jsonErr != nil {
			return nil, errors.ExchangeError(resp.StatusCode, string(body), jsonErr)
		}
		if tokenResp.AccessToken == "" {
			return nil, errors.ExchangeError(resp.StatusCode, string(body), nil).
				WithContext("reason", "response missing access_token")
		}
		return &tokenResp, nil
	})
	if err != nil {
		if errors.IsType(err, errors.ErrTypeExchange) {
			return nil, err
		}
		// Breaker open or other non-HTTP failure.
		return nil, errors.ExchangeError(0, "", err)
	}

	return result.(*TokenResponse), nil
}
