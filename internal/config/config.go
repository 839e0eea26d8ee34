// Package config provides configuration management for the QBO bridge.
// It loads configuration from environment variables with sensible defaults
// and validates it so the process fails fast on a broken deployment.
//
// Environment Variables:
//
// Application Settings:
//   - PORT: Server port (default: 8080)
//   - LOG_LEVEL: Logging level (default: info)
//   - LOG_FILE: Optional log file path (default: stdout)
//
// Database Configuration:
//   - DATABASE_TYPE: "sqlite" or "postgres" (default: sqlite)
//   - DATABASE_PATH: SQLite database file path (default: ./qbo_bridge.db)
//   - POSTGRES_HOST, POSTGRES_PORT, POSTGRES_DB, POSTGRES_USER,
//     POSTGRES_PASSWORD, POSTGRES_SSL_MODE: PostgreSQL connection settings
//
// Provider (QuickBooks Online):
//   - QBO_CLIENT_ID: OAuth2 client id (required)
//   - QBO_CLIENT_SECRET: OAuth2 client secret (required)
//   - QBO_REDIRECT_URI: OAuth2 callback URL (default: http://localhost:8080/quickbooks/callback)
//   - QBO_SCOPE: requested scopes (default: com.intuit.quickbooks.accounting)
//   - QBO_TOKEN_URL: token endpoint override, used by tests
//   - QBO_AUTH_URL: authorization endpoint override
//   - QBO_WEBHOOK_VERIFIER: shared secret for webhook HMAC verification
//   - QBO_EXCHANGE_TIMEOUT: token endpoint call timeout (default: 10s)
//
// Admin Surface:
//   - ADMIN_API_KEY: shared secret for the manual refresh endpoint
//   - ADMIN_API_KEY_HASH: bcrypt hash alternative to ADMIN_API_KEY
//   - JWT_SECRET: secret accepted for bearer-token admin auth (optional)
//
// Keepalive:
//   - KEEPALIVE_INTERVAL: tick interval (default: 15m in the API, 5m in the worker)
//   - KEEPALIVE_THRESHOLD: refresh when less than this remains (default: 30m)
//   - KEEPALIVE_JITTER: max randomized startup delay (default: 30s)
//
// Redis (optional; enables the event sink and rate limiting):
//   - REDIS_ADDRESS, REDIS_PASSWORD, REDIS_DB, REDIS_POOL_SIZE
//   - RATE_LIMIT_ENABLED, RATE_LIMIT_DEFAULT, RATE_LIMIT_WINDOW
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Default provider endpoints. The token URL serves both the
// authorization-code exchange and the refresh grant.
const (
	DefaultTokenURL = "https://oauth.platform.intuit.com/oauth2/v1/tokens/bearer"
	DefaultAuthURL  = "https://appcenter.intuit.com/connect/oauth2"
)

// Config holds all configuration values for the bridge processes.
type Config struct {
	// Application settings
	Port     string
	LogLevel string

	// Database configuration
	DatabaseType     string
	DatabasePath     string
	PostgresHost     string
	PostgresPort     string
	PostgresDB       string
	PostgresUser     string
	PostgresPassword string
	PostgresSSLMode  string

	// Provider credentials and endpoints
	ClientID        string
	ClientSecret    string
	RedirectURI     string
	Scope           string
	TokenURL        string
	AuthURL         string
	WebhookVerifier string
	ExchangeTimeout time.Duration

	// Admin surface
	AdminAPIKey     string
	AdminAPIKeyHash string
	JWTSecret       string

	// Keepalive scheduler
	KeepaliveInterval  time.Duration
	KeepaliveThreshold time.Duration
	KeepaliveJitter    time.Duration

	// Redis configuration (optional)
	RedisAddress  string
	RedisPassword string
	RedisDB       string
	RedisPoolSize string

	// Rate limiting configuration
	RateLimitEnabled bool
	RateLimitDefault string
	RateLimitWindow  string

	// Integration identity for the single-tenant deployment shape
	IntegrationProvider string
	IntegrationOrgID    string
}

// Load creates a Config with values from environment variables. Call
// Validate on the result before use.
func Load() *Config {
	return &Config{
		Port:     getEnv("PORT", "8080"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		DatabaseType:     getEnv("DATABASE_TYPE", "sqlite"),
		DatabasePath:     getEnv("DATABASE_PATH", "./qbo_bridge.db"),
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresDB:       getEnv("POSTGRES_DB", "qbo_bridge"),
		PostgresUser:     getEnv("POSTGRES_USER", "postgres"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", ""),
		PostgresSSLMode:  getEnv("POSTGRES_SSL_MODE", "disable"),

		ClientID:        getEnv("QBO_CLIENT_ID", ""),
		ClientSecret:    getEnv("QBO_CLIENT_SECRET", ""),
		RedirectURI:     getEnv("QBO_REDIRECT_URI", "http://localhost:8080/quickbooks/callback"),
		Scope:           getEnv("QBO_SCOPE", "com.intuit.quickbooks.accounting"),
		TokenURL:        getEnv("QBO_TOKEN_URL", DefaultTokenURL),
		AuthURL:         getEnv("QBO_AUTH_URL", DefaultAuthURL),
		WebhookVerifier: getEnv("QBO_WEBHOOK_VERIFIER", ""),
		ExchangeTimeout: getDurationEnv("QBO_EXCHANGE_TIMEOUT", 10*time.Second),

		AdminAPIKey:     getEnv("ADMIN_API_KEY", ""),
		AdminAPIKeyHash: getEnv("ADMIN_API_KEY_HASH", ""),
		JWTSecret:       getEnv("JWT_SECRET", ""),

		KeepaliveInterval:  getDurationEnv("KEEPALIVE_INTERVAL", 15*time.Minute),
		KeepaliveThreshold: getDurationEnv("KEEPALIVE_THRESHOLD", 30*time.Minute),
		KeepaliveJitter:    getDurationEnv("KEEPALIVE_JITTER", 30*time.Second),

		RedisAddress:  getEnv("REDIS_ADDRESS", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnv("REDIS_DB", "0"),
		RedisPoolSize: getEnv("REDIS_POOL_SIZE", "10"),

		RateLimitEnabled: getBoolEnv("RATE_LIMIT_ENABLED", true),
		RateLimitDefault: getEnv("RATE_LIMIT_DEFAULT", "100"),
		RateLimitWindow:  getEnv("RATE_LIMIT_WINDOW", "60s"),

		IntegrationProvider: getEnv("INTEGRATION_PROVIDER", "quickbooks"),
		IntegrationOrgID:    getEnv("INTEGRATION_ORG_ID", "default-org"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// Validate checks required fields, formats and cross-field dependencies.
// The provider client id/secret check implements the fail-at-startup
// behavior for missing credentials.
func (c *Config) Validate() error {
	if err := c.validateCommon(); err != nil {
		return err
	}

	if c.AdminAPIKey == "" && c.AdminAPIKeyHash == "" && c.JWTSecret == "" {
		return fmt.Errorf("one of ADMIN_API_KEY, ADMIN_API_KEY_HASH or JWT_SECRET is required to protect the refresh endpoint")
	}

	return nil
}

// ValidateWorker covers the standalone refresher, which has no admin
// surface and therefore needs no admin credential.
func (c *Config) ValidateWorker() error {
	return c.validateCommon()
}

func (c *Config) validateCommon() error {
	if c.ClientID == "" {
		return fmt.Errorf("QBO_CLIENT_ID environment variable is required")
	}
	if c.ClientSecret == "" {
		return fmt.Errorf("QBO_CLIENT_SECRET environment variable is required")
	}

	if port, err := strconv.Atoi(c.Port); err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("PORT must be a valid port number between 1 and 65535")
	}

	switch c.DatabaseType {
	case "sqlite", "postgres", "postgresql":
	default:
		return fmt.Errorf("DATABASE_TYPE must be 'sqlite' or 'postgres'")
	}

	if c.DatabaseType == "postgres" || c.DatabaseType == "postgresql" {
		if c.PostgresHost == "" {
			return fmt.Errorf("POSTGRES_HOST is required when using PostgreSQL")
		}
		if c.PostgresDB == "" {
			return fmt.Errorf("POSTGRES_DB is required when using PostgreSQL")
		}
		if c.PostgresUser == "" {
			return fmt.Errorf("POSTGRES_USER is required when using PostgreSQL")
		}
		if port, err := strconv.Atoi(c.PostgresPort); err != nil || port < 1 || port > 65535 {
			return fmt.Errorf("POSTGRES_PORT must be a valid port number")
		}
	}

	if c.JWTSecret != "" && len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters long when provided")
	}

	if c.ExchangeTimeout <= 0 {
		return fmt.Errorf("QBO_EXCHANGE_TIMEOUT must be positive")
	}
	if c.KeepaliveInterval <= 0 {
		return fmt.Errorf("KEEPALIVE_INTERVAL must be positive")
	}
	// The threshold must leave at least one retry tick before expiry.
	if c.KeepaliveThreshold <= c.KeepaliveInterval {
		return fmt.Errorf("KEEPALIVE_THRESHOLD must be larger than KEEPALIVE_INTERVAL")
	}

	if c.RedisAddress != "" {
		if db, err := strconv.Atoi(c.RedisDB); err != nil || db < 0 || db > 15 {
			return fmt.Errorf("REDIS_DB must be a number between 0 and 15")
		}
		if poolSize, err := strconv.Atoi(c.RedisPoolSize); err != nil || poolSize < 1 {
			return fmt.Errorf("REDIS_POOL_SIZE must be a positive number")
		}
	}

	if c.RateLimitEnabled {
		if limit, err := strconv.Atoi(c.RateLimitDefault); err != nil || limit < 1 {
			return fmt.Errorf("RATE_LIMIT_DEFAULT must be a positive number")
		}
		if _, err := time.ParseDuration(c.RateLimitWindow); err != nil {
			return fmt.Errorf("RATE_LIMIT_WINDOW must be a valid duration (e.g., '60s', '1m')")
		}
	}

	return nil
}
