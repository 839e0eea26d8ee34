// Package auth guards the admin surface. Callers authenticate with either
// the x-admin-key header or a bearer token minted by the dashboard backend.
package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"qbo-bridge/internal/common/errors"
	"qbo-bridge/internal/common/logging"
)

// AdminKeyHeader carries the shared admin key.
const AdminKeyHeader = "x-admin-key"

// Config selects which credentials the middleware accepts. At least one of
// the three must be set.
type Config struct {
	// AdminKey is compared in constant time against the header value.
	AdminKey string
	// AdminKeyHash is a bcrypt hash of the admin key; preferred over
	// AdminKey so the plaintext never sits in the environment.
	AdminKeyHash string
	// JWTSecret enables bearer tokens signed with HS256. The token must
	// carry a "role" claim of "admin".
	JWTSecret string
}

// Admin authenticates requests to the admin endpoints.
type Admin struct {
	config Config
	logger logging.Logger
}

// NewAdmin creates the admin authenticator.
func NewAdmin(config Config, logger logging.Logger) (*Admin, error) {
	if config.AdminKey == "" && config.AdminKeyHash == "" && config.JWTSecret == "" {
		return nil, errors.ConfigError("no admin credential configured")
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Admin{config: config, logger: logger}, nil
}

// Authenticate checks the request against every configured credential.
func (a *Admin) Authenticate(r *http.Request) error {
	if key := r.Header.Get(AdminKeyHeader); key != "" {
		if a.checkAdminKey(key) {
			return nil
		}
		return errors.AuthError("invalid admin key")
	}

	if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
		if a.config.JWTSecret == "" {
			return errors.AuthError("bearer tokens not enabled")
		}
		return a.checkBearer(strings.TrimPrefix(header, "Bearer "))
	}

	return errors.AuthError("missing admin credentials")
}

func (a *Admin) checkAdminKey(key string) bool {
	if a.config.AdminKeyHash != "" {
		return bcrypt.CompareHashAndPassword([]byte(a.config.AdminKeyHash), []byte(key)) == nil
	}
	if a.config.AdminKey != "" {
		return subtle.ConstantTimeCompare([]byte(a.config.AdminKey), []byte(key)) == 1
	}
	return false
}

func (a *Admin) checkBearer(raw string) error {
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.AuthError("unexpected signing method")
		}
		return []byte(a.config.JWTSecret), nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithExpirationRequired())
	if err != nil {
		return errors.AuthError("invalid bearer token")
	}
	if !token.Valid {
		return errors.AuthError("invalid bearer token")
	}
	if role, _ := claims["role"].(string); role != "admin" {
		return errors.AuthError("insufficient role")
	}
	return nil
}

// Middleware rejects unauthenticated requests with 401 before they reach
// the handler.
func (a *Admin) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := a.Authenticate(r); err != nil {
			a.logger.Warn("admin request rejected",
				logging.String("path", r.URL.Path),
				logging.String("remote", r.RemoteAddr))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error": "Authentication required"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// MintToken issues a short-lived admin bearer token. Used by operational
// tooling; the service itself only verifies.
func (a *Admin) MintToken(subject string, ttl time.Duration) (string, error) {
	if a.config.JWTSecret == "" {
		return "", errors.ConfigError("JWT_SECRET not configured")
	}
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  subject,
		"role": "admin",
		"iat":  now.Unix(),
		"exp":  now.Add(ttl).Unix(),
	})
	return token.SignedString([]byte(a.config.JWTSecret))
}
