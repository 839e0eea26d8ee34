package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func adminRequest(key string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/qbo/refresh", nil)
	if key != "" {
		req.Header.Set(AdminKeyHeader, key)
	}
	return req
}

func TestNewAdmin_RequiresCredential(t *testing.T) {
	_, err := NewAdmin(Config{}, nil)
	assert.Error(t, err)

	_, err = NewAdmin(Config{AdminKey: "k"}, nil)
	assert.NoError(t, err)
}

func TestAuthenticate_PlainKey(t *testing.T) {
	a, err := NewAdmin(Config{AdminKey: "super-secret"}, nil)
	require.NoError(t, err)

	assert.NoError(t, a.Authenticate(adminRequest("super-secret")))
	assert.Error(t, a.Authenticate(adminRequest("wrong")))
	assert.Error(t, a.Authenticate(adminRequest("")))
}

func TestAuthenticate_BcryptHash(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("super-secret"), bcrypt.MinCost)
	require.NoError(t, err)

	a, err := NewAdmin(Config{AdminKeyHash: string(hash)}, nil)
	require.NoError(t, err)

	assert.NoError(t, a.Authenticate(adminRequest("super-secret")))
	assert.Error(t, a.Authenticate(adminRequest("wrong")))
}

func TestAuthenticate_HashTakesPrecedence(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("hashed-key"), bcrypt.MinCost)
	require.NoError(t, err)

	a, err := NewAdmin(Config{AdminKey: "plain-key", AdminKeyHash: string(hash)}, nil)
	require.NoError(t, err)

	assert.NoError(t, a.Authenticate(adminRequest("hashed-key")))
	assert.Error(t, a.Authenticate(adminRequest("plain-key")))
}

func TestAuthenticate_BearerToken(t *testing.T) {
	a, err := NewAdmin(Config{JWTSecret: testSecret}, nil)
	require.NoError(t, err)

	token, err := a.MintToken("ops", time.Minute)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/qbo/refresh", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	assert.NoError(t, a.Authenticate(req))
}

func TestAuthenticate_BearerRejections(t *testing.T) {
	a, err := NewAdmin(Config{JWTSecret: testSecret}, nil)
	require.NoError(t, err)

	sign := func(claims jwt.MapClaims, secret string) string {
		raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
		require.NoError(t, err)
		return raw
	}

	cases := map[string]string{
		"wrong secret": sign(jwt.MapClaims{
			"role": "admin", "exp": time.Now().Add(time.Minute).Unix(),
		}, "another-secret-another-secret-32"),
		"expired": sign(jwt.MapClaims{
			"role": "admin", "exp": time.Now().Add(-time.Minute).Unix(),
		}, testSecret),
		"missing role": sign(jwt.MapClaims{
			"exp": time.Now().Add(time.Minute).Unix(),
		}, testSecret),
		"no expiry": sign(jwt.MapClaims{
			"role": "admin",
		}, testSecret),
		"garbage": "not-a-token",
	}

	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/qbo/refresh", nil)
			req.Header.Set("Authorization", "Bearer "+raw)
			assert.Error(t, a.Authenticate(req))
		})
	}
}

func TestMiddleware(t *testing.T) {
	a, err := NewAdmin(Config{AdminKey: "super-secret"}, nil)
	require.NoError(t, err)

	called := false
	handler := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, adminRequest("wrong"))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, called)
	assert.JSONEq(t, `{"error": "Authentication required"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, adminRequest("super-secret"))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, called)
}
