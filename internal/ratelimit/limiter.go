// Package ratelimit throttles inbound webhook deliveries and admin calls
// using a Redis-backed sliding window shared across processes.
package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"qbo-bridge/internal/common/errors"
	"qbo-bridge/internal/common/logging"
	"qbo-bridge/internal/redis"
)

type Limiter struct {
	redis  *redis.Client
	config *Config
	logger logging.Logger
}

type Config struct {
	DefaultLimit  int
	DefaultWindow time.Duration
	Enabled       bool
}

// RateLimit is the outcome of one check.
type RateLimit struct {
	Allowed   bool
	Limit     int
	Window    time.Duration
	Remaining int
	ResetTime time.Time
}

func NewLimiter(redisClient *redis.Client, config *Config, logger logging.Logger) *Limiter {
	if config == nil {
		config = &Config{
			DefaultLimit:  100,
			DefaultWindow: time.Minute,
			Enabled:       true,
		}
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Limiter{
		redis:  redisClient,
		config: config,
		logger: logger,
	}
}

func (l *Limiter) CheckLimit(ctx context.Context, key string, limit int, window time.Duration) (*RateLimit, error) {
	if !l.config.Enabled || l.redis == nil {
		return &RateLimit{
			Allowed:   true,
			Limit:     limit,
			Window:    window,
			Remaining: limit,
			ResetTime: time.Now().Add(window),
		}, nil
	}

	allowed, current, err := l.redis.CheckRateLimit(ctx, fmt.Sprintf("rate_limit:%s", key), limit, window)
	if err != nil {
		return nil, errors.InternalError("failed to check rate limit", err)
	}

	remaining := limit - current - 1
	if remaining < 0 {
		remaining = 0
	}

	return &RateLimit{
		Allowed:   allowed,
		Limit:     limit,
		Window:    window,
		Remaining: remaining,
		ResetTime: time.Now().Add(window),
	}, nil
}

func (l *Limiter) CheckDefaultLimit(ctx context.Context, key string) (*RateLimit, error) {
	return l.CheckLimit(ctx, key, l.config.DefaultLimit, l.config.DefaultWindow)
}

// HTTPMiddleware limits requests by the key derived from each request.
// Redis errors fail open; a degraded limiter must not block webhooks.
func (l *Limiter) HTTPMiddleware(keyFunc func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.config.Enabled || l.redis == nil {
				next.ServeHTTP(w, r)
				return
			}

			key := keyFunc(r)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			result, err := l.CheckDefaultLimit(r.Context(), key)
			if err != nil {
				l.logger.Warn("rate limit check failed, allowing request",
					logging.String("key", key),
					logging.Err(err))
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", result.Limit))
			w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", result.Remaining))
			w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", result.ResetTime.Unix()))

			if !result.Allowed {
				w.Header().Set("Retry-After", fmt.Sprintf("%d", int(result.Window.Seconds())))
				http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// IPBasedKey keys the limit on the caller's address, honoring proxies.
func IPBasedKey(r *http.Request) string {
	ip := r.Header.Get("X-Forwarded-For")
	if ip == "" {
		ip = r.Header.Get("X-Real-IP")
	}
	if ip == "" {
		ip = r.RemoteAddr
	}
	return fmt.Sprintf("ip:%s", ip)
}

// EndpointBasedKey keys the limit on the route itself, shared by all callers.
func EndpointBasedKey(r *http.Request) string {
	return fmt.Sprintf("endpoint:%s:%s", r.Method, r.URL.Path)
}
