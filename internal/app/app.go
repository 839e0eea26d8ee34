// Package app assembles the API process: configuration, storage, the
// provider client, the refresh coordinator, the keepalive scheduler and
// the HTTP surface.
package app

import (
	"strconv"
	"time"

	"qbo-bridge/internal/auth"
	"qbo-bridge/internal/common/logging"
	"qbo-bridge/internal/config"
	"qbo-bridge/internal/handlers"
	"qbo-bridge/internal/keepalive"
	"qbo-bridge/internal/qbo"
	"qbo-bridge/internal/ratelimit"
	"qbo-bridge/internal/redis"
	"qbo-bridge/internal/refresh"
	"qbo-bridge/internal/tokenstore"
	"qbo-bridge/internal/webhook"
)

// App holds every long-lived component of the API process.
type App struct {
	Config      *config.Config
	Store       tokenstore.Store
	Redis       *redis.Client
	Limiter     *ratelimit.Limiter
	Client      *qbo.Client
	Coordinator *refresh.Coordinator
	Scheduler   *keepalive.Scheduler
	Admin       *auth.Admin
	Handlers    *handlers.Handlers
}

// New wires the application from validated configuration.
func New(cfg *config.Config) (*App, error) {
	store, err := tokenstore.NewFromConfig(cfg)
	if err != nil {
		return nil, err
	}

	client, err := qbo.NewClient(qbo.ClientConfig{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
		AuthURL:      cfg.AuthURL,
		RedirectURI:  cfg.RedirectURI,
		Scope:        cfg.Scope,
		Timeout:      cfg.ExchangeTimeout,
	}, nil)
	if err != nil {
		store.Close()
		return nil, err
	}

	coordinator := refresh.NewCoordinator(store, client, nil)

	scheduler := keepalive.NewScheduler(store, coordinator, keepalive.Config{
		Interval:  cfg.KeepaliveInterval,
		Threshold: cfg.KeepaliveThreshold,
		MaxJitter: cfg.KeepaliveJitter,
	}, nil)

	admin, err := auth.NewAdmin(auth.Config{
		AdminKey:     cfg.AdminAPIKey,
		AdminKeyHash: cfg.AdminAPIKeyHash,
		JWTSecret:    cfg.JWTSecret,
	}, nil)
	if err != nil {
		store.Close()
		return nil, err
	}

	app := &App{
		Config:      cfg,
		Store:       store,
		Client:      client,
		Coordinator: coordinator,
		Scheduler:   scheduler,
		Admin:       admin,
	}

	if cfg.RedisAddress != "" {
		if err := app.setupRedis(); err != nil {
			store.Close()
			return nil, err
		}
	}

	verifier := webhook.NewVerifier(cfg.WebhookVerifier, nil)
	app.Handlers = handlers.New(store, coordinator, client, verifier, app.eventSink(), scheduler, cfg, nil)

	return app, nil
}

func (a *App) setupRedis() error {
	db, _ := strconv.Atoi(a.Config.RedisDB)
	poolSize, _ := strconv.Atoi(a.Config.RedisPoolSize)

	client, err := redis.NewClient(&redis.Config{
		Address:  a.Config.RedisAddress,
		Password: a.Config.RedisPassword,
		DB:       db,
		PoolSize: poolSize,
	})
	if err != nil {
		return err
	}
	a.Redis = client

	limit, _ := strconv.Atoi(a.Config.RateLimitDefault)
	window, _ := time.ParseDuration(a.Config.RateLimitWindow)
	a.Limiter = ratelimit.NewLimiter(client, &ratelimit.Config{
		DefaultLimit:  limit,
		DefaultWindow: window,
		Enabled:       a.Config.RateLimitEnabled,
	}, nil)

	return nil
}

// eventSink picks where verified webhook events go: the pub/sub channel
// when Redis is configured, the structured log otherwise.
func (a *App) eventSink() webhook.Sink {
	if a.Redis != nil {
		return webhook.NewRedisSink(a.Redis, "qbo:events", nil)
	}
	return webhook.NewLogSink(nil)
}

// Cleanup releases connections. Safe to call once after shutdown.
func (a *App) Cleanup() {
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			logging.Warn("failed to close redis client", logging.Err(err))
		}
	}
	if err := a.Store.Close(); err != nil {
		logging.Warn("failed to close token store", logging.Err(err))
	}
}
