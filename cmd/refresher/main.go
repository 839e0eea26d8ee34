// The refresher is the standalone keepalive worker. It runs the same sweep
// as the API process but on a tighter interval, for deployments where the
// API serves traffic from several replicas and token upkeep should live in
// exactly one place. Concurrent sweeps from API replicas stay safe either
// way; the store's versioned writes make the race harmless.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"

	"qbo-bridge/internal/common/logging"
	"qbo-bridge/internal/config"
	"qbo-bridge/internal/keepalive"
	"qbo-bridge/internal/qbo"
	"qbo-bridge/internal/refresh"
	"qbo-bridge/internal/server"
	"qbo-bridge/internal/tokenstore"
)

func main() {
	if err := run(); err != nil {
		logging.Error("refresher exited with error", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	logging.InitGlobalLogger("qbo-refresher")
	defer logging.MustSync()

	cfg := config.Load()
	// The worker sweeps more often than the API default so a missed tick
	// still leaves headroom before the threshold.
	if os.Getenv("KEEPALIVE_INTERVAL") == "" {
		cfg.KeepaliveInterval = 5 * time.Minute
	}
	if os.Getenv("PORT") == "" {
		cfg.Port = "8081"
	}
	if err := cfg.ValidateWorker(); err != nil {
		logging.Error("Configuration validation failed", err)
		return err
	}

	store, err := tokenstore.NewFromConfig(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

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
		return err
	}

	coordinator := refresh.NewCoordinator(store, client, nil)

	scheduler := keepalive.NewScheduler(store, coordinator, keepalive.Config{
		Interval:  cfg.KeepaliveInterval,
		Threshold: cfg.KeepaliveThreshold,
		MaxJitter: cfg.KeepaliveJitter,
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := scheduler.Start(ctx); err != nil {
		return err
	}

	router := mux.NewRouter()
	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := store.Health(r.Context()); err != nil {
			http.Error(w, "unhealthy: "+err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}).Methods("GET")

	srv := server.New(router, cfg.Port)
	errCh := srv.Start()

	logging.Info("qbo-refresher running",
		logging.String("port", cfg.Port),
		logging.Duration("interval", cfg.KeepaliveInterval),
		logging.Duration("threshold", cfg.KeepaliveThreshold))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-quit:
	}

	logging.Info("Shutting down refresher...")
	cancel()
	scheduler.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}
