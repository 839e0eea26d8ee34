package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"

	"qbo-bridge/internal/common/logging"
	"qbo-bridge/internal/config"
	"qbo-bridge/internal/server"
)

// Run is the entry point for the API process. It blocks until SIGINT or
// SIGTERM and then shuts down gracefully.
func Run() error {
	_ = godotenv.Load()

	logging.InitGlobalLogger("qbo-bridge")
	defer logging.MustSync()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logging.Error("Configuration validation failed", err)
		return err
	}

	app, err := New(cfg)
	if err != nil {
		logging.Error("Failed to initialize application", err)
		return err
	}
	defer app.Cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := app.Scheduler.Start(ctx); err != nil {
		logging.Error("Failed to start keepalive scheduler", err)
		return err
	}

	router := mux.NewRouter()
	SetupRoutes(router, app.Handlers, app.Admin.Middleware, app.Limiter)

	srv := server.New(router, cfg.Port)
	errCh := srv.Start()

	logging.Info("qbo-bridge listening",
		logging.String("port", cfg.Port),
		logging.String("database", cfg.DatabaseType))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		logging.Error("Server failed", err)
		return err
	case <-quit:
	}

	logging.Info("Shutting down server...")
	cancel()
	app.Scheduler.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error("Server forced to shutdown", err)
		return err
	}

	logging.Info("Server exited")
	return nil
}
