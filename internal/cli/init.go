// Package cli holds the start-up and shutdown steps shared by cmd/dealbook
// and cmd/dealbook-worker.
package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"dealbook/internal/config"
	applog "dealbook/internal/log"
)

// SetupLogger builds the process logger at LOG_LEVEL and installs it as the
// slog default.
func SetupLogger(component string) *applog.Logger {
	cfg := applog.DefaultConfig()
	cfg.Level = applog.ParseLevel(os.Getenv("LOG_LEVEL"))
	cfg.Component = component
	logger := applog.New(cfg)
	applog.SetDefault(logger)
	return logger
}

// LoadEnvFile reads ./.env when present. A missing file is normal outside
// local development.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// LoadAndValidateConfig exits the process when the environment does not
// produce a valid configuration.
func LoadAndValidateConfig(logger *applog.Logger) *config.Config {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", applog.FieldError, err)
		os.Exit(1)
	}
	logger.Debug("Configuration loaded",
		applog.FieldBackend, cfg.DataBackend,
		"amqp", cfg.AMQPURL != "",
		"redis", cfg.RedisURL != "")
	return cfg
}

// GracefulShutdown returns a context cancelled on SIGINT or SIGTERM. After
// cancellation cleanup runs with timeout, then done is closed.
func GracefulShutdown(logger *applog.Logger, timeout time.Duration, cleanup func(ctx context.Context)) (context.Context, <-chan struct{}) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})

	go func() {
		defer close(done)
		<-ctx.Done()
		stop()
		logger.Info("Shutdown signal received", applog.FieldOperation, applog.OpShutdown)

		if cleanup == nil {
			return
		}
		cleanupCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		cleanup(cleanupCtx)
		if cleanupCtx.Err() != nil {
			logger.Warn("Shutdown timeout reached", "timeout", timeout.String())
			return
		}
		logger.Info("Shutdown complete")
	}()

	return ctx, done
}

// WaitForShutdown blocks until ctx is cancelled and cleanup has finished.
func WaitForShutdown(ctx context.Context, done <-chan struct{}) {
	<-ctx.Done()
	<-done
}
