package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"dealbook/internal/backend"
	"dealbook/internal/cache"
	"dealbook/internal/cli"
	"dealbook/internal/config"
	"dealbook/internal/core"
	apphttp "dealbook/internal/http"
	applog "dealbook/internal/log"
	"dealbook/internal/services"
	"dealbook/internal/session"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(applog.ComponentApp)
	cfg := cli.LoadAndValidateConfig(logger)

	loc, err := cfg.Location()
	if err != nil {
		logger.Error("Invalid time zone", "tz", cfg.TimeZone, applog.FieldError, err)
		os.Exit(1)
	}

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", applog.FieldError, err)
		os.Exit(1)
	}
	res, err := backend.NewFactory(logger).CreateBackend(context.Background(), backendCfg)
	if err != nil {
		logger.Error("Failed to initialize backend", "backend", cfg.DataBackend, applog.FieldError, err)
		os.Exit(1)
	}

	sessions := session.NewRegistry(res.NewProvider, res.Auth, logger)

	cacheManager := cache.NewManager(logger)
	snapshots, closeCache := newSnapshotCache(cfg, cacheManager, logger)
	cacheManager.StartCleanup(time.Minute)

	deals := services.NewDealService(res.Store, session.ContextGate{}, snapshots, services.Options{
		Timeout:     cfg.StoreTimeout,
		ReadRetries: cfg.StoreReadRetries,
		RetryBase:   cfg.StoreRetryBase,
		Location:    loc,
	}, logger)
	sessions.OnClear(deals.ForgetUser)

	deps := apphttp.Deps{
		Deals:              deals,
		Sessions:           sessions,
		NumericPolicy:      core.NumericPolicy(cfg.NumericPolicy),
		PublicURL:          cfg.PublicURL,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
	}
	if res.Pinger != nil {
		deps.Ready = res.Pinger.Ping
	}
	srv := apphttp.NewServer(":"+cfg.Port, deps, logger)

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", applog.FieldError, err)
		}
		cacheManager.Stop()
		closeCache()
		if res.Cleanup != nil {
			if err := res.Cleanup(); err != nil {
				logger.Error("Backend cleanup error", applog.FieldError, err)
			}
		}
	})

	logger.Info("Starting dealbook server",
		"port", cfg.Port,
		"backend", cfg.DataBackend,
		"numeric_policy", cfg.NumericPolicy,
		"tz", loc.String())
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", applog.FieldError, err, "port", cfg.Port)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}

// newSnapshotCache returns the month snapshot cache: Redis when REDIS_URL is
// set and reachable, otherwise an in-process LRU registered for cleanup.
func newSnapshotCache(cfg *config.Config, manager *cache.Manager, logger *applog.Logger) (cache.Cache[core.MonthSnapshot], func()) {
	if cfg.RedisURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		client, err := cache.NewRedisClient(ctx, cfg.RedisURL)
		if err == nil {
			logger.Info("Using Redis snapshot cache")
			return cache.NewRedisCache[core.MonthSnapshot](client, "dealbook:months", cfg.CacheTTL, logger), func() {
				if err := client.Close(); err != nil {
					logger.Warn("Redis close failed", applog.FieldError, err)
				}
			}
		}
		logger.Warn("Redis unavailable, falling back to in-process cache", applog.FieldError, err)
	}
	lru := cache.NewLRUCache[core.MonthSnapshot](cfg.CacheSize, cfg.CacheTTL)
	manager.Register(lru)
	return lru, func() {}
}
