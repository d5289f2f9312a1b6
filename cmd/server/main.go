package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"hardwarepos/backend/internal/cache"
	"hardwarepos/backend/internal/config"
	"hardwarepos/backend/internal/httpapi"
	"hardwarepos/backend/internal/logging"
	"hardwarepos/backend/internal/metrics"
	"hardwarepos/backend/internal/service"
	"hardwarepos/backend/internal/store"
	"hardwarepos/backend/internal/store/badgerkv"
	"hardwarepos/backend/internal/store/memory"
	pgstore "hardwarepos/backend/internal/store/postgres"
	"hardwarepos/backend/internal/store/sqlite"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.Setup(cfg.LogLevel)

	if err := validateSecurityConfig(cfg); err != nil {
		logger.Error("invalid security configuration", "error", err)
		os.Exit(1)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	repo, backend, err := openRepository(ctx, cfg, logger)
	if err != nil {
		logger.Error("repository unavailable; refusing to start with in-memory fallback", "backend", backend, "error", err)
		os.Exit(1)
	}
	logger.Info("repository ready", "backend", backend)
	closers := []func() error{repo.Close}

	queryCache := cache.ItemQueryCache(cache.NoopItemQueryCache{})
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisItemQueryCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			logger.Warn("redis unavailable, using noop cache", "addr", cfg.RedisAddr, "error", err)
			_ = redisCache.Close()
		} else {
			queryCache = redisCache
			closers = append(closers, redisCache.Close)
			logger.Info("cache: redis", "addr", cfg.RedisAddr)
		}
	} else {
		logger.Info("cache: noop")
	}

	collector := metrics.New()
	svc := service.New(repo, queryCache, collector, service.Options{
		LowStockThreshold: cfg.LowStockThreshold,
		QueryCacheTTL:     time.Duration(cfg.QueryCacheTTLSeconds) * time.Second,
		Logger:            logger,
	})
	auth := httpapi.NewAuthManager(ctx, cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, repo, logger)
	created, err := auth.EnsureAdmin(ctx, cfg.BootstrapAdminPassword)
	if err != nil {
		logger.Error("bootstrap admin failed", "error", err)
		os.Exit(1)
	}
	if created {
		logger.Info("bootstrap admin account created", "username", "admin")
	}
	api := httpapi.New(svc, auth, collector, cfg.AllowedOrigin, logger)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	go func() {
		logger.Info("POS backend listening", "addr", cfg.Address())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			logger.Error("close error", "error", err)
		}
	}

	logger.Info("server stopped")
}

// openRepository picks the first configured backend in the order
// DATABASE_URL, SQLITE_PATH, BADGER_DIR. With none set it runs on seeded
// in-memory data.
func openRepository(ctx context.Context, cfg config.Config, logger *slog.Logger) (store.Repository, string, error) {
	switch {
	case cfg.DatabaseURL != "":
		repo, err := pgstore.New(ctx, cfg.DatabaseURL, cfg.TxMaxRetries)
		if err != nil {
			return nil, "postgres", err
		}
		return repo, "postgres", nil
	case cfg.SQLitePath != "":
		repo, err := sqlite.New(ctx, cfg.SQLitePath, cfg.TxMaxRetries)
		if err != nil {
			return nil, "sqlite", err
		}
		return repo, "sqlite", nil
	case cfg.BadgerDir != "":
		repo, err := badgerkv.New(cfg.BadgerDir, cfg.TxMaxRetries, logger)
		if err != nil {
			return nil, "badger", err
		}
		return repo, "badger", nil
	default:
		return memory.NewSeeded(), "memory", nil
	}
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if cfg.BootstrapAdminPassword != "" && len(cfg.BootstrapAdminPassword) < 8 {
		return fmt.Errorf("BOOTSTRAP_ADMIN_PASSWORD must be at least 8 characters")
	}
	return nil
}
