package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/graphdash/graphdash/internal/api"
	"github.com/graphdash/graphdash/internal/auth"
	catalogpostgres "github.com/graphdash/graphdash/internal/catalog/postgres"
	"github.com/graphdash/graphdash/internal/config"
	"github.com/graphdash/graphdash/internal/connect"
	"github.com/graphdash/graphdash/internal/engine"
	eventspostgres "github.com/graphdash/graphdash/internal/events/postgres"
	"github.com/graphdash/graphdash/internal/observability"
	"github.com/graphdash/graphdash/internal/secrets"
	secretspostgres "github.com/graphdash/graphdash/internal/secrets/postgres"
)

func main() {
	cfg, err := config.LoadFromEnv("graphdash-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)
	controlDB, err := catalogpostgres.Open(context.Background(), catalogpostgres.DBConfig{
		DSN:             cfg.ControlPlane.DSN,
		MaxOpenConns:    cfg.ControlPlane.MaxOpenConns,
		MaxIdleConns:    cfg.ControlPlane.MaxIdleConns,
		ConnMaxIdleTime: cfg.ControlPlane.ConnMaxIdleTime,
		ConnMaxLifetime: cfg.ControlPlane.ConnMaxLifetime,
	})
	if err != nil {
		logger.Error("failed to open control-plane db", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = controlDB.Close() }()

	catalogRepo := catalogpostgres.NewRepository(controlDB)

	encryptor, err := secrets.NewEncryptor(cfg.Secrets.EncryptionKey)
	if err != nil {
		logger.Error("failed to initialize secret encryption", slog.Any("error", err))
		os.Exit(1)
	}
	secretStore := secrets.NewCachingStore(secretspostgres.NewStore(controlDB, encryptor), cfg.Secrets.CacheTTL, nil)

	resolver := connect.NewResolver(catalogRepo, secretStore, logger, connect.PoolConfig{
		MaxOpenConns:    cfg.Engine.PoolMaxOpenConns,
		MaxIdleConns:    cfg.Engine.PoolMaxIdleConns,
		ConnMaxIdleTime: cfg.Engine.PoolConnMaxIdle,
	})
	defer resolver.Close()

	graphEngine := &engine.Engine{
		Connections:        resolver,
		Logger:             logger,
		QueryTimeout:       cfg.Engine.QueryTimeout,
		MaxParallelNodes:   cfg.Engine.MaxParallelNodes,
		PoolAcquireTimeout: cfg.Engine.PoolAcquireTimeout,
	}

	deps := api.Dependencies{
		Logger:      logger,
		Catalog:     catalogRepo,
		Engine:      graphEngine,
		Secrets:     secretStore,
		Connections: resolver,
		Events:      eventspostgres.NewPathway(controlDB),
		ConnectTest: cfg.Engine.ConnectTestTimeout,
		Explorer:    cfg.Explorer,
		Readiness: api.CombineReadinessChecks(
			api.CheckControlPlaneDSN(cfg),
			api.CheckEncryptionKey(cfg),
			catalogRepo.HealthCheck,
		),
		DependencyTimeout: time.Second,
	}
	if cfg.Auth.Required {
		validator, err := auth.NewStaticAPIKeyValidator(cfg.Auth.StaticKeys)
		if err != nil {
			logger.Error("failed to parse static auth keys", slog.Any("error", err))
			os.Exit(1)
		}
		deps.AuthMiddleware = auth.Middleware(logger, validator)
	}

	handler := api.NewHandler(cfg, deps)
	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("starting api server", slog.String("addr", cfg.HTTP.Address))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
		os.Exit(1)
	}
}
