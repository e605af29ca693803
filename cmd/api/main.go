package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/kompanio/timebank/internal/config"
	"github.com/kompanio/timebank/internal/infra"
	"github.com/kompanio/timebank/internal/logging"
	"github.com/kompanio/timebank/internal/media"
	"github.com/kompanio/timebank/internal/routes"
	"github.com/kompanio/timebank/internal/server"
	"github.com/kompanio/timebank/internal/store"
	"github.com/kompanio/timebank/internal/trigger"
)

const redisStorePrefix = "timebank:"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	if err := run(cfg, logger); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
	logger.Info("server exited cleanly")
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx := context.Background()

	if cfg.JWTSecret == "" {
		cfg.JWTSecret = uuid.NewString()
		logger.Warn("JWT_SECRET not set, tokens will not survive a restart")
	}

	var (
		db    *pgxpool.Pool
		cache *redis.Client
	)
	if cfg.DatabaseURL != "" {
		pool, err := infra.NewPostgresPool(ctx, cfg.DatabaseURL, infra.PoolOptions{
			AppName:  cfg.AppName,
			MaxConns: int32(cfg.DBMaxConns),
		})
		if err != nil {
			return err
		}
		db = pool
		defer db.Close()
	}
	if cfg.RedisURL != "" {
		c, err := infra.NewRedisClient(ctx, cfg.RedisURL, cfg.AppName)
		if err != nil {
			return err
		}
		cache = c
		defer func() {
			if err := cache.Close(); err != nil {
				logger.Warn("close redis", "error", err)
			}
		}()
	}

	var backend store.Backend
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		pg := store.NewPostgresBackend(db)
		if err := pg.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		backend = pg
	case config.BackendRedis:
		backend = store.NewRedisBackend(cache, redisStorePrefix)
	default:
		backend = store.NewMemoryBackend()
	}

	dispatcher := trigger.NewDispatcher(logger,
		trigger.WithWorkers(cfg.TriggerWorkers),
		trigger.WithQueue(cfg.TriggerQueue),
	)
	st := store.New(backend, store.WithSink(dispatcher))

	var objects media.ObjectStore
	if cfg.S3.Bucket != "" {
		client, err := infra.NewS3Client(ctx, cfg.S3)
		if err != nil {
			return err
		}
		objects = media.NewS3Store(client, cfg.S3.Bucket)
	}

	srv, err := server.New(routes.Deps{
		Cfg:        cfg,
		Store:      st,
		Dispatcher: dispatcher,
		DB:         db,
		Cache:      cache,
		Objects:    objects,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("build server: %w", err)
	}

	runCtx, stopTriggers := context.WithCancel(ctx)
	triggersDone := make(chan error, 1)
	go func() {
		triggersDone <- dispatcher.Run(runCtx)
	}()

	srvErrCh := make(chan error, 1)
	go func() {
		srvErrCh <- srv.Listen()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var listenErr error
	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	case listenErr = <-srvErrCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownPeriod)
	defer cancel()

	if listenErr == nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", "error", err)
		}
	}

	// Stop the workers once no request can publish any more; Run drains what
	// is still queued.
	stopTriggers()
	select {
	case err := <-triggersDone:
		if err != nil {
			logger.Warn("trigger workers stopped", "error", err)
		}
	case <-shutdownCtx.Done():
		logger.Warn("trigger queue not drained before shutdown timeout")
	}

	return listenErr
}
