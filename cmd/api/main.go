package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	api "mission-control/internal/api"
	"mission-control/internal/config"
	"mission-control/internal/lock"
	"mission-control/internal/logging"
	"mission-control/internal/objectsource"
	"mission-control/internal/ratelimit"
	"mission-control/internal/service"
	"mission-control/internal/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "mission-control: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, logCloser, err := logging.New(logging.Options{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		File:   cfg.LogFile,
	}, os.Stderr)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logCloser.Close()
	logger = logger.With().Str("env", cfg.Env).Logger()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	st, err := store.Open(ctx, store.Options{
		Backend:     cfg.StoreBackend,
		Fallback:    cfg.StoreFallback,
		SQLitePath:  cfg.SQLitePath,
		PostgresDSN: cfg.PostgresDSN,
	}, logging.Component(logger, "store"))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	var rdb *redis.Client
	if cfg.NeedsRedis() {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
	}

	opts := []service.Option{service.WithLocker(newLocker(cfg, rdb))}
	if cfg.S3Bucket != "" || cfg.S3Endpoint != "" {
		src, err := objectsource.New(ctx, objectsource.Options{
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			PathStyle: cfg.S3PathStyle,
			MaxBytes:  cfg.S3MaxObjectBytes,
		})
		if err != nil {
			return fmt.Errorf("object source: %w", err)
		}
		opts = append(opts, service.WithObjectSource(src))
	}
	svc := service.New(st, logger, opts...)

	if cfg.SeedDemo {
		if err := svc.Seed(ctx); err != nil {
			return fmt.Errorf("seed: %w", err)
		}
	}

	server := api.New(svc, newLimiter(cfg, rdb), logger)
	httpServer := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", httpServer.Addr).Str("store", st.Backend()).Msg("api listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	return httpServer.Shutdown(shutdownCtx)
}

func newLocker(cfg config.Config, rdb *redis.Client) lock.Locker {
	if cfg.LockBackend == "redis" {
		return lock.NewRedisLocker(rdb, cfg.LockTTL)
	}
	return lock.NewKeyedMutex()
}

func newLimiter(cfg config.Config, rdb *redis.Client) ratelimit.Limiter {
	switch cfg.RateLimitBackend {
	case "redis":
		return ratelimit.NewTokenBucket(rdb, cfg.RateLimitCapacity, cfg.RateLimitRefill, time.Hour)
	case "off":
		return ratelimit.Unlimited{}
	default:
		return ratelimit.NewLocalLimiter(cfg.RateLimitCapacity, cfg.RateLimitRefill)
	}
}
