package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"polyatop/backend/internal/cache"
	"polyatop/backend/internal/config"
	"polyatop/backend/internal/db"
	"polyatop/backend/internal/http/handlers"
	"polyatop/backend/internal/integrations"
	"polyatop/backend/internal/logging"
	"polyatop/backend/internal/payments"
	"polyatop/backend/internal/rate"
	"polyatop/backend/internal/repository"

	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger, cleanup, err := logging.New(cfg.Logging, "api")
	if err != nil {
		log.Fatalf("log error: %v", err)
	}
	defer func() {
		_ = cleanup()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.AutoMigrate {
		if err := db.Migrate(cfg.DatabaseURL); err != nil {
			logger.Error("migrate error", "error", err)
			os.Exit(1)
		}
		logger.Info("migrations_applied")
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("db error", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	repo := repository.New(pool)
	telegram := integrations.NewTelegramClient(cfg.TelegramToken, cfg.Payments.ProviderToken, cfg.TelegramAPI)

	var deduper cache.Deduper
	var limiter rate.Limiter
	if cfg.RedisURL != "" {
		redisClient, err := cache.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Error("redis error", "error", err)
			os.Exit(1)
		}
		defer redisClient.Close()
		deduper = cache.NewRedisDeduper(redisClient, "polyatop:tg:")
		limiter = rate.NewRedisWindowLimiter(redisClient, "polyatop:rl:", cfg.BookingRateLimit, time.Minute)
	}

	var s3Client *integrations.S3Client
	if cfg.S3.Bucket != "" {
		s3Client, err = integrations.NewS3(ctx, cfg.S3)
		if err != nil {
			logger.Error("s3 error", "error", err)
			os.Exit(1)
		}
	}

	h := handlers.New(handlers.Deps{
		Repo:           repo,
		Payments:       payments.NewService(repo, telegram, cfg, logger),
		Telegram:       telegram,
		S3:             s3Client,
		Deduper:        deduper,
		BookingLimiter: limiter,
		Config:         cfg,
		Logger:         logger,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handlers.NewRouter(h, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("api_listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown", "service", "api")
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(ctxShutdown)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
