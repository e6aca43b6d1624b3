package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"polyatop/backend/internal/config"
	"polyatop/backend/internal/db"
	"polyatop/backend/internal/logging"
	"polyatop/backend/internal/repository"
	"polyatop/backend/internal/scheduler"

	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger, cleanup, err := logging.New(cfg.Logging, "worker")
	if err != nil {
		log.Fatalf("log error: %v", err)
	}
	defer func() {
		_ = cleanup()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("db error", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	repo := repository.New(pool)

	sched, err := scheduler.New(logger)
	if err != nil {
		logger.Error("scheduler error", "error", err)
		os.Exit(1)
	}
	_, err = sched.Every(ctx, "expire_bookings", cfg.ExpireInterval, func(ctx context.Context) error {
		runCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		res, err := repo.ExpireBookings(runCtx, time.Now(), 0)
		if err != nil {
			return err
		}
		if res.Bookings > 0 {
			logger.Info("expire_bookings", "status", "expired", "bookings", res.Bookings, "transactions", res.Transactions)
		}
		return nil
	})
	if err != nil {
		logger.Error("scheduler error", "error", err)
		os.Exit(1)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("worker_started", "expire_interval", cfg.ExpireInterval.String())
		sched.Start()
		<-gctx.Done()
		logger.Info("shutdown", "service", "worker")
		return sched.Stop()
	})
	if err := g.Wait(); err != nil {
		logger.Error("worker error", "error", err)
		os.Exit(1)
	}
}
