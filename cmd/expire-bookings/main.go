package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"polyatop/backend/internal/config"
	"polyatop/backend/internal/db"
	"polyatop/backend/internal/logging"
	"polyatop/backend/internal/repository"
)

func main() {
	dryRun := flag.Bool("dry-run", false, "only count the bookings that would expire")
	timeout := flag.Duration("timeout", time.Minute, "overall timeout")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	logger, cleanup, err := logging.New(cfg.Logging, "expire-bookings")
	if err != nil {
		log.Fatalf("log error: %v", err)
	}
	defer func() {
		_ = cleanup()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("db error", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	repo := repository.New(pool)

	now := time.Now()
	if *dryRun {
		n, err := repo.CountExpirable(ctx, now)
		if err != nil {
			logger.Error("expire_bookings", "status", "count_failed", "error", err)
			os.Exit(1)
		}
		logger.Info("expire_bookings", "status", "dry_run", "bookings", n)
		fmt.Printf("%d bookings would expire\n", n)
		return
	}

	res, err := repo.ExpireBookings(ctx, now, 0)
	if err != nil {
		logger.Error("expire_bookings", "status", "failed", "error", err)
		os.Exit(1)
	}
	logger.Info("expire_bookings", "status", "done", "bookings", res.Bookings, "transactions", res.Transactions)
	fmt.Printf("expired %d bookings, cancelled %d transactions\n", res.Bookings, res.Transactions)
}
