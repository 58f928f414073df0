package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"schoolattend/internal/attendance"
	"schoolattend/internal/config"
	"schoolattend/internal/queue"
	"schoolattend/internal/retry"
	"schoolattend/internal/store"
)

// Worker consumes consolidate messages and collapses duplicate student-day rows.
func main() {
	cfg := config.Load()
	logger := cfg.Logger()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.QueueBackend == "memory" {
		logger.Error("worker needs a shared queue; the memory backend heals inside the api process")
		os.Exit(1)
	}

	db, err := store.NewDB(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
	if err != nil {
		logger.Error("db connect failed", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()
	if !redisClient.Healthy(ctx) {
		logger.Warn("redis not reachable yet; consumer will keep retrying", "addr", cfg.RedisAddr)
	}

	policy := retry.Default
	policy.MaxAttempts = cfg.DBAcquireAttempts
	repo := attendance.NewRepository(db.Client, store.NewGate(cfg.DBMaxConns, policy))
	q := queue.NewRedisQueue(redisClient.Client, queue.DefaultKey)

	// the worker never publishes, so the service gets no queue
	svc := attendance.NewService(repo, nil, cfg.ScheduleStart, logger)
	if err := svc.RunHealer(ctx, q); err != nil {
		logger.Error("queue consume init failed", "error", err)
		os.Exit(1)
	}
}
