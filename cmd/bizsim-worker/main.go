package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"bizsim/internal/config"
	"bizsim/internal/db"
	"bizsim/internal/notify"
	"bizsim/internal/settlement"
	"bizsim/internal/sim"
	"bizsim/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err == nil {
		err = cfg.RequireDatabase()
	}
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	pool, err := db.Connect(ctx, cfg.DatabaseURL, int32(cfg.DBMaxConns))
	if err != nil {
		logger.Error("db connect failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()
	if err := db.Migrate(ctx, pool); err != nil {
		logger.Error("migrate failed", "err", err)
		os.Exit(1)
	}

	var pub notify.Publisher = notify.Nop{}
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Error("redis url invalid", "err", err)
			os.Exit(1)
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()
		pub = notify.NewRedisPublisher(rdb)
	}

	st := store.NewPostgresStore(pool, cfg.SettleMaxAttempts)
	svc := settlement.NewService(st, sim.Engine{Workers: cfg.SettleWorkers}, pub, logger)

	if cfg.WorkerRunOnce {
		n, err := svc.SettleDue(ctx)
		if err != nil {
			logger.Error("settlement sweep failed", "settled", n, "err", err)
			os.Exit(1)
		}
		logger.Info("worker run-once completed", "settled", n)
		return
	}

	ticker := time.NewTicker(cfg.WorkerTickEvery)
	defer ticker.Stop()

	logger.Info("worker started", "tick_every", cfg.WorkerTickEvery.String(), "settle_workers", cfg.SettleWorkers)
	for {
		select {
		case <-ctx.Done():
			logger.Info("worker shutdown")
			return
		case <-ticker.C:
			n, err := svc.SettleDue(ctx)
			if err != nil {
				logger.Error("settlement sweep failed", "settled", n, "err", err)
				continue
			}
			if n > 0 {
				logger.Info("settlement sweep complete", "settled", n)
			}
		}
	}
}
