package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"bizsim/internal/api"
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
	slog.SetDefault(logger)

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

	var st store.Store = store.NewPostgresStore(pool, cfg.SettleMaxAttempts)
	var pub notify.Publisher = notify.Nop{}
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Error("redis url invalid", "err", err)
			os.Exit(1)
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()
		st = store.NewCachedStore(st, rdb, cfg.CityCacheTTL)
		pub = notify.NewRedisPublisher(rdb)
		logger.Info("redis enabled", "city_cache_ttl", cfg.CityCacheTTL.String())
	}

	if cfg.StartupSeedCities {
		n, err := st.SeedCities(ctx, store.DefaultCities)
		if err != nil {
			logger.Error("seed cities failed", "err", err)
			os.Exit(1)
		}
		logger.Info("cities seeded", "inserted", n)
	}

	engine := sim.Engine{Workers: cfg.SettleWorkers}
	svc := settlement.NewService(st, engine, pub, logger)
	server := api.New(logger, st, svc, engine)
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("bizsim api listening", "addr", cfg.Addr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server failed", "err", err)
		os.Exit(1)
	}
}
