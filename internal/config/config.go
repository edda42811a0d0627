// Package config loads process settings shared by the API, the worker and
// the bsim CLI.
package config

import (
	"log/slog"
	"strings"
	"time"
)

type Config struct {
	LogLevel string `koanf:"log_level"`

	// Addr is the HTTP listen address, e.g. ":8080".
	Addr        string `koanf:"addr"`
	DatabaseURL string `koanf:"database_url"`
	// RedisURL is optional. Without it the city cache and settlement
	// notifications are disabled.
	RedisURL string `koanf:"redis_url"`

	DBMaxConns        int           `koanf:"db_max_conns"`
	SettleWorkers     int           `koanf:"settle_workers"`
	SettleMaxAttempts int           `koanf:"settle_max_attempts"`
	CityCacheTTL      time.Duration `koanf:"city_cache_ttl"`
	StartupSeedCities bool          `koanf:"startup_seed_cities"`

	WorkerTickEvery time.Duration `koanf:"worker_tick_every"`
	WorkerRunOnce   bool          `koanf:"worker_run_once"`

	APIBaseURL string `koanf:"api_base_url"`
}

func New() *Config {
	return &Config{
		LogLevel:          "info",
		Addr:              ":8080",
		DBMaxConns:        20,
		SettleWorkers:     4,
		SettleMaxAttempts: 5,
		CityCacheTTL:      10 * time.Minute,
		StartupSeedCities: true,
		WorkerTickEvery:   time.Minute,
		APIBaseURL:        "http://localhost:8080",
	}
}

// SlogLevel maps LogLevel onto slog; unknown names mean info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
