package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "BIZSIM_"

// Load layers, lowest precedence first: defaults from New, the YAML file
// named by BIZSIM_CONFIG, the PORT, DATABASE_URL and REDIS_URL variables
// platforms usually inject, then BIZSIM_* variables.
func Load() (*Config, error) {
	k := koanf.New(".")

	if path := strings.TrimSpace(os.Getenv(envPrefix + "CONFIG")); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrLoadConfig, path, err)
		}
	}

	platform := env.ProviderWithValue("", ".", func(key, value string) (string, any) {
		value = strings.TrimSpace(value)
		if value == "" {
			return "", nil
		}
		switch key {
		case "PORT":
			if !strings.HasPrefix(value, ":") {
				value = ":" + value
			}
			return "addr", value
		case "DATABASE_URL":
			return "database_url", value
		case "REDIS_URL":
			return "redis_url", value
		}
		return "", nil
	})
	if err := k.Load(platform, nil); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoadConfig, err)
	}

	prefixed := env.ProviderWithValue(envPrefix, ".", func(key, value string) (string, any) {
		key = strings.ToLower(strings.TrimPrefix(key, envPrefix))
		value = strings.TrimSpace(value)
		if key == "config" || value == "" {
			return "", nil
		}
		return key, value
	})
	if err := k.Load(prefixed, nil); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoadConfig, err)
	}

	cfg := New()
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoadConfig, err)
	}
	cfg.APIBaseURL = strings.TrimRight(cfg.APIBaseURL, "/")
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.SettleWorkers < 1:
		return fmt.Errorf("%w: settle_workers must be >= 1", ErrInvalidConfig)
	case c.SettleMaxAttempts < 1:
		return fmt.Errorf("%w: settle_max_attempts must be >= 1", ErrInvalidConfig)
	case c.DBMaxConns < 1:
		return fmt.Errorf("%w: db_max_conns must be >= 1", ErrInvalidConfig)
	case c.WorkerTickEvery <= 0:
		return fmt.Errorf("%w: worker_tick_every must be positive", ErrInvalidConfig)
	}
	return nil
}

// RequireDatabase reports an error when no database URL is configured.
// The CLI never needs one, so Load does not check it.
func (c *Config) RequireDatabase() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("%w: DATABASE_URL is required", ErrInvalidConfig)
	}
	return nil
}
