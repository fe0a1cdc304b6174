package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "TYPERACE_"

// FileEnv names the variable holding an optional YAML config path.
const FileEnv = EnvPrefix + "CONFIG"

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New())
//  2. file (YAML) if TYPERACE_CONFIG is set
//  3. env (prefix TYPERACE_)
func Load(_ context.Context) (*Config, error) {
	base := New()

	k := koanf.New(".")

	if path := os.Getenv(FileEnv); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrLoadConfig, path, err)
		}
	}

	// TYPERACE_CACHE_TTL -> cache_ttl. Underscores are kept to match the
	// flat koanf tags.
	envProvider := env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.TrimPrefix(strings.ToLower(s), strings.ToLower(EnvPrefix))
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: env: %w", ErrLoadConfig, err)
	}
	// The config path itself is not a field.
	k.Delete("config")

	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return invalid("addr must not be empty")
	case c.LogFormat != "text" && c.LogFormat != "json":
		return invalid("log_format must be text or json")
	case c.StoreDriver != DriverMemory && c.StoreDriver != DriverSQLite && c.StoreDriver != DriverPostgres:
		return invalid("unknown store_driver %q", c.StoreDriver)
	case c.StoreDriver != DriverMemory && c.StoreDSN == "":
		return invalid("store_dsn is required for %s", c.StoreDriver)
	case c.CacheTTL <= 0:
		return invalid("cache_ttl must be positive")
	case c.CacheFlushInterval <= 0:
		return invalid("cache_flush_interval must be positive")
	case c.CacheSweepInterval <= 0:
		return invalid("cache_sweep_interval must be positive")
	case c.EventQueueSize <= 0 || c.WorkerCount <= 0:
		return invalid("queue_size and worker_count must be positive")
	case c.BotTick <= 0:
		return invalid("bot_tick must be positive")
	case c.RatingMin > c.RatingMax:
		return invalid("rating_min %d exceeds rating_max %d", c.RatingMin, c.RatingMax)
	case c.InitialRating < c.RatingMin || c.InitialRating > c.RatingMax:
		return invalid("initial_rating %d outside [%d,%d]", c.InitialRating, c.RatingMin, c.RatingMax)
	case c.ReaperInterval <= 0:
		return invalid("reaper_interval must be positive")
	case c.ChatResponseProbability < 0 || c.ChatResponseProbability > 1:
		return invalid("chat_response_probability must be within [0,1]")
	case c.ChatGrace < 0:
		return invalid("chat_grace must not be negative")
	}
	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}
