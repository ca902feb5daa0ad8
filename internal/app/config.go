package app

import (
	"fmt"
	"strings"
	"time"

	"barcache/internal/cache"
	"barcache/internal/model"

	"github.com/caarlos0/env/v11"
)

// Config holds application configuration from env
type Config struct {
	CacheDir    string `env:"CACHE_DIR" envDefault:"data/cache"`
	CacheFormat string `env:"CACHE_FORMAT" envDefault:"json"` // json | parquet
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`    // debug | info | warn | error
	TiersFile   string `env:"TIERS_FILE"`

	RedisAddr     string `env:"REDIS_ADDR"` // empty: in-process lock client
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	LockLease       time.Duration `env:"LOCK_LEASE" envDefault:"60s"`
	WaitInitial     time.Duration `env:"WAIT_INITIAL" envDefault:"250ms"`
	WaitMaxInterval time.Duration `env:"WAIT_MAX_INTERVAL" envDefault:"5s"`
	WaitMaxElapsed  time.Duration `env:"WAIT_MAX_ELAPSED" envDefault:"60s"`
	WaitMaxAttempts int           `env:"WAIT_MAX_ATTEMPTS" envDefault:"20"`

	MaxConcurrentIO int `env:"MAX_CONCURRENT_IO" envDefault:"8"`
	LocalLockShards int `env:"LOCAL_LOCK_SHARDS" envDefault:"256"`

	CleanupInterval time.Duration `env:"CLEANUP_INTERVAL" envDefault:"1h"`
	CleanupGrace    float64       `env:"CLEANUP_GRACE" envDefault:"2.0"`

	DataProvider        string   `env:"DATA_PROVIDER" envDefault:"polygon"`
	PolygonAPIKeys      []string `env:"POLYGON_API_KEYS" envSeparator:","`
	PolygonAPIKey       string   `env:"POLYGON_API_KEY"`
	PolygonAvoidDelayed bool     `env:"POLYGON_AVOID_DELAYED" envDefault:"false"`

	TickersFile   string   `env:"TICKERS_FILE"`
	WarmIntervals []string `env:"WARM_INTERVALS" envSeparator:"," envDefault:"1d,5m"`
	WarmDays      int      `env:"WARM_DAYS" envDefault:"30"`
	WarmRunHour   int      `env:"WARM_RUN_HOUR" envDefault:"0"`
	WarmRunMinute int      `env:"WARM_RUN_MINUTE" envDefault:"30"`

	OTELEndpoint string `env:"OTEL_ENDPOINT"`
}

// LoadConfig reads config from environment
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.PolygonAPIKeys = parsePolygonAPIKeys(cfg.PolygonAPIKeys, cfg.PolygonAPIKey)
	cfg.CacheFormat = strings.ToLower(strings.TrimSpace(cfg.CacheFormat))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges that env tags cannot express.
func (c *Config) Validate() error {
	if c.WarmRunHour < 0 || c.WarmRunHour > 23 {
		return fmt.Errorf("WARM_RUN_HOUR %d out of range 0-23", c.WarmRunHour)
	}
	if c.WarmRunMinute < 0 || c.WarmRunMinute > 59 {
		return fmt.Errorf("WARM_RUN_MINUTE %d out of range 0-59", c.WarmRunMinute)
	}
	if c.WarmDays < 1 {
		return fmt.Errorf("WARM_DAYS must be positive, got %d", c.WarmDays)
	}
	if c.CleanupInterval <= 0 {
		return fmt.Errorf("CLEANUP_INTERVAL must be positive, got %s", c.CleanupInterval)
	}
	if c.CleanupGrace < 1 {
		return fmt.Errorf("CLEANUP_GRACE must be at least 1, got %g", c.CleanupGrace)
	}
	if _, err := c.Intervals(); err != nil {
		return err
	}
	return c.CacheConfig().Validate()
}

// parsePolygonAPIKeys prefers the list and falls back to the single key.
func parsePolygonAPIKeys(list []string, single string) []string {
	if len(list) == 0 && single != "" {
		list = strings.Split(single, ",")
	}
	keys := make([]string, 0, len(list))
	for _, k := range list {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

// CacheConfig returns the miss-protocol settings.
func (c *Config) CacheConfig() cache.Config {
	return cache.Config{
		LockLease: c.LockLease,
		Wait: cache.WaitPolicy{
			Initial:     c.WaitInitial,
			MaxInterval: c.WaitMaxInterval,
			MaxElapsed:  c.WaitMaxElapsed,
			MaxAttempts: c.WaitMaxAttempts,
		},
	}
}

// Intervals parses WARM_INTERVALS.
func (c *Config) Intervals() ([]model.Interval, error) {
	out := make([]model.Interval, 0, len(c.WarmIntervals))
	for _, s := range c.WarmIntervals {
		iv := model.ParseInterval(s)
		if iv == model.IntervalUnknown {
			return nil, fmt.Errorf("WARM_INTERVALS: unknown interval %q", s)
		}
		out = append(out, iv)
	}
	return out, nil
}

// WarmWorkers is one worker per API key, like the key pool allows.
func (c *Config) WarmWorkers() int {
	if len(c.PolygonAPIKeys) == 0 {
		return 1
	}
	return len(c.PolygonAPIKeys)
}
