package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"barcache/internal/diskcache"
	"barcache/internal/lock"
	"barcache/internal/provider"
	"barcache/internal/tier"
)

// CreateProvider creates DataProvider from config (currently Polygon only)
func CreateProvider(cfg *Config, logger *slog.Logger) (provider.DataProvider, error) {
	switch strings.ToLower(cfg.DataProvider) {
	case "polygon":
		if len(cfg.PolygonAPIKeys) == 0 {
			return nil, fmt.Errorf("POLYGON_API_KEY or POLYGON_API_KEYS not set")
		}
		return provider.NewPolygonProvider(cfg.PolygonAPIKeys, cfg.PolygonAvoidDelayed, logger)
	default:
		return nil, fmt.Errorf("unsupported data provider: %s. Options: polygon", cfg.DataProvider)
	}
}

// CreateLockClient returns a Redis client when REDIS_ADDR is set, otherwise
// an in-process one. The returned func closes the client.
func CreateLockClient(ctx context.Context, cfg *Config, logger *slog.Logger) (lock.Client, func(), error) {
	if cfg.RedisAddr == "" {
		logger.Warn("REDIS_ADDR not set, fetch lock is process-local")
		return lock.NewMemory(), func() {}, nil
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	r, err := lock.NewRedis(pingCtx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("using redis lock", "addr", cfg.RedisAddr, "db", cfg.RedisDB)
	return r, func() { _ = r.Close() }, nil
}

// LoadTierTable returns the default table, overridden by TIERS_FILE if set.
func LoadTierTable(cfg *Config) (*tier.Table, error) {
	if cfg.TiersFile == "" {
		return tier.DefaultTable(), nil
	}
	tb, err := tier.LoadFile(cfg.TiersFile)
	if err != nil {
		return nil, fmt.Errorf("TIERS_FILE: %w", err)
	}
	return tb, nil
}

// SweeperTTLs maps every tier file name to its serving TTL.
func SweeperTTLs(tb *tier.Table) map[string]time.Duration {
	ttls := make(map[string]time.Duration, len(tier.All()))
	for _, t := range tier.All() {
		ttls[t.String()] = tb.TTL(t)
	}
	return ttls
}

// CreateStore opens the disk cache with the configured codec.
func CreateStore(cfg *Config, logger *slog.Logger) (*diskcache.Store, error) {
	codec, err := diskcache.NewCodec(cfg.CacheFormat)
	if err != nil {
		return nil, fmt.Errorf("CACHE_FORMAT: %w", err)
	}
	return diskcache.NewStore(cfg.CacheDir, codec, cfg.MaxConcurrentIO, logger), nil
}
