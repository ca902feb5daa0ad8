package app

import (
	"context"
	"log/slog"

	"barcache/internal/cache"
	"barcache/internal/diskcache"
	"barcache/internal/keylock"
	"barcache/internal/lock"
	"barcache/internal/provider"
	"barcache/internal/slogx"
	"barcache/internal/tier"
)

// ProvideConfig loads config from environment (for Wire).
func ProvideConfig() (*Config, error) {
	return LoadConfig()
}

// ProvideLogger builds the process logger and installs it as slog default.
func ProvideLogger(cfg *Config) *slog.Logger {
	l := slogx.NewDefault(cfg.LogLevel)
	slog.SetDefault(l)
	return l
}

// ProvideTierTable (for Wire).
func ProvideTierTable(cfg *Config) (*tier.Table, error) {
	return LoadTierTable(cfg)
}

// ProvideStore (for Wire).
func ProvideStore(cfg *Config, logger *slog.Logger) (*diskcache.Store, error) {
	return CreateStore(cfg, logger)
}

// ProvideLockClient (for Wire). Cleanup closes the client.
func ProvideLockClient(ctx context.Context, cfg *Config, logger *slog.Logger) (lock.Client, func(), error) {
	return CreateLockClient(ctx, cfg, logger)
}

// ProvideDataProvider creates the upstream provider (for Wire).
// Cleanup closes it.
func ProvideDataProvider(cfg *Config, logger *slog.Logger) (provider.DataProvider, func(), error) {
	dp, err := CreateProvider(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return dp, func() { _ = dp.Close() }, nil
}

// ProvideFetcher narrows the provider to what the cache needs.
func ProvideFetcher(dp provider.DataProvider) provider.Fetcher {
	return dp
}

// ProvideLocalLocks (for Wire).
func ProvideLocalLocks(cfg *Config) *keylock.Pool {
	return keylock.NewPool(cfg.LocalLockShards)
}

// ProvideCacheService (for Wire).
func ProvideCacheService(cfg *Config, table *tier.Table, store *diskcache.Store, locks lock.Client, fetcher provider.Fetcher, local *keylock.Pool, logger *slog.Logger) (*cache.Service, error) {
	return cache.NewService(table, store, locks, fetcher, local, cfg.CacheConfig(), logger)
}

// ProvideSweeper (for Wire).
func ProvideSweeper(cfg *Config, table *tier.Table, store *diskcache.Store, logger *slog.Logger) *diskcache.Sweeper {
	return diskcache.NewSweeper(store, SweeperTTLs(table), cfg.CleanupGrace, logger)
}
