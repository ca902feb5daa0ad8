//go:build wireinject
// +build wireinject

package main

import (
	"context"
	"log/slog"

	"barcache/internal/app"
	"barcache/internal/cache"
	"barcache/internal/diskcache"
	"barcache/internal/provider"

	"github.com/google/wire"
)

// App holds application dependencies built by Wire.
type App struct {
	Config   *app.Config
	Logger   *slog.Logger
	Service  *cache.Service
	Sweeper  *diskcache.Sweeper
	Provider provider.DataProvider
}

// InitializeApp builds App via Wire. Caller must call cleanup when done;
// it closes the provider and the lock client.
func InitializeApp(ctx context.Context) (*App, func(), error) {
	wire.Build(
		app.ProvideConfig,
		app.ProvideLogger,
		app.ProvideTierTable,
		app.ProvideStore,
		app.ProvideLockClient,
		app.ProvideDataProvider,
		app.ProvideFetcher,
		app.ProvideLocalLocks,
		app.ProvideCacheService,
		app.ProvideSweeper,
		wire.Struct(new(App), "*"),
	)
	return nil, nil, nil
}
