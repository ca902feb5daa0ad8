package main

import (
	"context"
	"log/slog"
	"os"
	"time"
	_ "time/tzdata"

	"barcache/internal/app"
	"barcache/internal/slogx"
	"barcache/internal/telemetry"
	"barcache/internal/warm"
)

func init() {
	slog.SetDefault(slogx.NewDefault("info"))
}

func main() {
	ctx := context.Background()

	a, cleanup, err := InitializeApp(ctx)
	if err != nil {
		slog.Error("failed to initialize app", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	cfg := a.Config
	slog.Info("using data provider", "provider", a.Provider.GetName())

	shutdown, err := telemetry.Setup(ctx, "barcached", cfg.OTELEndpoint)
	if err != nil {
		slog.Error("failed to set up tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(sctx); err != nil {
			slog.Warn("tracer shutdown", "error", err)
		}
	}()

	if err := os.MkdirAll(cfg.CacheDir, 0755); err != nil {
		slog.Error("failed to create cache dir", "error", err)
		os.Exit(1)
	}
	slog.Info("cache dir", "dir", cfg.CacheDir, "format", cfg.CacheFormat)

	targets, err := warm.LoadTargetsFromFileOrIndices(cfg.TickersFile)
	if err != nil {
		slog.Warn("no warm targets, serving sweeps only", "error", err)
	}
	slog.Info("got warm targets", "count", len(targets), "intervals", cfg.WarmIntervals, "workers", cfg.WarmWorkers())

	app.RunFlow(ctx, cfg, a.Service, a.Sweeper, targets)
}
