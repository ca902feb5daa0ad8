package provider

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"barcache/internal/model"
	"barcache/internal/provider/polygon"
)

// ArchiveYears is how far back a Max request reaches.
const ArchiveYears = 20

// PolygonProvider is a DataProvider implementation backed by the Polygon API.
// It embeds *polygon.Crawler to expose crawl capabilities with minimal boilerplate.
type PolygonProvider struct {
	*polygon.Crawler
	now func() time.Time
}

// NewPolygonProvider creates a new Polygon-backed DataProvider.
func NewPolygonProvider(apiKeys []string, avoidDelayed bool, logger *slog.Logger, opts ...polygon.Option) (*PolygonProvider, error) {
	keys, err := polygon.NewAPIKeyPool(apiKeys, polygon.RoundRobin, polygon.KeyCooldown)
	if err != nil {
		return nil, err
	}
	if logger != nil {
		opts = append([]polygon.Option{polygon.WithLogger(logger)}, opts...)
	}
	crawler, err := polygon.NewCrawler(keys, opts...)
	if err != nil {
		return nil, err
	}
	crawler.AvoidDelayed = avoidDelayed
	return &PolygonProvider{Crawler: crawler, now: time.Now}, nil
}

// GetName returns provider name
func (p *PolygonProvider) GetName() string {
	return "Polygon"
}

// Fetch implements Fetcher. Only US equities are served.
func (p *PolygonProvider) Fetch(ctx context.Context, req Request) ([]model.Bar, error) {
	if req.Market != model.MarketUS {
		return nil, fmt.Errorf("%w: %s via %s", ErrUnsupportedMarket, req.Market, p.GetName())
	}
	from, to := req.Start, req.End
	now := p.now()
	if to.IsZero() {
		to = now
	}
	if req.Max || from.IsZero() {
		from = now.AddDate(-ArchiveYears, 0, 0)
	}
	return p.CrawlBars(ctx, req.Symbol, req.Interval, req.Market.Location(), from, to)
}
