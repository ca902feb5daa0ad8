package provider

import (
	"context"
	"errors"
	"time"

	"barcache/internal/model"
)

// ErrUnsupportedMarket is returned when a fetcher has no source for a market.
var ErrUnsupportedMarket = errors.New("provider: market not supported")

// Request describes one upstream fetch. Layer-2 tiers pass a Start/End
// window; the archive tier sets Max and leaves the window zero.
type Request struct {
	Symbol   string
	Market   model.Market
	Interval model.Interval
	Start    time.Time
	End      time.Time
	Max      bool
}

// Fetcher loads bars from an upstream data source. Implementations must
// return finite errors on timeout; an empty result is not an error here.
type Fetcher interface {
	Fetch(ctx context.Context, req Request) ([]model.Bar, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, req Request) ([]model.Bar, error)

func (f FetcherFunc) Fetch(ctx context.Context, req Request) ([]model.Bar, error) {
	return f(ctx, req)
}

// DataProvider is a Fetcher backed by a named data source.
// Implementations are responsible for their own resource cleanup.
type DataProvider interface {
	Fetcher
	GetName() string
	Close() error
}
