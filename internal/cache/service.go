// Package cache serves historical bars from canonical tiers on disk and fills
// misses from an upstream Fetcher. At most one fetch per (symbol, tier) is in
// flight across all processes sharing the lock service; everyone else waits
// for the file it writes.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"barcache/internal/diskcache"
	"barcache/internal/keylock"
	"barcache/internal/lock"
	"barcache/internal/model"
	"barcache/internal/provider"
	"barcache/internal/resample"
	"barcache/internal/tier"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

// Query is one history request.
type Query struct {
	Symbol   string
	Interval model.Interval
	DaySpan  int
	Market   model.Market
	// Optional explicit window, inclusive. Zero means open.
	Start time.Time
	End   time.Time
}

// Service is the canonical cache. Build one per process and share it.
type Service struct {
	table   *tier.Table
	store   *diskcache.Store
	locks   lock.Client
	fetcher provider.Fetcher
	local   *keylock.Pool
	cfg     Config
	logger  *slog.Logger
	tracer  trace.Tracer
	group   singleflight.Group
	stats   *counters
	now     func() time.Time
}

// NewService wires the cache. A nil local pool gets a default-sized one.
func NewService(table *tier.Table, store *diskcache.Store, locks lock.Client, fetcher provider.Fetcher, local *keylock.Pool, cfg Config, logger *slog.Logger) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if table == nil || store == nil || locks == nil || fetcher == nil {
		return nil, errors.New("cache: table, store, lock client and fetcher are required")
	}
	if local == nil {
		local = keylock.NewPool(keylock.DefaultShards)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		table:   table,
		store:   store,
		locks:   locks,
		fetcher: fetcher,
		local:   local,
		cfg:     cfg,
		logger:  logger.With("component", "cache"),
		tracer:  otel.Tracer("barcache/internal/cache"),
		stats:   newCounters(),
		now:     time.Now,
	}, nil
}

// Stats returns a snapshot of the service counters.
func (s *Service) Stats() Stats { return s.stats.snapshot() }

// History is GetHistory with every failure collapsed to nil.
func (s *Service) History(ctx context.Context, q Query) []model.Bar {
	bars, err := s.GetHistory(ctx, q)
	if err != nil {
		return nil
	}
	return bars
}

// GetHistory returns bars for q, served from the canonical tier that covers
// the requested span, trimmed to the requested window and resampled to the
// requested interval when the tier stores a finer one. Errors wrap
// ErrUnavailable unless ctx was cancelled, in which case ctx.Err() is
// returned. A shared fill keeps running for the other callers when one of
// them gives up.
func (s *Service) GetHistory(ctx context.Context, q Query) ([]model.Bar, error) {
	res := s.table.Resolve(q.Interval, q.DaySpan, q.Market)

	ctx, span := s.tracer.Start(ctx, "cache.GetHistory", trace.WithAttributes(
		attribute.String("symbol", q.Symbol),
		attribute.String("interval", q.Interval.String()),
		attribute.Int("day_span", q.DaySpan),
		attribute.String("market", q.Market.String()),
		attribute.String("tier", res.CacheKey),
	))
	defer span.End()

	log := s.logger.With("symbol", q.Symbol, "tier", res.CacheKey)

	bars, ok := s.store.Read(ctx, q.Symbol, res.CacheKey, res.TTL)
	if ok {
		s.stats.hits.Add(1)
		span.SetAttributes(attribute.Bool("hit", true))
		log.Debug("cache hit", "bars", len(bars))
	} else {
		s.stats.misses.Add(1)
		span.SetAttributes(attribute.Bool("hit", false))
		log.Debug("cache miss")

		fillCtx := context.WithoutCancel(ctx)
		ch := s.group.DoChan(lockKey(q.Symbol, res), func() (any, error) {
			return s.fill(fillCtx, q, res, log)
		})
		select {
		case <-ctx.Done():
			span.RecordError(ctx.Err())
			span.SetStatus(codes.Error, ctx.Err().Error())
			return nil, ctx.Err()
		case r := <-ch:
			if r.Err != nil {
				span.RecordError(r.Err)
				span.SetStatus(codes.Error, r.Err.Error())
				return nil, r.Err
			}
			if r.Shared {
				log.Debug("shared in-flight fill")
			}
			bars = r.Val.([]model.Bar)
		}
	}

	bars = s.window(bars, q, res)
	if res.NeedsResample {
		bars = resample.Resample(bars, res.Interval, q.Interval)
	}
	span.SetAttributes(attribute.Int("bars", len(bars)))
	return bars, nil
}

// window applies the explicit [Start, End] bounds, or else the implicit
// now-minus-span cutoff when the tier holds more history than was asked for.
func (s *Service) window(bars []model.Bar, q Query, res tier.Resolution) []model.Bar {
	if !q.Start.IsZero() || !q.End.IsZero() {
		return model.Trim(bars, q.Start, q.End)
	}
	span := q.DaySpan
	if span < 1 {
		span = 1
	}
	if res.MaxDays == 0 || res.MaxDays > span {
		return model.Trim(bars, s.now().AddDate(0, 0, -span), time.Time{})
	}
	return bars
}

func lockKey(symbol string, res tier.Resolution) string {
	return symbol + ":" + res.CacheKey
}

// fill runs the miss protocol: take the distributed lock and fetch, or wait
// for whoever holds it. ctx is detached from any single caller; the wait
// policy and the fetch deadline bound it.
func (s *Service) fill(ctx context.Context, q Query, res tier.Resolution, log *slog.Logger) ([]model.Bar, error) {
	key := lockKey(q.Symbol, res)

	token, acquired, err := s.locks.Acquire(ctx, key, s.cfg.LockLease)
	if err != nil {
		log.Warn("lock acquire failed, waiting instead", "error", err)
		acquired = false
	}
	if !acquired {
		return s.wait(ctx, q, res, log)
	}
	defer s.release(key, token, log)

	// Someone may have written between our read and the acquire.
	if bars, ok := s.store.Read(ctx, q.Symbol, res.CacheKey, res.TTL); ok {
		log.Debug("filled by another process")
		return bars, nil
	}
	return s.fetchAndWrite(ctx, q, res, log)
}

func (s *Service) release(key, token string, log *slog.Logger) {
	// Release even if the request context is already done.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.locks.Release(ctx, key, token); err != nil {
		log.Warn("lock release failed", "error", err)
	}
}

func (s *Service) fetchAndWrite(ctx context.Context, q Query, res tier.Resolution, log *slog.Logger) ([]model.Bar, error) {
	req := provider.Request{
		Symbol:   q.Symbol,
		Market:   q.Market,
		Interval: res.Interval,
	}
	if res.Tier == tier.TierArchive {
		req.Max = true
	} else {
		req.End = s.now()
		req.Start = req.End.AddDate(0, 0, -res.MaxDays)
	}

	ctx, span := s.tracer.Start(ctx, "cache.fetch", trace.WithAttributes(
		attribute.String("symbol", q.Symbol),
		attribute.String("interval", res.Interval.String()),
		attribute.Bool("max", req.Max),
	))
	defer span.End()

	// The fetch must end while the lease is still ours, or another process
	// takes the lock and fetches the same key.
	fetchCtx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout())
	defer cancel()

	s.stats.fetches.Add(1)
	start := time.Now()
	bars, err := s.fetcher.Fetch(fetchCtx, req)
	elapsed := time.Since(start)
	s.stats.observeFetch(elapsed)

	if err != nil {
		s.stats.fetchFailures.Add(1)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Error("fetch failed", "elapsed", elapsed, "error", err)
		return nil, fmt.Errorf("%w: %s %s: %v", ErrFetchFailed, q.Symbol, res.CacheKey, err)
	}
	if len(bars) == 0 {
		s.stats.fetchFailures.Add(1)
		span.SetStatus(codes.Error, "empty result")
		log.Error("fetch returned no bars", "elapsed", elapsed)
		return nil, fmt.Errorf("%w: %s %s: empty result", ErrFetchFailed, q.Symbol, res.CacheKey)
	}

	bars = model.Merge(nil, bars)
	log.Info("fetched", "bars", len(bars), "elapsed", elapsed)

	if err := s.store.Write(ctx, q.Symbol, res.CacheKey, bars, res.TTL); err != nil {
		// Serve what we fetched; the next miss refetches.
		log.Warn("cache write failed", "error", err)
	}
	return bars, nil
}

var errStillLocked = errors.New("fetch lock still held")

// wait polls the disk with exponential backoff until fresh data shows up or
// the wait budget runs out. If the lock frees up without fresh data the
// holder failed, and the request gives up instead of fetching again.
func (s *Service) wait(ctx context.Context, q Query, res tier.Resolution, log *slog.Logger) ([]model.Bar, error) {
	key := lockKey(q.Symbol, res)
	var bars []model.Bar
	polls := 0

	op := func() error {
		polls++
		if b, ok := s.store.Read(ctx, q.Symbol, res.CacheKey, res.TTL); ok {
			bars = b
			return nil
		}
		token, acquired, err := s.locks.Acquire(ctx, key, s.cfg.LockLease)
		if err != nil || !acquired {
			return errStillLocked
		}
		defer s.release(key, token, log)
		if b, ok := s.store.Read(ctx, q.Symbol, res.CacheKey, res.TTL); ok {
			bars = b
			return nil
		}
		return backoff.Permanent(ErrMissExhausted)
	}

	start := time.Now()
	err := backoff.Retry(op, backoff.WithContext(s.cfg.Wait.backOff(), ctx))
	switch {
	case err == nil:
		log.Debug("served after wait", "polls", polls, "waited", time.Since(start))
		return bars, nil
	case errors.Is(err, ErrMissExhausted):
		s.stats.missExhausted.Add(1)
		log.Warn("lock holder left no data", "polls", polls)
		return nil, fmt.Errorf("%w: %s %s", ErrMissExhausted, q.Symbol, res.CacheKey)
	default:
		s.stats.lockTimeouts.Add(1)
		log.Warn("lock wait timed out", "polls", polls, "waited", time.Since(start))
		return nil, fmt.Errorf("%w: %s %s after %d polls", ErrLockTimeout, q.Symbol, res.CacheKey, polls)
	}
}

// AppendBars merges bars into the tier stored at tierInterval. It is the
// write-back path for callers that already hold fresh bars. Writers in this
// process are serialized per (symbol, tier); failures are logged and
// swallowed.
func (s *Service) AppendBars(ctx context.Context, symbol string, tierInterval model.Interval, bars []model.Bar) {
	if len(bars) == 0 {
		return
	}
	t, ok := tier.ForInterval(tierInterval)
	if !ok {
		s.logger.Warn("append to unknown tier ignored", "symbol", symbol, "interval", tierInterval.String())
		return
	}

	unlock := s.local.Lock(symbol + ":" + t.String())
	defer unlock()

	s.stats.appends.Add(1)
	if err := s.store.Append(ctx, symbol, t.String(), bars, s.table.TTL(t)); err != nil {
		s.stats.appendFailures.Add(1)
		s.logger.Warn("append failed", "symbol", symbol, "tier", t.String(), "error", err)
		return
	}
	s.logger.Debug("appended", "symbol", symbol, "tier", t.String(), "bars", len(bars))
}
