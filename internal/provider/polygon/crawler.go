package polygon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"barcache/internal/model"

	"github.com/cenkalti/backoff/v4"
)

const (
	// Max 50k results per request
	maxLimit = 50000

	// Bars per trading day at 1-minute resolution (extended hours).
	minPerDay = 960

	maxRetries = 3
	retryDelay = 15 * time.Second
)

// ErrUnsupportedInterval is returned for intervals Polygon cannot aggregate.
var ErrUnsupportedInterval = errors.New("polygon: unsupported interval")

// timespan is the aggregates path segment for one interval.
type timespan struct {
	multiplier int
	unit       string
	perDay     int // upper bound of bars per calendar day
}

func timespanFor(i model.Interval) (timespan, error) {
	switch i {
	case model.Interval1m:
		return timespan{1, "minute", minPerDay}, nil
	case model.Interval2m:
		return timespan{2, "minute", minPerDay / 2}, nil
	case model.Interval5m:
		return timespan{5, "minute", minPerDay / 5}, nil
	case model.Interval15m:
		return timespan{15, "minute", minPerDay / 15}, nil
	case model.Interval30m:
		return timespan{30, "minute", minPerDay / 30}, nil
	case model.Interval1h:
		return timespan{1, "hour", minPerDay / 60}, nil
	case model.Interval4h:
		return timespan{4, "hour", minPerDay / 240}, nil
	case model.Interval1d:
		return timespan{1, "day", 1}, nil
	case model.Interval1w:
		return timespan{1, "week", 1}, nil
	case model.Interval1mo:
		return timespan{1, "month", 1}, nil
	}
	return timespan{}, fmt.Errorf("%w: %s", ErrUnsupportedInterval, i)
}

// chunkDays is the number of days per request so one response stays under
// maxLimit bars, with a 5% margin (1m gives the classic 50 days).
func (ts timespan) chunkDays() int {
	days := maxLimit / ts.perDay
	days -= days / 20
	if days < 1 {
		days = 1
	}
	return days
}

// estimatedBars returns pre-alloc capacity for [from, to] plus a 10% buffer.
func (ts timespan) estimatedBars(from, to time.Time) int {
	if to.Before(from) {
		return 0
	}
	days := int(to.Sub(from).Hours()/24) + 1
	n := days * ts.perDay
	n = n + n/10
	if n > 500000 {
		n = 500000
	}
	return n
}

// Crawler fetches aggregates from the Polygon REST API. Requests are spread
// over the key pool; each key honours its own cooldown.
type Crawler struct {
	client     *http.Client
	baseURL    string
	keys       *APIKeyPool
	logger     *slog.Logger
	retryDelay time.Duration
	now        func() time.Time

	// AvoidDelayed moves a chunk ending today back to the end of yesterday.
	// Plans without real-time access get DELAYED otherwise.
	AvoidDelayed bool
}

// Option customises a Crawler.
type Option func(*Crawler)

// WithBaseURL points the crawler at another host, e.g. a test server.
func WithBaseURL(u string) Option { return func(c *Crawler) { c.baseURL = u } }

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option { return func(c *Crawler) { c.client = hc } }

// WithRetryDelay sets the wait between retries.
func WithRetryDelay(d time.Duration) Option { return func(c *Crawler) { c.retryDelay = d } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(c *Crawler) { c.logger = l } }

// NewCrawler constructs a Crawler with a shared HTTP client.
func NewCrawler(keys *APIKeyPool, opts ...Option) (*Crawler, error) {
	if keys == nil {
		return nil, errors.New("polygon: key pool is required")
	}
	c := &Crawler{
		client:     newHTTPClient(),
		baseURL:    polygonBaseURL,
		keys:       keys,
		logger:     slog.Default(),
		retryDelay: retryDelay,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "polygon")
	return c, nil
}

// Close closes idle connections.
func (c *Crawler) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

// Keys returns the key pool.
func (c *Crawler) Keys() *APIKeyPool { return c.keys }

// splitDateRangeIntoChunks splits [from, to] into chunks of at most maxDays
// so each request stays under ~maxLimit bars. Requests carry millisecond
// bounds, so each chunk starts one millisecond after the previous one ends.
func splitDateRangeIntoChunks(from, to time.Time, maxDays int) [][2]time.Time {
	var chunks [][2]time.Time
	start := from.UTC()
	end := to.UTC()

	if start.After(end) || maxDays < 1 {
		return chunks
	}

	for currentStart := start; !currentStart.After(end); {
		currentEnd := currentStart.AddDate(0, 0, maxDays).Add(-time.Millisecond)
		if currentEnd.After(end) {
			currentEnd = end
		}

		chunks = append(chunks, [2]time.Time{currentStart, currentEnd})

		if currentEnd.Equal(end) {
			break
		}

		currentStart = currentEnd.Add(time.Millisecond)
	}

	return chunks
}

// adjustLastChunkToAvoidDelayed returns chunkTo unchanged, or end of previous day if chunkTo is today/future (avoids DELAYED).
func adjustLastChunkToAvoidDelayed(chunkTo, now time.Time) time.Time {
	now = now.UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	chunkToDate := time.Date(chunkTo.Year(), chunkTo.Month(), chunkTo.Day(), 0, 0, 0, 0, time.UTC)
	if !chunkToDate.Before(today) {
		return today.Add(-time.Second)
	}
	return chunkTo
}

// aggregatesURL builds the GET URL for one chunk (adjusted, limit, sort).
func (c *Crawler) aggregatesURL(ticker string, ts timespan, fromMillis, toMillis int64) (string, error) {
	rawURL := fmt.Sprintf("%s/v2/aggs/ticker/%s/range/%d/%s/%d/%d",
		c.baseURL, url.PathEscape(ticker), ts.multiplier, ts.unit, fromMillis, toMillis)
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse URL: %w", err)
	}
	q := u.Query()
	q.Set("adjusted", "true")
	q.Set("limit", strconv.Itoa(maxLimit))
	q.Set("sort", "asc")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func withAPIKey(rawURL, apiKey string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse URL: %w", err)
	}
	q := u.Query()
	q.Set("apiKey", apiKey)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// errDelayed marks a response the plan is not entitled to yet.
var errDelayed = errors.New("polygon: DELAYED")

// doAggregatesRequest runs one GET with retries on transport errors, 429 and
// undecodable bodies. Each attempt takes a key from the pool.
func (c *Crawler) doAggregatesRequest(ctx context.Context, rawURL string) (*AggregatesResponse, error) {
	var result *AggregatesResponse
	attempt := 0
	op := func() error {
		attempt++
		key, err := c.keys.Acquire(ctx)
		if err != nil {
			return backoff.Permanent(err)
		}
		u, err := withAPIKey(rawURL, key.Key)
		if err != nil {
			return backoff.Permanent(err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("create request: %w", err))
		}

		resp, err := c.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			c.logger.Warn("request failed", "attempt", attempt, "key", key.Prefix(), "error", err)
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
				c.logger.Warn("retryable status", "attempt", attempt, "status", resp.StatusCode, "key", key.Prefix())
				return fmt.Errorf("API status %d: %s", resp.StatusCode, string(body))
			}
			return backoff.Permanent(fmt.Errorf("API status %d: %s", resp.StatusCode, string(body)))
		}

		var r AggregatesResponse
		if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
			return fmt.Errorf("parse JSON: %w", err)
		}
		switch r.Status {
		case "OK":
			result = &r
			return nil
		case "DELAYED":
			return backoff.Permanent(errDelayed)
		default:
			return backoff.Permanent(fmt.Errorf("API status not OK: %s", r.Status))
		}
	}

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(c.retryDelay), maxRetries-1), ctx)
	if err := backoff.Retry(op, b); err != nil {
		if errors.Is(err, errDelayed) {
			return nil, nil
		}
		return nil, fmt.Errorf("after %d attempts: %w", attempt, err)
	}
	return result, nil
}

// CrawlBars fetches interval aggregates for ticker over [from, to], following
// next_url pages, and returns bars in loc sorted ascending. DELAYED chunks
// are skipped.
func (c *Crawler) CrawlBars(ctx context.Context, ticker string, interval model.Interval, loc *time.Location, from, to time.Time) ([]model.Bar, error) {
	ts, err := timespanFor(interval)
	if err != nil {
		return nil, err
	}

	allBars := make([]model.Bar, 0, ts.estimatedBars(from, to))
	chunks := splitDateRangeIntoChunks(from, to, ts.chunkDays())
	if len(chunks) == 0 {
		c.logger.Debug("no chunks in date range", "ticker", ticker, "from", from, "to", to)
		return allBars, nil
	}
	c.logger.Debug("crawl", "ticker", ticker, "interval", interval.String(), "chunks", len(chunks), "keys", c.keys.Len())

	for i, ch := range chunks {
		chunkFrom, chunkTo := ch[0], ch[1]
		if c.AvoidDelayed && i == len(chunks)-1 {
			chunkTo = adjustLastChunkToAvoidDelayed(chunkTo, c.now())
			if chunkTo.Before(chunkFrom) {
				continue
			}
		}

		next, err := c.aggregatesURL(ticker, ts, chunkFrom.UnixMilli(), chunkTo.UnixMilli())
		if err != nil {
			return nil, err
		}
		for next != "" {
			response, err := c.doAggregatesRequest(ctx, next)
			if err != nil {
				return nil, fmt.Errorf("%s chunk %d/%d: %w", ticker, i+1, len(chunks), err)
			}
			if response == nil {
				c.logger.Info("chunk delayed, skipping", "ticker", ticker, "chunk", i+1, "from", chunkFrom, "to", chunkTo)
				break
			}
			for _, barRaw := range response.Results {
				allBars = append(allBars, barRaw.ToBar(loc))
			}
			next = response.NextURL
		}
	}
	return model.Merge(nil, allBars), nil
}
