package app

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"barcache/internal/cache"
	"barcache/internal/diskcache"
	"barcache/internal/model"
	"barcache/internal/tier"
	"barcache/internal/warm"

	"github.com/alicebob/miniredis/v2"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

// clearEnv pins every variable LoadConfig reads so the host env cannot leak in.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"CACHE_DIR", "CACHE_FORMAT", "LOG_LEVEL", "TIERS_FILE",
		"REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB",
		"LOCK_LEASE", "WAIT_INITIAL", "WAIT_MAX_INTERVAL", "WAIT_MAX_ELAPSED", "WAIT_MAX_ATTEMPTS",
		"MAX_CONCURRENT_IO", "LOCAL_LOCK_SHARDS", "CLEANUP_INTERVAL", "CLEANUP_GRACE",
		"DATA_PROVIDER", "POLYGON_API_KEYS", "POLYGON_API_KEY", "POLYGON_AVOID_DELAYED",
		"TICKERS_FILE", "WARM_INTERVALS", "WARM_DAYS", "WARM_RUN_HOUR", "WARM_RUN_MINUTE",
		"OTEL_ENDPOINT",
	} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	clearEnv(t)
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.CacheDir != "data/cache" || cfg.CacheFormat != "json" {
		t.Errorf("cache = %q %q", cfg.CacheDir, cfg.CacheFormat)
	}
	if cfg.LockLease != 60*time.Second || cfg.WaitMaxAttempts != 20 {
		t.Errorf("lock = %s attempts %d", cfg.LockLease, cfg.WaitMaxAttempts)
	}
	if cfg.CleanupInterval != time.Hour || cfg.CleanupGrace != 2.0 {
		t.Errorf("cleanup = %s grace %g", cfg.CleanupInterval, cfg.CleanupGrace)
	}
	ivs, err := cfg.Intervals()
	if err != nil || len(ivs) != 2 || ivs[0] != model.Interval1d || ivs[1] != model.Interval5m {
		t.Errorf("Intervals = %v, %v", ivs, err)
	}
	if cfg.WarmWorkers() != 1 {
		t.Errorf("WarmWorkers = %d, want 1 with no keys", cfg.WarmWorkers())
	}
}

func TestLoadConfig_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("CACHE_FORMAT", " Parquet ")
	t.Setenv("POLYGON_API_KEY", "k1, k2 ,")
	t.Setenv("WAIT_MAX_ATTEMPTS", "3")
	t.Setenv("LOCK_LEASE", "90s")
	t.Setenv("WARM_INTERVALS", "1h,1d")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.CacheFormat != "parquet" {
		t.Errorf("CacheFormat = %q", cfg.CacheFormat)
	}
	if len(cfg.PolygonAPIKeys) != 2 || cfg.WarmWorkers() != 2 {
		t.Errorf("keys = %v", cfg.PolygonAPIKeys)
	}
	cc := cfg.CacheConfig()
	if cc.LockLease != 90*time.Second || cc.Wait.MaxAttempts != 3 {
		t.Errorf("CacheConfig = %+v", cc)
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name, key, val string
	}{
		{"hour out of range", "WARM_RUN_HOUR", "24"},
		{"minute out of range", "WARM_RUN_MINUTE", "-1"},
		{"unknown interval", "WARM_INTERVALS", "1d,3m"},
		{"grace below one", "CLEANUP_GRACE", "0.5"},
		{"zero cleanup", "CLEANUP_INTERVAL", "0s"},
		{"bad duration", "LOCK_LEASE", "soon"},
		{"zero attempts", "WAIT_MAX_ATTEMPTS", "0"},
		{"zero warm days", "WARM_DAYS", "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.val)
			if _, err := LoadConfig(); err == nil {
				t.Errorf("%s=%s: expected error", tt.key, tt.val)
			}
		})
	}
}

func TestParsePolygonAPIKeys(t *testing.T) {
	tests := []struct {
		name   string
		list   []string
		single string
		want   []string
	}{
		{"list wins", []string{"a", "b"}, "c", []string{"a", "b"}},
		{"single split", nil, "a,b", []string{"a", "b"}},
		{"blanks dropped", []string{" a ", "", " "}, "", []string{"a"}},
		{"nothing", nil, "", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parsePolygonAPIKeys(tt.list, tt.single)
			if strings.Join(got, "|") != strings.Join(tt.want, "|") {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNextWarmRunTime(t *testing.T) {
	cfg := &Config{WarmRunHour: 0, WarmRunMinute: 30}
	tests := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{"before today's run", time.Date(2024, 6, 10, 0, 10, 0, 0, time.UTC), time.Date(2024, 6, 10, 0, 30, 0, 0, time.UTC)},
		{"exactly at run", time.Date(2024, 6, 10, 0, 30, 0, 0, time.UTC), time.Date(2024, 6, 11, 0, 30, 0, 0, time.UTC)},
		{"after run", time.Date(2024, 6, 10, 15, 0, 0, 0, time.UTC), time.Date(2024, 6, 11, 0, 30, 0, 0, time.UTC)},
		{"month end", time.Date(2024, 6, 30, 23, 0, 0, 0, time.UTC), time.Date(2024, 7, 1, 0, 30, 0, 0, time.UTC)},
		{"non-UTC input", time.Date(2024, 6, 10, 8, 10, 0, 0, time.FixedZone("CST", 8*3600)), time.Date(2024, 6, 10, 0, 30, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := nextWarmRunTime(cfg, tt.now); !got.Equal(tt.want) {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestSweeperTTLs(t *testing.T) {
	tb := tier.DefaultTable()
	ttls := SweeperTTLs(tb)
	if len(ttls) != len(tier.All()) {
		t.Fatalf("len = %d, want %d", len(ttls), len(tier.All()))
	}
	for _, tr := range tier.All() {
		if ttls[tr.String()] != tb.TTL(tr) {
			t.Errorf("%s: %s, want %s", tr, ttls[tr.String()], tb.TTL(tr))
		}
	}
}

func TestCreateLockClient(t *testing.T) {
	ctx := context.Background()

	t.Run("memory without redis", func(t *testing.T) {
		c, closeFn, err := CreateLockClient(ctx, &Config{}, quiet)
		if err != nil {
			t.Fatalf("CreateLockClient: %v", err)
		}
		defer closeFn()
		if _, ok, err := c.Acquire(ctx, "k", time.Second); !ok || err != nil {
			t.Errorf("Acquire = %v, %v", ok, err)
		}
	})

	t.Run("redis", func(t *testing.T) {
		mr := miniredis.RunT(t)
		c, closeFn, err := CreateLockClient(ctx, &Config{RedisAddr: mr.Addr()}, quiet)
		if err != nil {
			t.Fatalf("CreateLockClient: %v", err)
		}
		defer closeFn()
		if _, ok, err := c.Acquire(ctx, "k", time.Second); !ok || err != nil {
			t.Errorf("Acquire = %v, %v", ok, err)
		}
		if len(mr.Keys()) != 1 {
			t.Errorf("redis keys = %v", mr.Keys())
		}
	})

	t.Run("redis unreachable", func(t *testing.T) {
		if _, _, err := CreateLockClient(ctx, &Config{RedisAddr: "127.0.0.1:1"}, quiet); err == nil {
			t.Error("expected error")
		}
	})
}

func TestCreateStoreAndProvider(t *testing.T) {
	if _, err := CreateStore(&Config{CacheDir: t.TempDir(), CacheFormat: "csv"}, quiet); err == nil {
		t.Error("CreateStore csv: expected error")
	}
	s, err := CreateStore(&Config{CacheDir: t.TempDir(), CacheFormat: "parquet", MaxConcurrentIO: 2}, quiet)
	if err != nil || s.Codec().Extension() != "parquet" {
		t.Errorf("CreateStore parquet: %v", err)
	}

	if _, err := CreateProvider(&Config{DataProvider: "polygon"}, quiet); err == nil {
		t.Error("CreateProvider without keys: expected error")
	}
	if _, err := CreateProvider(&Config{DataProvider: "yahoo", PolygonAPIKeys: []string{"k"}}, quiet); err == nil {
		t.Error("CreateProvider yahoo: expected error")
	}
	dp, err := CreateProvider(&Config{DataProvider: "Polygon", PolygonAPIKeys: []string{"k"}}, quiet)
	if err != nil {
		t.Fatalf("CreateProvider: %v", err)
	}
	defer dp.Close()
	if dp.GetName() == "" {
		t.Error("empty provider name")
	}
}

func TestLoadTierTable(t *testing.T) {
	tb, err := LoadTierTable(&Config{})
	if err != nil || tb == nil {
		t.Fatalf("default table: %v", err)
	}
	if _, err := LoadTierTable(&Config{TiersFile: "does/not/exist.yaml"}); err == nil {
		t.Error("missing TIERS_FILE: expected error")
	}
}

type countingCache struct {
	calls atomic.Int32
}

func (c *countingCache) GetHistory(_ context.Context, q cache.Query) ([]model.Bar, error) {
	c.calls.Add(1)
	return []model.Bar{{Date: time.Now()}}, nil
}

func (c *countingCache) Stats() cache.Stats { return cache.Stats{} }

func TestRunFlow_WarmsThenStopsOnCancel(t *testing.T) {
	dir := t.TempDir()
	cfg := &Config{
		CacheDir:        dir,
		WarmIntervals:   []string{"1d", "5m"},
		WarmDays:        5,
		WarmRunHour:     0,
		WarmRunMinute:   30,
		CleanupInterval: 10 * time.Millisecond,
	}
	store := diskcache.NewStore(dir, diskcache.JSONCodec{}, 2, quiet)
	sweeper := diskcache.NewSweeper(store, SweeperTTLs(tier.DefaultTable()), 2, quiet)
	svc := &countingCache{}
	targets := []warm.Target{{Symbol: "AAPL", Market: model.MarketUS}, {Symbol: "MSFT", Market: model.MarketUS}}

	ctx, cancel := context.WithCancel(context.Background())
	returned := make(chan struct{})
	go func() {
		RunFlow(ctx, cfg, svc, sweeper, targets)
		close(returned)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for svc.calls.Load() < 4 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := svc.calls.Load(); got != 4 {
		t.Fatalf("warm calls = %d, want 4", got)
	}
	// Let the cleanup ticker fire at least once.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-returned:
	case <-time.After(5 * time.Second):
		t.Fatal("RunFlow did not return after cancel")
	}
	if sweeper.Stats().Runs == 0 {
		t.Error("sweeper never ran")
	}
}

func TestRunFlow_BadIntervalsReturns(t *testing.T) {
	cfg := &Config{WarmIntervals: []string{"3m"}, CleanupInterval: time.Hour}
	store := diskcache.NewStore(t.TempDir(), diskcache.JSONCodec{}, 1, quiet)
	done := make(chan struct{})
	go func() {
		RunFlow(context.Background(), cfg, &countingCache{}, diskcache.NewSweeper(store, nil, 2, quiet), nil)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("RunFlow should return on bad intervals")
	}
}
