package tier

import (
	"testing"
	"time"

	"barcache/internal/model"
)

func TestResolve(t *testing.T) {
	tb := DefaultTable()

	tests := []struct {
		name          string
		interval      model.Interval
		days          int
		market        model.Market
		expected      Tier
		needsResample bool
	}{
		{"5m fits 5m tier", model.Interval5m, 10, model.MarketUS, Tier5m, false},
		{"1m escalates to 1h", model.Interval1m, 100, model.MarketUS, Tier1h, true},
		{"1h on SH reroutes to 5m", model.Interval1h, 30, model.MarketSH, Tier5m, true},
		{"1h on SZ beyond 5m window skips 1h", model.Interval1h, 100, model.MarketSZ, Tier1d, true},
		{"1h on US stays 1h", model.Interval1h, 30, model.MarketUS, Tier1h, false},
		{"15m sources 5m", model.Interval15m, 30, model.MarketUS, Tier5m, true},
		{"30m sources 5m", model.Interval30m, 5, model.MarketHK, Tier5m, true},
		{"weekly sources daily", model.Interval1w, 365, model.MarketUS, Tier1d, true},
		{"daily beyond window goes to archive", model.Interval1d, 4000, model.MarketUS, TierArchive, false},
		{"1m beyond every window goes to archive", model.Interval1m, 5000, model.MarketUS, TierArchive, true},
		{"zero span uses source tier", model.Interval1m, 0, model.MarketUS, Tier1m, false},
		{"negative span uses source tier", model.Interval5m, -3, model.MarketUS, Tier5m, false},
		{"unknown interval uses first tier", model.IntervalUnknown, 3, model.MarketUS, Tier1m, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := tb.Resolve(tt.interval, tt.days, tt.market)

			if res.Tier != tt.expected {
				t.Fatalf("expected tier %s, got %s", tt.expected, res.Tier)
			}
			if res.NeedsResample != tt.needsResample {
				t.Errorf("expected needsResample=%v, got %v", tt.needsResample, res.NeedsResample)
			}
			if res.CacheKey != tt.expected.String() {
				t.Errorf("expected cache key %q, got %q", tt.expected.String(), res.CacheKey)
			}
			if res.TTL != tb.TTL(tt.expected) {
				t.Errorf("expected ttl %s, got %s", tb.TTL(tt.expected), res.TTL)
			}
		})
	}
}

func TestResolve_Archive(t *testing.T) {
	tb := DefaultTable()
	res := tb.Resolve(model.Interval1d, 10000, model.MarketUS)

	if res.Layer != 3 {
		t.Errorf("expected layer 3, got %d", res.Layer)
	}
	if res.Interval != model.Interval1d {
		t.Errorf("expected daily archive, got %s", res.Interval)
	}
	if res.MaxDays != 0 || !res.Covers(1_000_000) {
		t.Error("archive should be unbounded")
	}
	for _, tier := range escalation {
		if res.TTL <= tb.TTL(tier) {
			t.Errorf("archive ttl %s should exceed %s ttl %s", res.TTL, tier, tb.TTL(tier))
		}
	}
}

func TestResolve_NeverFinerThanSource(t *testing.T) {
	tb := DefaultTable()
	intervals := []model.Interval{
		model.Interval1m, model.Interval2m, model.Interval5m, model.Interval15m, model.Interval30m,
		model.Interval1h, model.Interval4h, model.Interval1d, model.Interval1w, model.Interval1mo,
	}
	markets := []model.Market{model.MarketUS, model.MarketHK, model.MarketSH, model.MarketSZ, model.MarketCrypto}

	for _, iv := range intervals {
		for _, m := range markets {
			for _, days := range []int{1, 7, 30, 59, 60, 365, 729, 1000, 5000} {
				res := tb.Resolve(iv, days, m)
				if res.Tier != TierArchive && !res.Covers(days) {
					t.Errorf("%s/%d/%s: tier %s does not cover span", iv, days, m, res.Tier)
				}
				if m.IsAShare() && res.Tier == Tier1h {
					t.Errorf("%s/%d/%s: A-share resolved to excluded 1h tier", iv, days, m)
				}
			}
		}
	}
}

func TestTable_Validate(t *testing.T) {
	if err := DefaultTable().Validate(); err != nil {
		t.Fatalf("default table invalid: %v", err)
	}

	tb := DefaultTable()
	tb.specs[Tier5m].MaxDays = 3
	if err := tb.Validate(); err == nil {
		t.Error("expected error for shrinking window")
	}

	tb = DefaultTable()
	tb.specs[TierArchive].TTL = time.Minute
	if err := tb.Validate(); err == nil {
		t.Error("expected error for short archive ttl")
	}
}

func TestParseYAML(t *testing.T) {
	data := []byte(`
tiers:
  1m:
    max_days: 8
    ttl: 2m
  1d:
    ttl: 6h
archive:
  ttl: 48h
`)
	tb, err := ParseYAML(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if got := tb.Spec(Tier1m); got.MaxDays != 8 || got.TTL != 2*time.Minute {
		t.Errorf("unexpected 1m spec: %+v", got)
	}
	if got := tb.Spec(Tier1d); got.MaxDays != 1825 || got.TTL != 6*time.Hour {
		t.Errorf("unexpected 1d spec: %+v", got)
	}
	if got := tb.TTL(TierArchive); got != 48*time.Hour {
		t.Errorf("expected archive ttl 48h, got %s", got)
	}
}

func TestParseYAML_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"unknown tier", "tiers:\n  3m: {max_days: 2}\n"},
		{"archive under tiers", "tiers:\n  archive: {ttl: 1h}\n"},
		{"window not increasing", "tiers:\n  1h: {max_days: 10}\n"},
		{"bad yaml", "tiers: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseYAML([]byte(tt.data)); err == nil {
				t.Error("expected error")
			}
		})
	}
}
