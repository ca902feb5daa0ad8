package model

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func bar(t time.Time, close int64) Bar {
	p := decimal.NewFromInt(close)
	return Bar{Date: t, Open: p, High: p, Low: p, Close: p, Volume: close}
}

func TestMerge(t *testing.T) {
	t0 := time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC)
	ny := time.FixedZone("EST", -5*3600)

	tests := []struct {
		name     string
		existing []Bar
		incoming []Bar
		closes   []int64
	}{
		{"empty", nil, nil, []int64{}},
		{"only existing", []Bar{bar(t0, 1)}, nil, []int64{1}},
		{"only incoming", nil, []Bar{bar(t0, 2)}, []int64{2}},
		{
			name:     "incoming wins",
			existing: []Bar{bar(t0, 1), bar(t0.Add(time.Minute), 2)},
			incoming: []Bar{bar(t0.Add(time.Minute), 9)},
			closes:   []int64{1, 9},
		},
		{
			name:     "same instant other zone",
			existing: []Bar{bar(t0, 1)},
			incoming: []Bar{bar(t0.In(ny), 7)},
			closes:   []int64{7},
		},
		{
			name:     "unsorted input",
			existing: []Bar{bar(t0.Add(2*time.Minute), 3), bar(t0, 1)},
			incoming: []Bar{bar(t0.Add(time.Minute), 2), bar(t0.Add(-time.Minute), 0)},
			closes:   []int64{0, 1, 2, 3},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Merge(tt.existing, tt.incoming)
			if len(got) != len(tt.closes) {
				t.Fatalf("expected %d bars, got %d", len(tt.closes), len(got))
			}
			for i, c := range tt.closes {
				if got[i].Volume != c {
					t.Errorf("bar %d: expected %d, got %d", i, c, got[i].Volume)
				}
				if i > 0 && !got[i-1].Date.Before(got[i].Date) {
					t.Errorf("bars not strictly increasing at %d", i)
				}
			}
		})
	}
}

func TestMerge_Idempotent(t *testing.T) {
	t0 := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	base := []Bar{bar(t0, 1), bar(t0.Add(time.Hour), 2)}
	once := Merge(base, base[1:])
	twice := Merge(once, base[1:])
	if len(once) != 2 || len(twice) != 2 {
		t.Fatalf("expected 2 bars, got %d then %d", len(once), len(twice))
	}
	for i := range once {
		if !once[i].Equal(twice[i]) {
			t.Errorf("bar %d differs", i)
		}
	}
}

func TestTrim(t *testing.T) {
	t0 := time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := []Bar{
		bar(t0.Add(-24*time.Hour), 1),
		bar(t0, 2),
		bar(t0.Add(24*time.Hour).In(time.FixedZone("", 8*3600)), 3),
		bar(t0.Add(48*time.Hour), 4),
	}

	tests := []struct {
		name     string
		from, to time.Time
		expected int
	}{
		{"open both", time.Time{}, time.Time{}, 4},
		{"from inclusive", t0, time.Time{}, 3},
		{"to inclusive", time.Time{}, t0, 2},
		{"window", t0, t0.Add(24 * time.Hour), 2},
		{"empty window", t0.Add(time.Hour), t0.Add(2 * time.Hour), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Trim(bars, tt.from, tt.to); len(got) != tt.expected {
				t.Errorf("expected %d bars, got %d", tt.expected, len(got))
			}
		})
	}
}

func TestParseInterval(t *testing.T) {
	tests := []struct {
		in       string
		expected Interval
	}{
		{"1m", Interval1m},
		{"1M", Interval1mo},
		{"1mo", Interval1mo},
		{" 5m ", Interval5m},
		{"15m", Interval15m},
		{"60m", Interval1h},
		{"4H", Interval4h},
		{"1D", Interval1d},
		{"1wk", Interval1w},
		{"3m", IntervalUnknown},
		{"", IntervalUnknown},
	}
	for _, tt := range tests {
		if got := ParseInterval(tt.in); got != tt.expected {
			t.Errorf("ParseInterval(%q) = %s, expected %s", tt.in, got, tt.expected)
		}
	}
}

func TestIntervalDurationOrdering(t *testing.T) {
	order := []Interval{Interval1m, Interval2m, Interval5m, Interval15m, Interval30m,
		Interval1h, Interval4h, Interval1d, Interval1w, Interval1mo}
	for i := 1; i < len(order); i++ {
		if order[i].Duration() <= order[i-1].Duration() {
			t.Errorf("%s should be longer than %s", order[i], order[i-1])
		}
		if ParseInterval(order[i].String()) != order[i] {
			t.Errorf("%s does not round-trip through ParseInterval", order[i])
		}
	}
	if IntervalUnknown.Duration() != 0 {
		t.Error("unknown interval should have zero duration")
	}
}

func TestParseMarket(t *testing.T) {
	tests := []struct {
		in       string
		expected Market
		ashare   bool
	}{
		{"US", MarketUS, false},
		{"hk", MarketHK, false},
		{"SH", MarketSH, true},
		{"sz", MarketSZ, true},
		{"crypto", MarketCrypto, false},
		{"mars", MarketUS, false},
	}
	for _, tt := range tests {
		m := ParseMarket(tt.in)
		if m != tt.expected {
			t.Errorf("ParseMarket(%q) = %s, expected %s", tt.in, m, tt.expected)
		}
		if m.IsAShare() != tt.ashare {
			t.Errorf("%s IsAShare = %v", m, m.IsAShare())
		}
	}
	if MarketUS.Location().String() != "America/New_York" {
		t.Errorf("unexpected US location %s", MarketUS.Location())
	}
}
