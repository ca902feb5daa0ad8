package model

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Bar represents one OHLCV bar (minute/daily etc.).
// Shared by provider, cache store, resampler and callers.
type Bar struct {
	Date   time.Time // bar start, keeps the offset it was produced with
	Open   decimal.Decimal
	High   decimal.Decimal
	Low    decimal.Decimal
	Close  decimal.Decimal
	Volume int64
}

// Key returns the dedup key for the bar's date. Two bars with the same
// instant share a key regardless of the zone they are expressed in.
func (b Bar) Key() int64 {
	return b.Date.UnixNano()
}

// Equal reports whether both bars carry the same instant and OHLCV values.
func (b Bar) Equal(o Bar) bool {
	return b.Date.Equal(o.Date) &&
		b.Open.Equal(o.Open) &&
		b.High.Equal(o.High) &&
		b.Low.Equal(o.Low) &&
		b.Close.Equal(o.Close) &&
		b.Volume == o.Volume
}

// SortByDate sorts bars ascending by date in place.
func SortByDate(bars []Bar) {
	sort.SliceStable(bars, func(i, j int) bool {
		return bars[i].Date.Before(bars[j].Date)
	})
}

// Merge overlays incoming on existing by date key: a bar in incoming
// replaces any existing bar at the same instant. The result is sorted and
// has unique dates.
func Merge(existing, incoming []Bar) []Bar {
	byKey := make(map[int64]int, len(existing)+len(incoming))
	out := make([]Bar, 0, len(existing)+len(incoming))
	for _, b := range existing {
		if i, ok := byKey[b.Key()]; ok {
			out[i] = b
			continue
		}
		byKey[b.Key()] = len(out)
		out = append(out, b)
	}
	for _, b := range incoming {
		if i, ok := byKey[b.Key()]; ok {
			out[i] = b
			continue
		}
		byKey[b.Key()] = len(out)
		out = append(out, b)
	}
	SortByDate(out)
	return out
}

// Trim returns the bars whose date falls in [from, to]. A zero bound is open.
// Comparison is on instants, so differing offsets do not matter.
func Trim(bars []Bar, from, to time.Time) []Bar {
	out := make([]Bar, 0, len(bars))
	for _, b := range bars {
		if !from.IsZero() && b.Date.Before(from) {
			continue
		}
		if !to.IsZero() && b.Date.After(to) {
			continue
		}
		out = append(out, b)
	}
	return out
}
