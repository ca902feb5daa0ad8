// Package resample downsamples OHLCV bars from a canonical tier resolution
// into a coarser requested resolution.
package resample

import (
	"time"

	"barcache/internal/model"
)

// Resample aggregates bars into fixed-width buckets of the target interval:
// open is the first open, high the max, low the min, close the last close and
// volume the sum. Only buckets holding at least one bar are emitted; zero
// prices are ordinary values.
//
// Bucket boundaries and output dates use the UTC offset of the first bar, so
// local session times stay as the source expressed them.
//
// bars must be sorted by date, as every stored bar list is.
//
// Resample never upsamples: when target is not coarser than source, or either
// is unknown, the input is returned unchanged.
func Resample(bars []model.Bar, source, target model.Interval) []model.Bar {
	if source == target || len(bars) == 0 {
		return bars
	}
	if source == model.IntervalUnknown || target == model.IntervalUnknown {
		return bars
	}
	if target.Duration() <= source.Duration() {
		return bars
	}

	loc := offsetOf(bars[0].Date)
	bucketOf := bucketFunc(target, loc)

	out := make([]model.Bar, 0, len(bars)/2+1)
	var cur *bucket
	for _, b := range bars {
		start := bucketOf(b.Date.In(loc))
		if cur == nil || !cur.start.Equal(start) {
			if cur != nil {
				if bar, ok := cur.bar(); ok {
					out = append(out, bar)
				}
			}
			cur = &bucket{start: start}
		}
		cur.add(b)
	}
	if cur != nil {
		if bar, ok := cur.bar(); ok {
			out = append(out, bar)
		}
	}
	return out
}

// offsetOf returns a fixed zone with the offset embedded in t.
func offsetOf(t time.Time) *time.Location {
	name, off := t.Zone()
	if off == 0 {
		return time.UTC
	}
	return time.FixedZone(name, off)
}

// bucketFunc returns the function mapping a local time to its bucket start.
func bucketFunc(target model.Interval, loc *time.Location) func(time.Time) time.Time {
	switch target {
	case model.Interval1d:
		return func(t time.Time) time.Time {
			return midnight(t, loc)
		}
	case model.Interval1w:
		return func(t time.Time) time.Time {
			weekday := int(t.Weekday())
			if weekday == 0 {
				weekday = 7 // Sunday = 7
			}
			return midnight(t, loc).AddDate(0, 0, -(weekday - 1))
		}
	case model.Interval1mo:
		return func(t time.Time) time.Time {
			return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, loc)
		}
	default:
		width := target.Duration()
		return func(t time.Time) time.Time {
			day := midnight(t, loc)
			n := t.Sub(day) / width
			return day.Add(n * width)
		}
	}
}

func midnight(t time.Time, loc *time.Location) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// bucket aggregates the bars of one target period. Presence is counted, not
// inferred from prices, so a genuine zero price is kept.
type bucket struct {
	start time.Time
	agg   model.Bar
	n     int
}

func (k *bucket) add(b model.Bar) {
	agg := &k.agg
	if k.n == 0 {
		agg.Open, agg.High, agg.Low = b.Open, b.High, b.Low
	} else {
		if b.High.GreaterThan(agg.High) {
			agg.High = b.High
		}
		if b.Low.LessThan(agg.Low) {
			agg.Low = b.Low
		}
	}
	agg.Close = b.Close
	agg.Volume += b.Volume
	k.n++
}

func (k *bucket) bar() (model.Bar, bool) {
	if k.n == 0 {
		return model.Bar{}, false
	}
	b := k.agg
	b.Date = k.start
	return b, true
}
