// Package tier holds the canonical storage tiers and the resolver that maps
// a requested (interval, day span, market) onto one of them.
package tier

import (
	"fmt"
	"time"

	"barcache/internal/model"
)

// Tier is a canonical storage tier. Layer-2 tiers have a bounded lookback
// matching the upstream provider; TierArchive is the unbounded Layer-3 tier.
type Tier int

const (
	Tier1m Tier = iota
	Tier5m
	Tier1h
	Tier1d
	TierArchive
)

// escalation is the order tried from finer to coarser Layer-2 tiers.
var escalation = []Tier{Tier1m, Tier5m, Tier1h, Tier1d}

// All returns every tier, Layer-2 first.
func All() []Tier {
	return []Tier{Tier1m, Tier5m, Tier1h, Tier1d, TierArchive}
}

// String returns the tier name, also used as its cache file base name.
func (t Tier) String() string {
	switch t {
	case Tier1m:
		return "1m"
	case Tier5m:
		return "5m"
	case Tier1h:
		return "1h"
	case Tier1d:
		return "1d"
	case TierArchive:
		return "archive"
	default:
		return fmt.Sprintf("unknown(%d)", int(t))
	}
}

// Interval returns the bar resolution stored in the tier.
func (t Tier) Interval() model.Interval {
	switch t {
	case Tier1m:
		return model.Interval1m
	case Tier5m:
		return model.Interval5m
	case Tier1h:
		return model.Interval1h
	case Tier1d, TierArchive:
		return model.Interval1d
	default:
		return model.IntervalUnknown
	}
}

// Layer returns 2 for bounded tiers and 3 for the archive.
func (t Tier) Layer() int {
	if t == TierArchive {
		return 3
	}
	return 2
}

// ForInterval returns the Layer-2 tier storing exactly the given interval.
// Used by the write-back path, which is addressed by tier interval.
func ForInterval(i model.Interval) (Tier, bool) {
	switch i {
	case model.Interval1m:
		return Tier1m, true
	case model.Interval5m:
		return Tier5m, true
	case model.Interval1h:
		return Tier1h, true
	case model.Interval1d:
		return Tier1d, true
	default:
		return 0, false
	}
}

// Parse parses a tier name as produced by String.
func Parse(s string) (Tier, error) {
	for _, t := range All() {
		if t.String() == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown tier: %s", s)
}

// sourceTier maps a requested interval to the tier it is built from.
func sourceTier(i model.Interval) Tier {
	switch i {
	case model.Interval1m, model.Interval2m:
		return Tier1m
	case model.Interval5m, model.Interval15m, model.Interval30m:
		return Tier5m
	case model.Interval1h, model.Interval4h:
		return Tier1h
	case model.Interval1d, model.Interval1w, model.Interval1mo:
		return Tier1d
	case model.IntervalUnknown:
		return escalation[0]
	default:
		return escalation[0]
	}
}

// excluded reports whether the upstream tier is unusable for the market.
// A-share hourly bars from the provider are unreliable, so hourly requests
// are built from 5m and escalation jumps from 5m straight to daily.
func excluded(t Tier, m model.Market) bool {
	return t == Tier1h && m.IsAShare()
}

// Resolution is the outcome of Resolve. It is computed per request and never
// persisted.
type Resolution struct {
	Tier          Tier
	Interval      model.Interval // resolution stored in Tier
	Layer         int
	NeedsResample bool
	TTL           time.Duration
	CacheKey      string // cache file base name
	MaxDays       int    // lookback window in days, 0 for the unbounded archive
}

// Covers reports whether the tier's window is at least days wide.
func (r Resolution) Covers(days int) bool {
	return r.MaxDays == 0 || r.MaxDays >= days
}

// Resolve maps a request onto a canonical tier. It is deterministic and does
// no I/O.
func (tb *Table) Resolve(requested model.Interval, daySpan int, market model.Market) Resolution {
	if daySpan < 1 {
		daySpan = 1
	}

	src := sourceTier(requested)
	if excluded(src, market) {
		src = Tier5m
	}

	selected := TierArchive
	started := false
	for _, t := range escalation {
		if t == src {
			started = true
		}
		if !started || excluded(t, market) {
			continue
		}
		if tb.Spec(t).MaxDays >= daySpan {
			selected = t
			break
		}
	}

	spec := tb.Spec(selected)
	res := Resolution{
		Tier:     selected,
		Interval: selected.Interval(),
		Layer:    selected.Layer(),
		TTL:      spec.TTL,
		CacheKey: selected.String(),
		MaxDays:  spec.MaxDays,
	}
	if selected == TierArchive {
		res.MaxDays = 0
	}
	res.NeedsResample = requested != model.IntervalUnknown && res.Interval != requested
	return res
}
