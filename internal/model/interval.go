package model

import (
	"strings"
	"time"
)

// Interval is a bar resolution. The set is closed; use ParseInterval for
// strings coming from callers.
type Interval int

const (
	IntervalUnknown Interval = iota
	Interval1m
	Interval2m
	Interval5m
	Interval15m
	Interval30m
	Interval1h
	Interval4h
	Interval1d
	Interval1w
	Interval1mo
)

// String implements Stringer.
func (i Interval) String() string {
	switch i {
	case Interval1m:
		return "1m"
	case Interval2m:
		return "2m"
	case Interval5m:
		return "5m"
	case Interval15m:
		return "15m"
	case Interval30m:
		return "30m"
	case Interval1h:
		return "1h"
	case Interval4h:
		return "4h"
	case Interval1d:
		return "1d"
	case Interval1w:
		return "1w"
	case Interval1mo:
		return "1mo"
	default:
		return "unknown"
	}
}

// Duration returns the nominal bucket width. Monthly uses 30 days and is only
// meaningful for ordering; bucketing for months is calendar based.
func (i Interval) Duration() time.Duration {
	switch i {
	case Interval1m:
		return time.Minute
	case Interval2m:
		return 2 * time.Minute
	case Interval5m:
		return 5 * time.Minute
	case Interval15m:
		return 15 * time.Minute
	case Interval30m:
		return 30 * time.Minute
	case Interval1h:
		return time.Hour
	case Interval4h:
		return 4 * time.Hour
	case Interval1d:
		return 24 * time.Hour
	case Interval1w:
		return 7 * 24 * time.Hour
	case Interval1mo:
		return 30 * 24 * time.Hour
	default:
		return 0
	}
}

// ParseInterval converts a caller string to an Interval. Unknown strings
// yield IntervalUnknown.
func ParseInterval(s string) Interval {
	// "1M" is conventionally monthly and must be checked before case folding.
	if strings.TrimSpace(s) == "1M" {
		return Interval1mo
	}
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1m", "1min":
		return Interval1m
	case "2m":
		return Interval2m
	case "5m", "5min":
		return Interval5m
	case "15m", "15min":
		return Interval15m
	case "30m", "30min":
		return Interval30m
	case "1h", "60m", "1hour":
		return Interval1h
	case "4h", "240m":
		return Interval4h
	case "1d", "d", "day", "daily":
		return Interval1d
	case "1w", "1wk", "w", "week", "weekly":
		return Interval1w
	case "1mo", "mo", "month", "monthly":
		return Interval1mo
	}
	return IntervalUnknown
}
