// Package diskcache stores one bar list per (symbol, tier) on the local
// filesystem. Files carry their own write time and TTL, are replaced
// atomically and are swept once they are stale beyond a grace multiple of
// their TTL.
package diskcache

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"barcache/internal/model"
)

var (
	// ErrNotFound means no cache file exists for the key.
	ErrNotFound = errors.New("cache file not found")

	// ErrCorrupt means the file exists but cannot be decoded.
	ErrCorrupt = errors.New("cache file corrupt")

	// ErrExpired means the file is older than the requested TTL.
	ErrExpired = errors.New("cache file expired")
)

// File is the decoded content of one cache file.
type File struct {
	UpdatedAt time.Time
	TTL       time.Duration
	Bars      []model.Bar
}

// Age returns how long ago the file was written.
func (f File) Age(now time.Time) time.Duration {
	return now.Sub(f.UpdatedAt)
}

// Codec is the on-disk encoding of a cache file.
type Codec interface {
	Encode(f File) ([]byte, error)
	Decode(data []byte) (File, error)
	Extension() string
}

// NewCodec creates the codec for a format name (json, parquet).
func NewCodec(format string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "json", "":
		return JSONCodec{}, nil
	case "parquet":
		return ParquetCodec{}, nil
	default:
		return nil, fmt.Errorf("unsupported cache format %q (use: json, parquet)", format)
	}
}

// dateLayouts are accepted when decoding bar dates. Layouts without an
// offset are read as UTC.
var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", s)
}

func formatDate(t time.Time) string {
	return t.Format(time.RFC3339Nano)
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func fromUnixSeconds(sec float64) time.Time {
	return time.Unix(0, int64(sec*1e9))
}
