package diskcache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"barcache/internal/model"

	"golang.org/x/sync/semaphore"
)

// tempSuffix marks in-flight writes; the sweeper removes abandoned ones.
const tempSuffix = ".tmp"

// Store reads and writes cache files under root, laid out as
// <root>/<sanitized-symbol>/<name>.<ext>. Disk access is gated by a weighted
// semaphore so at most maxIO reads or writes run at once.
type Store struct {
	root   string
	codec  Codec
	io     *semaphore.Weighted
	logger *slog.Logger
	now    func() time.Time
}

// NewStore creates a Store. maxIO <= 0 means 8.
func NewStore(root string, codec Codec, maxIO int, logger *slog.Logger) *Store {
	if maxIO <= 0 {
		maxIO = 8
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		root:   root,
		codec:  codec,
		io:     semaphore.NewWeighted(int64(maxIO)),
		logger: logger.With("component", "diskcache"),
		now:    time.Now,
	}
}

// Root returns the cache root directory.
func (s *Store) Root() string { return s.root }

// Codec returns the file codec.
func (s *Store) Codec() Codec { return s.codec }

// FileName returns the file name used for a tier key.
func (s *Store) FileName(name string) string {
	return name + "." + s.codec.Extension()
}

// Path returns the cache file path for (symbol, name).
func (s *Store) Path(symbol, name string) string {
	return filepath.Join(s.root, SanitizeSymbol(symbol), s.FileName(name))
}

// Read returns the cached bars when the file exists, decodes and is no older
// than ttl. Every failure is logged and reported as a miss.
func (s *Store) Read(ctx context.Context, symbol, name string, ttl time.Duration) ([]model.Bar, bool) {
	f, err := s.Load(ctx, symbol, name)
	if err == nil && f.Age(s.now()) > ttl {
		err = fmt.Errorf("%w: age %s > ttl %s", ErrExpired, f.Age(s.now()).Round(time.Second), ttl)
	}
	return s.result(symbol, name, f, err)
}

// ReadNoTTL is Read without the freshness check. Used as the merge base so
// stale but intact data is not thrown away.
func (s *Store) ReadNoTTL(ctx context.Context, symbol, name string) ([]model.Bar, bool) {
	f, err := s.Load(ctx, symbol, name)
	return s.result(symbol, name, f, err)
}

func (s *Store) result(symbol, name string, f File, err error) ([]model.Bar, bool) {
	switch {
	case err == nil:
		return f.Bars, true
	case errors.Is(err, ErrCorrupt):
		s.logger.Warn("corrupt cache file, treating as miss", "symbol", symbol, "tier", name, "error", err)
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrExpired):
		s.logger.Debug("cache miss", "symbol", symbol, "tier", name, "reason", err)
	default:
		s.logger.Warn("cache read failed", "symbol", symbol, "tier", name, "error", err)
	}
	return nil, false
}

// Load reads and decodes the cache file for (symbol, name).
func (s *Store) Load(ctx context.Context, symbol, name string) (File, error) {
	return s.loadPath(ctx, s.Path(symbol, name))
}

func (s *Store) loadPath(ctx context.Context, path string) (File, error) {
	if err := s.io.Acquire(ctx, 1); err != nil {
		return File{}, err
	}
	defer s.io.Release(1)

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return File{}, ErrNotFound
		}
		return File{}, fmt.Errorf("read %s: %w", path, err)
	}
	f, err := s.codec.Decode(data)
	if err != nil {
		return File{}, err
	}
	return f, nil
}

// Write replaces the cache file with bars stamped now. The file is written to
// a sibling temp file and renamed, so readers never see a partial file.
func (s *Store) Write(ctx context.Context, symbol, name string, bars []model.Bar, ttl time.Duration) error {
	data, err := s.codec.Encode(File{UpdatedAt: s.now(), TTL: ttl, Bars: bars})
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", symbol, name, err)
	}

	if err := s.io.Acquire(ctx, 1); err != nil {
		return err
	}
	defer s.io.Release(1)

	path := s.Path(symbol, name)
	if err := writeAtomic(path, data); err != nil {
		return err
	}
	s.logger.Debug("cache written", "symbol", symbol, "tier", name, "bars", len(bars))
	return nil
}

// Append merges bars into the existing file by date, new bars winning, and
// writes the sorted result. A missing or corrupt file is treated as empty.
// Callers serialise concurrent appends to the same key.
func (s *Store) Append(ctx context.Context, symbol, name string, bars []model.Bar, ttl time.Duration) error {
	existing, _ := s.ReadNoTTL(ctx, symbol, name)
	merged := model.Merge(existing, bars)
	return s.Write(ctx, symbol, name, merged, ttl)
}

// mkdirAll is swapped in tests to race the sweeper.
var mkdirAll = os.MkdirAll

// createTemp opens a temp file in dir. The sweeper removes empty symbol
// directories, possibly between MkdirAll and CreateTemp, so a vanished
// directory is recreated once.
func createTemp(dir, pattern string) (*os.File, error) {
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		if err := mkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create dir %s: %w", dir, err)
		}
		var tmp *os.File
		tmp, err = os.CreateTemp(dir, pattern)
		if err == nil {
			return tmp, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			break
		}
	}
	return nil, fmt.Errorf("create temp: %w", err)
}

func writeAtomic(path string, data []byte) error {
	tmp, err := createTemp(filepath.Dir(path), filepath.Base(path)+".*"+tempSuffix)
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpPath) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		cleanup()
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}
