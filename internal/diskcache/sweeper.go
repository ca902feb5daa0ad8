package diskcache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultTempMaxAge is how old an abandoned temp file must be before the
// sweeper removes it.
const DefaultTempMaxAge = time.Hour

// Sweeper deletes cache files that are stale beyond grace x TTL, abandoned
// temp files, and empty symbol directories. Corrupt files are skipped and
// left for a later sweep.
type Sweeper struct {
	mu         sync.Mutex
	store      *Store
	ttls       map[string]time.Duration
	grace      float64
	tempMaxAge time.Duration
	workers    int
	logger     *slog.Logger
	now        func() time.Time
	stats      Stats
}

// Stats holds cumulative sweeper statistics.
type Stats struct {
	LastRunTime  time.Time
	Runs         int64
	FilesDeleted int64
	BytesFreed   int64
	FilesSkipped int64
	Errors       int64
}

// SweepResult holds the result of one sweep.
type SweepResult struct {
	FilesScanned int
	FilesDeleted int
	BytesFreed   int64
	FilesSkipped int
	TempRemoved  int
	DirsRemoved  int
	Errors       []error
}

func (r *SweepResult) add(o SweepResult) {
	r.FilesScanned += o.FilesScanned
	r.FilesDeleted += o.FilesDeleted
	r.BytesFreed += o.BytesFreed
	r.FilesSkipped += o.FilesSkipped
	r.TempRemoved += o.TempRemoved
	r.DirsRemoved += o.DirsRemoved
	r.Errors = append(r.Errors, o.Errors...)
}

// NewSweeper creates a sweeper over store. ttls maps each known tier name to
// its serving TTL; files with other names are never touched. grace < 1
// means 2.
func NewSweeper(store *Store, ttls map[string]time.Duration, grace float64, logger *slog.Logger) *Sweeper {
	if grace < 1 {
		grace = 2
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		store:      store,
		ttls:       ttls,
		grace:      grace,
		tempMaxAge: DefaultTempMaxAge,
		workers:    4,
		logger:     logger.With("component", "sweeper"),
		now:        time.Now,
	}
}

// Run performs one sweep over the cache root.
func (w *Sweeper) Run(ctx context.Context) SweepResult {
	w.mu.Lock()
	defer w.mu.Unlock()

	result := w.sweep(ctx, false)

	w.stats.LastRunTime = w.now()
	w.stats.Runs++
	w.stats.FilesDeleted += int64(result.FilesDeleted)
	w.stats.BytesFreed += result.BytesFreed
	w.stats.FilesSkipped += int64(result.FilesSkipped)
	w.stats.Errors += int64(len(result.Errors))

	w.logger.Info("sweep done",
		"scanned", result.FilesScanned,
		"deleted", result.FilesDeleted,
		"freed", formatBytes(result.BytesFreed),
		"skipped", result.FilesSkipped,
		"temp_removed", result.TempRemoved,
		"dirs_removed", result.DirsRemoved,
		"errors", len(result.Errors),
	)
	return result
}

// DryRun reports what Run would delete without deleting anything.
func (w *Sweeper) DryRun(ctx context.Context) SweepResult {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sweep(ctx, true)
}

// Stats returns cumulative statistics.
func (w *Sweeper) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

func (w *Sweeper) sweep(ctx context.Context, dryRun bool) SweepResult {
	var total SweepResult

	entries, err := os.ReadDir(w.store.Root())
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			total.Errors = append(total.Errors, fmt.Errorf("list root: %w", err))
		}
		return total
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.workers)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(w.store.Root(), entry.Name())
		g.Go(func() error {
			r := w.sweepDir(gctx, dir, dryRun)
			mu.Lock()
			total.add(r)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return total
}

func (w *Sweeper) sweepDir(ctx context.Context, dir string, dryRun bool) SweepResult {
	var result SweepResult
	now := w.now()

	entries, err := os.ReadDir(dir)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Errorf("list %s: %w", dir, err))
		return result
	}

	remaining := len(entries)
	for _, entry := range entries {
		if ctx.Err() != nil {
			return result
		}
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		path := filepath.Join(dir, name)
		info, err := entry.Info()
		if err != nil {
			continue
		}

		if strings.HasSuffix(name, tempSuffix) {
			if now.Sub(info.ModTime()) > w.tempMaxAge {
				if w.remove(path, dryRun, &result) {
					result.TempRemoved++
					remaining--
				}
			}
			continue
		}

		ttl, known := w.ttls[strings.TrimSuffix(name, "."+w.store.Codec().Extension())]
		if !known || filepath.Ext(name) != "."+w.store.Codec().Extension() {
			continue
		}
		result.FilesScanned++

		f, err := w.store.loadPath(ctx, path)
		if err != nil {
			if errors.Is(err, ErrCorrupt) {
				w.logger.Warn("skipping corrupt cache file", "path", path, "error", err)
			}
			result.FilesSkipped++
			continue
		}
		if f.Age(now) <= time.Duration(float64(ttl)*w.grace) {
			continue
		}
		if w.remove(path, dryRun, &result) {
			result.FilesDeleted++
			result.BytesFreed += info.Size()
			remaining--
		}
	}

	if remaining == 0 {
		if dryRun {
			result.DirsRemoved++
		} else if err := os.Remove(dir); err == nil {
			result.DirsRemoved++
		}
	}
	return result
}

func (w *Sweeper) remove(path string, dryRun bool, result *SweepResult) bool {
	if dryRun {
		return true
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		result.Errors = append(result.Errors, fmt.Errorf("delete %s: %w", path, err))
		return false
	}
	w.logger.Debug("deleted cache file", "path", path)
	return true
}

// DiskUsage holds usage for one tier name.
type DiskUsage struct {
	FileCount int
	TotalSize int64
}

// DiskUsage returns file counts and sizes per known tier name.
func (w *Sweeper) DiskUsage() map[string]DiskUsage {
	usage := make(map[string]DiskUsage)
	ext := "." + w.store.Codec().Extension()
	_ = filepath.WalkDir(w.store.Root(), func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() || filepath.Ext(path) != ext {
			return nil
		}
		name := strings.TrimSuffix(d.Name(), ext)
		if _, ok := w.ttls[name]; !ok {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		u := usage[name]
		u.FileCount++
		u.TotalSize += info.Size()
		usage[name] = u
		return nil
	})
	return usage
}

// FormatDiskUsage returns a human-readable disk usage summary.
func (w *Sweeper) FormatDiskUsage() string {
	usage := w.DiskUsage()
	names := make([]string, 0, len(usage))
	for name := range usage {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	var totalSize int64
	var totalFiles int
	b.WriteString("Disk Usage:\n")
	for _, name := range names {
		u := usage[name]
		totalSize += u.TotalSize
		totalFiles += u.FileCount
		fmt.Fprintf(&b, "  %s: %d files, %s\n", name, u.FileCount, formatBytes(u.TotalSize))
	}
	fmt.Fprintf(&b, "  Total: %d files, %s\n", totalFiles, formatBytes(totalSize))
	return b.String()
}

// formatBytes formats bytes as human-readable string.
func formatBytes(b int64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
	)

	switch {
	case b >= GB:
		return fmt.Sprintf("%.2f GB", float64(b)/float64(GB))
	case b >= MB:
		return fmt.Sprintf("%.2f MB", float64(b)/float64(MB))
	case b >= KB:
		return fmt.Sprintf("%.2f KB", float64(b)/float64(KB))
	default:
		return fmt.Sprintf("%d B", b)
	}
}
