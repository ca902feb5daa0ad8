package app

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"barcache/internal/cache"
	"barcache/internal/diskcache"
	"barcache/internal/warm"
)

// Cache is what the run loop needs from the cache service.
type Cache interface {
	warm.Historian
	Stats() cache.Stats
}

// RunFlow orchestrates the daemon: warm at start, warm again daily at
// WARM_RUN_HOUR:WARM_RUN_MINUTE UTC, sweep every CLEANUP_INTERVAL. Returns on
// SIGINT/SIGTERM or when ctx is done, after the running warm has stopped.
func RunFlow(ctx context.Context, cfg *Config, svc Cache, sweeper *diskcache.Sweeper, targets []warm.Target) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	intervals, err := cfg.Intervals()
	if err != nil {
		slog.Error("bad warm intervals", "error", err)
		return
	}
	jobs := warm.BuildJobs(targets, intervals)
	opts := warm.Options{
		Workers:   cfg.WarmWorkers(),
		DaySpan:   cfg.WarmDays,
		ReportDir: cfg.CacheDir,
	}

	trigger := make(chan warm.Cmd, 1)
	done := make(chan warm.Done, 1)
	go func() {
		for range trigger {
			warm.RunOneWarm(ctx, svc, jobs, opts, done)
		}
	}()
	defer close(trigger)

	go runCleanup(ctx, cfg.CleanupInterval, sweeper, svc)

	trigger <- warm.Cmd{}
	running := true

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signals)

	var timer *time.Timer
	var timerC <-chan time.Time
	stop := func() {
		if timer != nil {
			timer.Stop()
		}
		cancel()
		if running {
			<-done
		}
	}

	for {
		select {
		case <-done:
			running = false
			nextRun := nextWarmRunTime(cfg, time.Now())
			waitDur := time.Until(nextRun)
			slog.Info("warm done, timer waiting", "hours", waitDur.Hours(), "until", nextRun.Format("2006-01-02 15:04"))
			timer = time.NewTimer(waitDur)
			timerC = timer.C
		case <-timerC:
			timerC = nil
			running = true
			trigger <- warm.Cmd{}
		case sig := <-signals:
			slog.Info("received signal, graceful shutdown", "sig", sig)
			stop()
			return
		case <-ctx.Done():
			slog.Info("context done, shutting down")
			stop()
			return
		}
	}
}

func runCleanup(ctx context.Context, interval time.Duration, sweeper *diskcache.Sweeper, svc Cache) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweeper.Run(ctx)
			slog.Debug(sweeper.FormatDiskUsage())
			st := svc.Stats()
			slog.Info("cache stats",
				"hits", st.Hits,
				"misses", st.Misses,
				"fetches", st.Fetches,
				"fetch_failures", st.FetchFailures,
				"lock_timeouts", st.LockTimeouts,
				"miss_exhausted", st.MissExhausted,
				"appends", st.Appends,
				"append_failures", st.AppendFailures,
				"fetch_p50", st.FetchP50,
				"fetch_p99", st.FetchP99,
			)
		}
	}
}

func nextWarmRunTime(cfg *Config, now time.Time) time.Time {
	now = now.UTC()
	hour, min := cfg.WarmRunHour, cfg.WarmRunMinute
	targetToday := time.Date(now.Year(), now.Month(), now.Day(), hour, min, 0, 0, time.UTC)
	if now.Before(targetToday) {
		return targetToday
	}
	tomorrow := now.AddDate(0, 0, 1)
	return time.Date(tomorrow.Year(), tomorrow.Month(), tomorrow.Day(), hour, min, 0, 0, time.UTC)
}
