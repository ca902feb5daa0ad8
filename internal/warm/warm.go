// Package warm pre-fills the cache for a list of symbols so the first real
// request is a hit.
package warm

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"barcache/internal/cache"
	"barcache/internal/model"
	"barcache/internal/slogx"
)

// Historian is the part of the cache service a warm run needs.
type Historian interface {
	GetHistory(ctx context.Context, q cache.Query) ([]model.Bar, error)
}

// Job is one warm unit.
type Job struct {
	Target   Target
	Interval model.Interval
}

// JobResult is sent by workers for fan-in
type JobResult struct {
	Ok       bool
	Symbol   string
	Interval string
	Reason   string
	Bars     int
}

// Cmd triggers a warm run
type Cmd struct{}

// Done signals warm completion
type Done struct{}

// Options controls one run.
type Options struct {
	Workers   int           // parallel GetHistory calls, <= 0 means 1
	DaySpan   int           // day span requested per job
	ReportDir string        // where .lastwarm.*.json are written, empty disables
	Heartbeat time.Duration // <= 0 means 30s
	LogOutput io.Writer     // fan-in log sink, nil means stderr
}

// Summary is the outcome of a run.
type Summary struct {
	Success     int
	Failed      int
	Bars        int
	SuccessList []string
	FailedList  []FailedEntry
}

// BuildJobs crosses targets with intervals, skipping unknown intervals.
func BuildJobs(targets []Target, intervals []model.Interval) []Job {
	jobs := make([]Job, 0, len(targets)*len(intervals))
	for _, t := range targets {
		for _, iv := range intervals {
			if iv == model.IntervalUnknown {
				continue
			}
			jobs = append(jobs, Job{Target: t, Interval: iv})
		}
	}
	return jobs
}

// RunOneWarm runs one warm cycle and sends done when finished.
func RunOneWarm(ctx context.Context, h Historian, jobs []Job, opts Options, done chan<- Done) {
	defer func() { done <- Done{} }()
	if len(jobs) == 0 {
		slog.Info("no jobs to warm, skip")
		return
	}
	slog.Info("jobs to warm", "jobs", len(jobs), "workers", opts.Workers)

	sum := RunParallel(ctx, h, jobs, opts)
	slog.Info("warm done", "success", sum.Success, "failed", sum.Failed, "bars", sum.Bars)

	if opts.ReportDir != "" && (len(sum.SuccessList) > 0 || len(sum.FailedList) > 0) {
		if err := writeRunReport(opts.ReportDir, sum.SuccessList, sum.FailedList); err != nil {
			slog.Warn("could not write run report", "error", err)
		} else {
			slog.Info("run report saved", "success", len(sum.SuccessList), "failed", len(sum.FailedList))
		}
	}
}

func runJobResultCollector(results <-chan JobResult, mu *sync.Mutex, sum *Summary, barsPerSymbol map[string]int) {
	for r := range results {
		mu.Lock()
		if r.Ok {
			sum.Success++
			sum.Bars += r.Bars
			sum.SuccessList = appendSuccess(sum.SuccessList, r.Symbol)
			barsPerSymbol[r.Symbol] += r.Bars
		} else {
			sum.Failed++
			sum.FailedList = append(sum.FailedList, FailedEntry{Symbol: r.Symbol, Interval: r.Interval, Reason: r.Reason})
		}
		mu.Unlock()
	}
}

// RunParallel runs jobs over opts.Workers workers. Cancelling ctx stops
// handing out new jobs; in-flight calls see the cancellation too.
func RunParallel(ctx context.Context, h Historian, jobs []Job, opts Options) Summary {
	workers := opts.Workers
	if workers <= 0 {
		workers = 1
	}
	heartbeat := opts.Heartbeat
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}
	out := opts.LogOutput
	if out == nil {
		out = os.Stderr
	}

	logs := make(chan string, 2048)
	logger := slogx.NewChanLogger(logs)
	errs := make(chan errorEntry, 64)
	var logWg sync.WaitGroup
	logWg.Add(1)
	go func() {
		defer logWg.Done()
		runLogWriter(out, logs)
	}()
	var errWg sync.WaitGroup
	errWg.Add(1)
	go func() {
		defer errWg.Done()
		runErrorHandler(errs, logger)
	}()

	pending := make(chan Job, len(jobs))
	for _, j := range jobs {
		pending <- j
	}
	close(pending)

	results := make(chan JobResult, len(jobs))
	var mu sync.Mutex
	var sum Summary
	barsPerSymbol := make(map[string]int)
	var resWg sync.WaitGroup
	resWg.Add(1)
	go func() {
		defer resWg.Done()
		runJobResultCollector(results, &mu, &sum, barsPerSymbol)
	}()

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	var hbWg sync.WaitGroup
	hbWg.Add(1)
	go func() {
		defer hbWg.Done()
		runHeartbeat(hbCtx, heartbeat, len(jobs), &mu, &sum, logger)
	}()

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case job, ok := <-pending:
					if !ok {
						return
					}
					results <- runJob(ctx, h, job, opts.DaySpan, logger, errs)
				}
			}
		}()
	}
	wg.Wait()
	close(results)
	resWg.Wait()
	stopHeartbeat()
	hbWg.Wait()

	logger.Info("summary", "total_bars", sum.Bars, "success", sum.Success, "failed", sum.Failed)
	if len(barsPerSymbol) > 0 {
		symbols := make([]string, 0, len(barsPerSymbol))
		for s := range barsPerSymbol {
			symbols = append(symbols, s)
		}
		sort.Strings(symbols)
		for _, s := range symbols {
			logger.Info("summary symbol", "symbol", s, "bars", barsPerSymbol[s])
		}
	}
	if len(sum.FailedList) > 0 {
		logger.Info("summary failed", "count", len(sum.FailedList), "reasons", joinFailedReasons(sum.FailedList))
	}

	close(errs)
	errWg.Wait()
	close(logs)
	logWg.Wait()
	return sum
}

func runJob(ctx context.Context, h Historian, job Job, daySpan int, logger *slog.Logger, errs chan<- errorEntry) JobResult {
	symbol, interval := job.Target.Symbol, job.Interval.String()
	start := time.Now()
	bars, err := h.GetHistory(ctx, cache.Query{
		Symbol:   symbol,
		Interval: job.Interval,
		DaySpan:  daySpan,
		Market:   job.Target.Market,
	})
	switch {
	case err != nil:
		logger.Error("warm fail", "symbol", symbol, "interval", interval, "reason", err.Error())
		select {
		case errs <- errorEntry{Symbol: symbol, Err: err}:
		default:
		}
		return JobResult{Symbol: symbol, Interval: interval, Reason: err.Error()}
	case len(bars) == 0:
		logger.Error("warm fail", "symbol", symbol, "interval", interval, "reason", "no data")
		return JobResult{Symbol: symbol, Interval: interval, Reason: "no data"}
	default:
		logger.Info("warm ok", "symbol", symbol, "interval", interval, "bars", len(bars), "elapsed", time.Since(start).Round(time.Millisecond))
		return JobResult{Ok: true, Symbol: symbol, Interval: interval, Bars: len(bars)}
	}
}
