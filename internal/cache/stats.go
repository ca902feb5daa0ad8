package cache

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/DataDog/sketches-go/ddsketch"
)

// Stats is a snapshot of service counters.
type Stats struct {
	Hits           int64
	Misses         int64
	Fetches        int64
	FetchFailures  int64
	LockTimeouts   int64
	MissExhausted  int64
	Appends        int64
	AppendFailures int64
	FetchP50       time.Duration
	FetchP99       time.Duration
}

type counters struct {
	hits, misses, fetches, fetchFailures atomic.Int64
	lockTimeouts, missExhausted          atomic.Int64
	appends, appendFailures              atomic.Int64

	mu     sync.Mutex
	sketch *ddsketch.DDSketch // fetch latency in seconds, nil if unavailable
}

func newCounters() *counters {
	c := &counters{}
	// 1% relative accuracy
	if sketch, err := ddsketch.NewDefaultDDSketch(0.01); err == nil {
		c.sketch = sketch
	}
	return c
}

func (c *counters) observeFetch(d time.Duration) {
	if c.sketch == nil {
		return
	}
	c.mu.Lock()
	_ = c.sketch.Add(d.Seconds())
	c.mu.Unlock()
}

func (c *counters) snapshot() Stats {
	s := Stats{
		Hits:           c.hits.Load(),
		Misses:         c.misses.Load(),
		Fetches:        c.fetches.Load(),
		FetchFailures:  c.fetchFailures.Load(),
		LockTimeouts:   c.lockTimeouts.Load(),
		MissExhausted:  c.missExhausted.Load(),
		Appends:        c.appends.Load(),
		AppendFailures: c.appendFailures.Load(),
	}
	if c.sketch == nil {
		return s
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sketch.IsEmpty() {
		return s
	}
	p50, _ := c.sketch.GetValueAtQuantile(0.50)
	p99, _ := c.sketch.GetValueAtQuantile(0.99)
	s.FetchP50 = time.Duration(p50 * float64(time.Second))
	s.FetchP99 = time.Duration(p99 * float64(time.Second))
	return s
}
