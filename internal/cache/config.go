package cache

import (
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// WaitPolicy bounds how long a request polls the disk while another process
// holds the fetch lock: at most MaxAttempts polls, at most MaxElapsed of
// sleeping. See Bound.
type WaitPolicy struct {
	Initial     time.Duration
	MaxInterval time.Duration
	MaxElapsed  time.Duration
	MaxAttempts int
}

// Config tunes the miss-handling protocol.
type Config struct {
	LockLease time.Duration
	Wait      WaitPolicy
}

const (
	waitMultiplier = 1.5
	waitJitter     = 0.5

	// leaseMarginDiv leaves a tenth of the lease for the write and release.
	leaseMarginDiv = 10
)

// DefaultConfig returns a 60s lease and a 60s / 20 attempt wait budget, so a
// waiter outlasts a holder's whole fetch.
func DefaultConfig() Config {
	return Config{
		LockLease: 60 * time.Second,
		Wait: WaitPolicy{
			Initial:     250 * time.Millisecond,
			MaxInterval: 5 * time.Second,
			MaxElapsed:  60 * time.Second,
			MaxAttempts: 20,
		},
	}
}

// FetchTimeout is the deadline for one upstream fetch under the lock.
func (c Config) FetchTimeout() time.Duration {
	return c.LockLease - c.LockLease/leaseMarginDiv
}

// Validate checks that every bound is positive.
func (c Config) Validate() error {
	switch {
	case c.LockLease <= 0:
		return errors.New("cache: lock lease must be positive")
	case c.Wait.Initial <= 0 || c.Wait.MaxInterval <= 0:
		return errors.New("cache: wait intervals must be positive")
	case c.Wait.MaxElapsed <= 0:
		return errors.New("cache: wait budget must be positive")
	case c.Wait.MaxAttempts <= 0:
		return errors.New("cache: wait attempts must be positive")
	case c.Wait.Initial > c.Wait.MaxInterval:
		return errors.New("cache: initial wait exceeds max interval")
	}
	return nil
}

// Bound is the worst-case time spent sleeping between polls: the jittered
// schedule over MaxAttempts-1 gaps, capped by MaxElapsed. The polls
// themselves come on top.
func (w WaitPolicy) Bound() time.Duration {
	var total time.Duration
	interval := float64(w.Initial)
	for i := 1; i < w.MaxAttempts; i++ {
		if interval > float64(w.MaxInterval) {
			interval = float64(w.MaxInterval)
		}
		total += time.Duration(interval * (1 + waitJitter))
		if total >= w.MaxElapsed {
			return w.MaxElapsed
		}
		interval *= waitMultiplier
	}
	return total
}

func (w WaitPolicy) backOff() backoff.BackOff {
	eb := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(w.Initial),
		backoff.WithMaxInterval(w.MaxInterval),
		backoff.WithMaxElapsedTime(w.MaxElapsed),
		backoff.WithMultiplier(waitMultiplier),
		backoff.WithRandomizationFactor(waitJitter),
	)
	// The first poll is not a retry.
	return backoff.WithMaxRetries(eb, uint64(w.MaxAttempts-1))
}
