package cache

import (
	"errors"
	"fmt"
)

// ErrUnavailable means no data is currently obtainable for the request.
// Every failure GetHistory reports wraps it, so callers that only care about
// "data or not" can test for this one value.
var ErrUnavailable = errors.New("cache: data unavailable")

var (
	// ErrMissExhausted: the lock holder finished without leaving fresh data.
	ErrMissExhausted = fmt.Errorf("%w: miss exhausted", ErrUnavailable)
	// ErrFetchFailed: the upstream fetch errored or returned nothing.
	ErrFetchFailed = fmt.Errorf("%w: fetch failed", ErrUnavailable)
	// ErrLockTimeout: another process held the fetch lock for the whole wait budget.
	ErrLockTimeout = fmt.Errorf("%w: lock wait timed out", ErrUnavailable)
)
