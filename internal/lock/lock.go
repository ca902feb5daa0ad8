// Package lock provides leased, token-owned mutual exclusion keyed by string.
// A Client may be process-local (Memory) or shared between processes
// (Redis). A lease that is never released expires on its own.
package lock

import (
	"context"
	"errors"
	"time"
)

// ErrNotHeld is returned by Release when the lock is held under a different
// token. Releasing an expired or missing lock is not an error.
var ErrNotHeld = errors.New("lock: held by another owner")

// Client acquires and releases leased locks.
type Client interface {
	// Acquire tries once to take key for lease. ok is false when another
	// owner holds it. The returned token must be passed to Release.
	Acquire(ctx context.Context, key string, lease time.Duration) (token string, ok bool, err error)
	// Release gives up key if it is still held under token.
	Release(ctx context.Context, key, token string) error
}
