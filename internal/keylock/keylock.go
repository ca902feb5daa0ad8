// Package keylock serializes work per key inside one process using a fixed
// number of striped mutexes. Distinct keys may share a stripe; memory stays
// bounded no matter how many keys are seen.
package keylock

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

// DefaultShards is used when NewPool is given a non-positive count.
const DefaultShards = 256

type Pool struct {
	shards []sync.Mutex
}

func NewPool(shards int) *Pool {
	if shards <= 0 {
		shards = DefaultShards
	}
	return &Pool{shards: make([]sync.Mutex, shards)}
}

// Lock blocks until key's stripe is held and returns the unlock func.
func (p *Pool) Lock(key string) (unlock func()) {
	mu := &p.shards[p.index(key)]
	mu.Lock()
	return mu.Unlock
}

// Size returns the number of stripes.
func (p *Pool) Size() int { return len(p.shards) }

func (p *Pool) index(key string) uint64 {
	return xxhash.Sum64String(key) % uint64(len(p.shards))
}
