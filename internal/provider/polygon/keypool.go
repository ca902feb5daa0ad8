package polygon

import (
	"context"
	"errors"
	"sync"
	"time"
)

// KeyCooldown is the spacing between requests on one key: Polygon's free
// plan allows 5 req/min.
const KeyCooldown = 12 * time.Second

// KeySelectionStrategy decides which key serves the next request.
type KeySelectionStrategy int

const (
	RoundRobin KeySelectionStrategy = iota
	LeastUsed
)

// String implements Stringer.
func (k KeySelectionStrategy) String() string {
	switch k {
	case RoundRobin:
		return "round-robin"
	case LeastUsed:
		return "least-used"
	default:
		return "unknown"
	}
}

// APIKeyInfo tracks one API key.
type APIKeyInfo struct {
	Key          string
	LastUsed     time.Time
	RequestCount int64
	nextAt       time.Time
}

// Prefix returns a log-safe key prefix.
func (k *APIKeyInfo) Prefix() string {
	if len(k.Key) > 8 {
		return k.Key[:8] + "..."
	}
	return k.Key
}

// APIKeyPool hands out keys while keeping each key at most one request per
// cooldown. Callers reserve a slot and wait for it outside the pool mutex.
type APIKeyPool struct {
	mu       sync.Mutex
	keys     []*APIKeyInfo
	index    int
	strategy KeySelectionStrategy
	cooldown time.Duration
	now      func() time.Time
}

// NewAPIKeyPool creates a pool. cooldown <= 0 means KeyCooldown.
func NewAPIKeyPool(apiKeys []string, strategy KeySelectionStrategy, cooldown time.Duration) (*APIKeyPool, error) {
	if len(apiKeys) == 0 {
		return nil, errors.New("polygon: at least one API key is required")
	}
	if cooldown <= 0 {
		cooldown = KeyCooldown
	}
	keys := make([]*APIKeyInfo, len(apiKeys))
	for i, key := range apiKeys {
		keys[i] = &APIKeyInfo{Key: key}
	}
	return &APIKeyPool{
		keys:     keys,
		strategy: strategy,
		cooldown: cooldown,
		now:      time.Now,
	}, nil
}

// Acquire returns a key once its cooldown slot arrives.
func (p *APIKeyPool) Acquire(ctx context.Context) (*APIKeyInfo, error) {
	key, wait := p.reserve()
	if wait > 0 {
		t := time.NewTimer(wait)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.C:
		}
	}
	return key, nil
}

func (p *APIKeyPool) reserve() (*APIKeyInfo, time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var selected *APIKeyInfo
	switch p.strategy {
	case LeastUsed:
		selected = p.keys[0]
		for _, key := range p.keys[1:] {
			if key.RequestCount < selected.RequestCount {
				selected = key
			}
		}
	default:
		// Round-robin, but prefer the key whose slot opens first.
		selected = p.keys[p.index]
		for i := 1; i < len(p.keys); i++ {
			k := p.keys[(p.index+i)%len(p.keys)]
			if k.nextAt.Before(selected.nextAt) {
				selected = k
			}
		}
		p.index = (p.index + 1) % len(p.keys)
	}

	now := p.now()
	slot := selected.nextAt
	if slot.Before(now) {
		slot = now
	}
	selected.nextAt = slot.Add(p.cooldown)
	selected.LastUsed = slot
	selected.RequestCount++
	return selected, slot.Sub(now)
}

// Len returns the number of keys.
func (p *APIKeyPool) Len() int { return len(p.keys) }

// KeyStats is a usage snapshot of one key.
type KeyStats struct {
	KeyPrefix    string
	RequestCount int64
	LastUsed     time.Time
}

// Stats returns per-key usage.
func (p *APIKeyPool) Stats() []KeyStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]KeyStats, len(p.keys))
	for i, k := range p.keys {
		out[i] = KeyStats{KeyPrefix: k.Prefix(), RequestCount: k.RequestCount, LastUsed: k.LastUsed}
	}
	return out
}
