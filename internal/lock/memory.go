package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memEntry struct {
	token   string
	expires time.Time
}

// Memory is an in-process Client.
type Memory struct {
	mu    sync.Mutex
	locks map[string]memEntry
	now   func() time.Time
}

func NewMemory() *Memory {
	return &Memory{locks: make(map[string]memEntry), now: time.Now}
}

func (m *Memory) Acquire(ctx context.Context, key string, lease time.Duration) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if e, ok := m.locks[key]; ok && now.Before(e.expires) {
		return "", false, nil
	}
	token := uuid.NewString()
	m.locks[key] = memEntry{token: token, expires: now.Add(lease)}
	return token, true, nil
}

func (m *Memory) Release(_ context.Context, key, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.locks[key]
	if !ok || !m.now().Before(e.expires) {
		delete(m.locks, key)
		return nil
	}
	if e.token != token {
		return ErrNotHeld
	}
	delete(m.locks, key)
	return nil
}
