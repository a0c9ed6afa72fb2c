package lock

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Memory is a process-local Locker for tests and single-process tools.
type Memory struct {
	mu    sync.Mutex
	now   func() time.Time
	held  map[string]memoryEntry
	token uint64
}

type memoryEntry struct {
	token   uint64
	expires time.Time
}

// NewMemory creates an empty in-process locker.
func NewMemory() *Memory {
	return &Memory{now: time.Now, held: map[string]memoryEntry{}}
}

// TryLock takes key unless a live entry holds it.
func (m *Memory) TryLock(_ context.Context, key string, ttl time.Duration) (Release, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if e, ok := m.held[key]; ok && now.Before(e.expires) {
		return nil, fmt.Errorf("%w: %s", ErrContention, key)
	}
	m.token++
	token := m.token
	m.held[key] = memoryEntry{token: token, expires: now.Add(ttl)}
	return func(context.Context) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		if e, ok := m.held[key]; ok && e.token == token {
			delete(m.held, key)
		}
		return nil
	}, nil
}

// Unlock drops key whoever holds it.
func (m *Memory) Unlock(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.held, key)
	return nil
}

// Held reports whether key is currently locked.
func (m *Memory) Held(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.held[key]
	return ok && m.now().Before(e.expires)
}
