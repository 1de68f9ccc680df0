package quota

import (
	"context"
	"sync"
)

// MemoryBackend keeps locks and holds in process. It is correct only when a
// single server instance dispatches messages.
type MemoryBackend struct {
	mu    sync.Mutex
	locks map[Key]chan struct{}
	held  map[Key]int
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		locks: make(map[Key]chan struct{}),
		held:  make(map[Key]int),
	}
}

func (m *MemoryBackend) sem(key Key) chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.locks[key]
	if !ok {
		ch = make(chan struct{}, 1)
		m.locks[key] = ch
	}
	return ch
}

func (m *MemoryBackend) Lock(ctx context.Context, key Key) (func(), error) {
	ch := m.sem(key)
	select {
	case ch <- struct{}{}:
		var once sync.Once
		return func() { once.Do(func() { <-ch }) }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *MemoryBackend) Held(_ context.Context, key Key) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.held[key], nil
}

func (m *MemoryBackend) AddHeld(_ context.Context, key Key, delta int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := m.held[key] + delta
	if v <= 0 {
		delete(m.held, key)
		return nil
	}
	m.held[key] = v
	return nil
}
