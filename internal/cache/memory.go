package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryCache implements Cache with in-process counters. Windows are local to
// one server instance; use Redis when running more than one.
type MemoryCache struct {
	mu   sync.Mutex
	data map[string]*counter
	done chan struct{}
}

type counter struct {
	value      int64
	expiration time.Time
}

// NewMemoryCache creates a new in-memory cache
func NewMemoryCache() *MemoryCache {
	mc := &MemoryCache{
		data: make(map[string]*counter),
		done: make(chan struct{}),
	}

	go mc.cleanup()

	return mc
}

// Increment adds one to the counter, starting the TTL window on first use
func (m *MemoryCache) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, exists := m.data[key]
	if !exists || time.Now().After(c.expiration) {
		c = &counter{expiration: time.Now().Add(ttl)}
		m.data[key] = c
	}
	c.value++
	return c.value, nil
}

// Count returns the current counter value
func (m *MemoryCache) Count(ctx context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, exists := m.data[key]
	if !exists || time.Now().After(c.expiration) {
		return 0, ErrCacheMiss
	}
	return c.value, nil
}

// Delete removes the counter
func (m *MemoryCache) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.data, key)
	return nil
}

// Close stops the cleanup goroutine
func (m *MemoryCache) Close() error {
	close(m.done)
	return nil
}

func (m *MemoryCache) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			now := time.Now()
			m.mu.Lock()
			for key, c := range m.data {
				if now.After(c.expiration) {
					delete(m.data, key)
				}
			}
			m.mu.Unlock()
		}
	}
}
