package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type memoryCounter struct {
	count     int64
	expiresAt time.Time
}

// MemoryStore is a process-local CounterStore. Counters are lost on restart
// and are not shared between replicas.
type MemoryStore struct {
	mu       sync.Mutex
	counters map[string]*memoryCounter
	now      func() time.Time
	done     chan struct{}
	stopOnce sync.Once
}

// NewMemoryStore creates a memory store and starts its cleanup loop. A zero
// cleanupInterval disables the loop; expired entries are still reset lazily.
func NewMemoryStore(cleanupInterval time.Duration) *MemoryStore {
	return newMemoryStore(cleanupInterval, time.Now)
}

func newMemoryStore(cleanupInterval time.Duration, now func() time.Time) *MemoryStore {
	m := &MemoryStore{
		counters: make(map[string]*memoryCounter),
		now:      now,
		done:     make(chan struct{}),
	}
	if cleanupInterval > 0 {
		go m.cleanupLoop(cleanupInterval)
	}
	return m
}

// IncrementAndExpire implements CounterStore
func (m *MemoryStore) IncrementAndExpire(ctx context.Context, key string, window time.Duration) (int64, error) {
	if key == "" {
		return 0, fmt.Errorf("key cannot be empty")
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.counters[key]
	if !ok || !now.Before(c.expiresAt) {
		c = &memoryCounter{expiresAt: now.Add(window)}
		m.counters[key] = c
	}
	c.count++
	return c.count, nil
}

// Ping implements CounterStore
func (m *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Cleanup removes expired counters and returns how many were removed.
func (m *MemoryStore) Cleanup() int {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for key, c := range m.counters {
		if !now.Before(c.expiresAt) {
			delete(m.counters, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked counters
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.counters)
}

// Close stops the cleanup loop
func (m *MemoryStore) Close() error {
	m.stopOnce.Do(func() { close(m.done) })
	return nil
}

func (m *MemoryStore) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Cleanup()
		case <-m.done:
			return
		}
	}
}
