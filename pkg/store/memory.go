package store

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"
)

// MemoryStore is a Store held in process memory, used by tests.
type MemoryStore struct {
	mu       sync.RWMutex
	cache    map[string]memBlob
	state    map[string]string
	writeErr error
}

type memBlob struct {
	data      []byte
	updatedAt time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		cache: make(map[string]memBlob),
		state: make(map[string]string),
	}
}

// FailWrites makes every subsequent write return err. Nil restores writes.
func (m *MemoryStore) FailWrites(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeErr = err
}

func (m *MemoryStore) GetCache(_ context.Context, key string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.cache[key]
	if !ok {
		return nil, false
	}
	return slices.Clone(b.data), true
}

func (m *MemoryStore) HasCache(_ context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.cache[key]
	return ok, nil
}

func (m *MemoryStore) SetCache(_ context.Context, key string, val []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	m.cache[key] = memBlob{data: slices.Clone(val), updatedAt: time.Now().UTC()}
	return nil
}

func (m *MemoryStore) DeleteCache(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	delete(m.cache, key)
	return nil
}

func (m *MemoryStore) ListCacheKeys(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var keys []string
	for k := range m.cache {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	return keys, nil
}

func (m *MemoryStore) CacheStats(_ context.Context) ([]CacheStat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stats := make([]CacheStat, 0, len(m.cache))
	for k, b := range m.cache {
		stats = append(stats, CacheStat{Key: k, Size: int64(len(b.data)), UpdatedAt: b.updatedAt})
	}
	slices.SortFunc(stats, func(a, b CacheStat) int { return strings.Compare(a.Key, b.Key) })
	return stats, nil
}

func (m *MemoryStore) GetState(_ context.Context, key string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.state[key]
	return v, ok
}

func (m *MemoryStore) SetState(_ context.Context, key, val string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	m.state[key] = val
	return nil
}

func (m *MemoryStore) DeleteState(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	delete(m.state, key)
	return nil
}

func (m *MemoryStore) Close() error { return nil }
