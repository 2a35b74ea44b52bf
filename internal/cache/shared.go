package cache

import (
	"context"
	"sync"
	"time"
)

// SharedTier is the larger cross-process tier behind the fast tier. Redis
// backs it in production; MemorySharedTier backs it in tests.
type SharedTier interface {
	// Get returns the entry for key, or nil on miss.
	Get(ctx context.Context, key string) (*Entry, error)

	// Set stores the entry with the given TTL and indexes its tags and
	// dependencies.
	Set(ctx context.Context, entry *Entry, ttl time.Duration) error

	// Delete removes the given keys.
	Delete(ctx context.Context, keys ...string) error

	// KeysByTag returns the keys indexed under the tag.
	KeysByTag(ctx context.Context, tag string) ([]string, error)

	// DependentsOf returns the keys that declared a dependency on parent.
	DependentsOf(ctx context.Context, parent string) ([]string, error)

	// Clear removes all entries and indexes.
	Clear(ctx context.Context) error
}

// MemorySharedTier is an in-process SharedTier used by tests and by
// deployments that run without Redis.
type MemorySharedTier struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

// NewMemorySharedTier creates an empty in-process shared tier.
func NewMemorySharedTier() *MemorySharedTier {
	return &MemorySharedTier{
		entries: make(map[string]*Entry),
	}
}

func (m *MemorySharedTier) Get(ctx context.Context, key string) (*Entry, error) {
	m.mu.RLock()
	entry, ok := m.entries[key]
	m.mu.RUnlock()

	if !ok {
		return nil, nil
	}
	if entry.Expired(time.Now()) {
		m.mu.Lock()
		delete(m.entries, key)
		m.mu.Unlock()
		return nil, nil
	}
	return entry, nil
}

func (m *MemorySharedTier) Set(ctx context.Context, entry *Entry, ttl time.Duration) error {
	stored := *entry
	stored.ExpiresAt = time.Now().Add(ttl)

	m.mu.Lock()
	m.entries[entry.Key] = &stored
	m.mu.Unlock()
	return nil
}

func (m *MemorySharedTier) Delete(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	for _, key := range keys {
		delete(m.entries, key)
	}
	m.mu.Unlock()
	return nil
}

func (m *MemorySharedTier) KeysByTag(ctx context.Context, tag string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var keys []string
	for key, entry := range m.entries {
		if entry.HasTag(tag) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (m *MemorySharedTier) DependentsOf(ctx context.Context, parent string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var keys []string
	for key, entry := range m.entries {
		if entry.DependsOnKey(parent) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (m *MemorySharedTier) Clear(ctx context.Context) error {
	m.mu.Lock()
	m.entries = make(map[string]*Entry)
	m.mu.Unlock()
	return nil
}
