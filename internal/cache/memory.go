package cache

import (
	"container/list"
	"sync"
	"time"
)

// EvictionPolicy selects which entry the fast tier evicts when full
type EvictionPolicy string

const (
	EvictLRU  EvictionPolicy = "lru"
	EvictLFU  EvictionPolicy = "lfu"
	EvictFIFO EvictionPolicy = "fifo"
)

// memoryItem is the fast tier's bookkeeping wrapper around an entry
type memoryItem struct {
	entry   *Entry
	element *list.Element
	freq    uint64
}

// MemoryTier is the small bounded in-process tier. It is safe for concurrent
// use; all state transitions happen under a single mutex.
type MemoryTier struct {
	mu       sync.Mutex
	items    map[string]*memoryItem
	order    *list.List // eviction order for LRU/FIFO; insertion order for LFU
	capacity int
	policy   EvictionPolicy

	// onEvict is called outside the critical path decision but within the
	// lock; keep callbacks cheap
	onEvict func(key, reason string)
}

// NewMemoryTier creates a bounded in-process tier with the given capacity and
// eviction policy.
func NewMemoryTier(capacity int, policy EvictionPolicy) *MemoryTier {
	if capacity <= 0 {
		capacity = 1024
	}
	switch policy {
	case EvictLRU, EvictLFU, EvictFIFO:
	default:
		policy = EvictLRU
	}

	return &MemoryTier{
		items:    make(map[string]*memoryItem),
		order:    list.New(),
		capacity: capacity,
		policy:   policy,
	}
}

// OnEvict registers a callback invoked for each eviction with a reason of
// "capacity" or "expired".
func (m *MemoryTier) OnEvict(fn func(key, reason string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onEvict = fn
}

// Get returns the entry for key, or false on miss. Expired entries are
// removed lazily on access.
func (m *MemoryTier) Get(key string) (*Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.items[key]
	if !ok {
		return nil, false
	}

	if item.entry.Expired(time.Now()) {
		m.removeLocked(key, "expired")
		return nil, false
	}

	switch m.policy {
	case EvictLRU:
		m.order.MoveToBack(item.element)
	case EvictLFU:
		item.freq++
	}

	return item.entry, true
}

// Set stores the entry, evicting per policy when the tier is full. Setting an
// existing key refreshes it in place.
func (m *MemoryTier) Set(entry *Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if item, ok := m.items[entry.Key]; ok {
		item.entry = entry
		switch m.policy {
		case EvictLRU:
			m.order.MoveToBack(item.element)
		case EvictLFU:
			item.freq++
		}
		return
	}

	for len(m.items) >= m.capacity {
		m.evictLocked()
	}

	m.items[entry.Key] = &memoryItem{
		entry:   entry,
		element: m.order.PushBack(entry.Key),
		freq:    1,
	}
}

// Delete removes the entry for key, reporting whether it existed.
func (m *MemoryTier) Delete(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.items[key]; !ok {
		return false
	}
	m.removeLocked(key, "")
	return true
}

// DeleteByTag removes every entry whose tag set contains the tag, returning
// the removed keys.
func (m *MemoryTier) DeleteByTag(tag string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed []string
	for key, item := range m.items {
		if item.entry.HasTag(tag) {
			removed = append(removed, key)
		}
	}
	for _, key := range removed {
		m.removeLocked(key, "")
	}
	return removed
}

// DependentsOf returns the keys of entries that declared a dependsOn
// relationship on the parent key.
func (m *MemoryTier) DependentsOf(parent string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var dependents []string
	for key, item := range m.items {
		if item.entry.DependsOnKey(parent) {
			dependents = append(dependents, key)
		}
	}
	return dependents
}

// Clear removes all entries.
func (m *MemoryTier) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.items = make(map[string]*memoryItem)
	m.order.Init()
}

// Len returns the number of entries currently held, including any expired
// entries not yet lazily removed.
func (m *MemoryTier) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

func (m *MemoryTier) evictLocked() {
	var victim string

	switch m.policy {
	case EvictLFU:
		minFreq := uint64(0)
		first := true
		// Walk in insertion order so ties evict the oldest entry
		for el := m.order.Front(); el != nil; el = el.Next() {
			key := el.Value.(string)
			item := m.items[key]
			if first || item.freq < minFreq {
				minFreq = item.freq
				victim = key
				first = false
			}
		}
	default: // LRU and FIFO both evict the front of the order list
		front := m.order.Front()
		if front == nil {
			return
		}
		victim = front.Value.(string)
	}

	if victim != "" {
		m.removeLocked(victim, "capacity")
	}
}

func (m *MemoryTier) removeLocked(key, reason string) {
	item, ok := m.items[key]
	if !ok {
		return
	}
	m.order.Remove(item.element)
	delete(m.items, key)

	if reason != "" && m.onEvict != nil {
		m.onEvict(key, reason)
	}
}
