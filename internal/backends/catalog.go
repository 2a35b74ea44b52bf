package backends

import (
	"sync"

	"github.com/shopsense/shopsense/internal/fallback"
)

// StaticCatalog resolves deterministic placeholder values by request kind.
// It backs the last-resort stage so callers get a usable answer during a
// full outage.
type StaticCatalog struct {
	mu       sync.RWMutex
	defaults map[string]interface{}
	fallback interface{}
	hasAny   bool
}

// NewStaticCatalog creates a catalog with per-kind placeholder values.
func NewStaticCatalog(defaults map[string]interface{}) *StaticCatalog {
	c := &StaticCatalog{defaults: make(map[string]interface{}, len(defaults))}
	for k, v := range defaults {
		c.defaults[k] = v
	}
	return c
}

// SetDefault registers a placeholder value for a request kind.
func (c *StaticCatalog) SetDefault(kind string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.defaults[kind] = value
}

// SetCatchAll registers a value served for any kind without its own default.
func (c *StaticCatalog) SetCatchAll(value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fallback = value
	c.hasAny = true
}

// Lookup implements fallback.StaticProvider.
func (c *StaticCatalog) Lookup(req *fallback.Request) (interface{}, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if value, ok := c.defaults[req.Kind]; ok {
		return value, true
	}
	if c.hasAny {
		return c.fallback, true
	}
	return nil, false
}
