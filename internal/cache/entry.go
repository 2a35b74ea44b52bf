package cache

import "time"

// Entry is a single cached value with its lifecycle metadata. Entries are
// created on the first successful stage result for a key and overwritten on
// subsequent successes for the same key.
type Entry struct {
	Key       string      `json:"key"`
	Value     interface{} `json:"value"`
	CreatedAt time.Time   `json:"created_at"`
	ExpiresAt time.Time   `json:"expires_at"`
	Tags      []string    `json:"tags,omitempty"`
	DependsOn []string    `json:"depends_on,omitempty"`
}

// Expired reports whether the entry is past its expiry at the given instant.
func (e *Entry) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && e.ExpiresAt.Before(now)
}

// HasTag reports whether the entry carries the given tag.
func (e *Entry) HasTag(tag string) bool {
	for _, t := range e.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// DependsOnKey reports whether the entry declared a dependency on the key.
func (e *Entry) DependsOnKey(key string) bool {
	for _, d := range e.DependsOn {
		if d == key {
			return true
		}
	}
	return false
}
