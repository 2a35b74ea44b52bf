package cache

import (
	"context"
	"math/rand"
	"time"

	"github.com/shopsense/shopsense/pkg/logging"
	"github.com/shopsense/shopsense/pkg/metrics"
)

// Config holds tiered cache configuration
type Config struct {
	FastTierSize   int            `json:"fast_tier_size"`
	EvictionPolicy EvictionPolicy `json:"eviction_policy"`
	BaseTTL        time.Duration  `json:"base_ttl"`
	SharedTTL      time.Duration  `json:"shared_ttl"`
	JitterFraction float64        `json:"jitter_fraction"`
}

// DefaultConfig returns default tiered cache configuration
func DefaultConfig() *Config {
	return &Config{
		FastTierSize:   1024,
		EvictionPolicy: EvictLRU,
		BaseTTL:        5 * time.Minute,
		SharedTTL:      30 * time.Minute,
		JitterFraction: 0.2,
	}
}

// TieredCache layers the bounded fast tier over the shared tier. Gets check
// the fast tier first and promote shared-tier hits; sets write to both tiers
// with independently jittered TTLs. Shared-tier failures degrade to a miss or
// a fast-only write, never to a request failure.
type TieredCache struct {
	fast    *MemoryTier
	shared  SharedTier
	config  *Config
	logger  *logging.Logger
	metrics *metrics.Metrics
}

// NewTieredCache creates a tiered cache over the given shared tier.
func NewTieredCache(shared SharedTier, cfg *Config, logger *logging.Logger, m *metrics.Metrics) *TieredCache {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = logging.GetLogger()
	}

	tc := &TieredCache{
		fast:    NewMemoryTier(cfg.FastTierSize, cfg.EvictionPolicy),
		shared:  shared,
		config:  cfg,
		logger:  logger,
		metrics: m,
	}

	if m != nil {
		tc.fast.OnEvict(func(key, reason string) {
			m.RecordCacheEviction("fast", reason)
		})
	}

	return tc
}

// Get returns the cached entry for key, promoting shared-tier hits into the
// fast tier. A nil entry means miss; shared-tier errors are degraded to a
// miss.
func (tc *TieredCache) Get(ctx context.Context, key string) *Entry {
	if entry, ok := tc.fast.Get(key); ok {
		tc.recordOp("fast", "get", "hit")
		return entry
	}
	tc.recordOp("fast", "get", "miss")

	if tc.shared == nil {
		return nil
	}

	entry, err := tc.shared.Get(ctx, key)
	if err != nil {
		tc.logger.WithError(err).Warn("Shared cache tier unavailable, degrading to miss")
		tc.recordOp("shared", "get", "error")
		return nil
	}
	if entry == nil {
		tc.recordOp("shared", "get", "miss")
		return nil
	}
	tc.recordOp("shared", "get", "hit")

	tc.promote(entry)
	return entry
}

// Set writes the value to both tiers under independently jittered TTLs.
func (tc *TieredCache) Set(ctx context.Context, key string, value interface{}, tags, dependsOn []string) {
	now := time.Now()
	fastTTL := tc.JitterTTL(tc.config.BaseTTL)

	entry := &Entry{
		Key:       key,
		Value:     value,
		CreatedAt: now,
		ExpiresAt: now.Add(fastTTL),
		Tags:      tags,
		DependsOn: dependsOn,
	}

	tc.fast.Set(entry)
	tc.recordOp("fast", "set", "ok")
	tc.gaugeFastLen()

	if tc.shared == nil {
		return
	}

	sharedTTL := tc.JitterTTL(tc.config.SharedTTL)
	if err := tc.shared.Set(ctx, entry, sharedTTL); err != nil {
		tc.logger.WithError(err).Warn("Shared cache tier write failed, fast tier only")
		tc.recordOp("shared", "set", "error")
		return
	}
	tc.recordOp("shared", "set", "ok")
}

// Invalidate removes the key from both tiers and cascades one level to every
// entry that declared a dependency on it.
func (tc *TieredCache) Invalidate(ctx context.Context, key string) {
	dependents := tc.fast.DependentsOf(key)

	if tc.shared != nil {
		sharedDeps, err := tc.shared.DependentsOf(ctx, key)
		if err != nil {
			tc.logger.WithError(err).Warn("Shared tier dependency lookup failed during invalidation")
		} else {
			dependents = mergeKeys(dependents, sharedDeps)
		}
	}

	victims := append([]string{key}, dependents...)
	for _, k := range victims {
		tc.fast.Delete(k)
	}
	tc.gaugeFastLen()

	if tc.shared != nil {
		if err := tc.shared.Delete(ctx, victims...); err != nil {
			tc.logger.WithError(err).Warn("Shared tier invalidation failed")
		}
	}
}

// InvalidateTag removes every entry whose tag set contains the tag.
func (tc *TieredCache) InvalidateTag(ctx context.Context, tag string) {
	removed := tc.fast.DeleteByTag(tag)
	tc.gaugeFastLen()

	if tc.shared == nil {
		return
	}

	keys, err := tc.shared.KeysByTag(ctx, tag)
	if err != nil {
		tc.logger.WithError(err).Warn("Shared tier tag lookup failed during invalidation")
		keys = removed
	} else {
		keys = mergeKeys(keys, removed)
	}

	if len(keys) > 0 {
		if err := tc.shared.Delete(ctx, keys...); err != nil {
			tc.logger.WithError(err).Warn("Shared tier tag invalidation failed")
		}
	}
}

// Clear empties both tiers.
func (tc *TieredCache) Clear(ctx context.Context) {
	tc.fast.Clear()
	tc.gaugeFastLen()

	if tc.shared != nil {
		if err := tc.shared.Clear(ctx); err != nil {
			tc.logger.WithError(err).Warn("Shared tier clear failed")
		}
	}
}

// FastLen returns the number of entries in the fast tier.
func (tc *TieredCache) FastLen() int {
	return tc.fast.Len()
}

// JitterTTL computes base * (1 ± jitterFraction) so entries written together
// do not expire together.
func (tc *TieredCache) JitterTTL(base time.Duration) time.Duration {
	j := tc.config.JitterFraction
	if j <= 0 {
		return base
	}
	factor := 1 - j + 2*j*rand.Float64()
	return time.Duration(float64(base) * factor)
}

// promote copies a shared-tier hit into the fast tier, capping the fast TTL
// at the entry's remaining shared lifetime.
func (tc *TieredCache) promote(entry *Entry) {
	now := time.Now()
	ttl := tc.JitterTTL(tc.config.BaseTTL)

	if !entry.ExpiresAt.IsZero() {
		if remaining := entry.ExpiresAt.Sub(now); remaining < ttl {
			ttl = remaining
		}
	}
	if ttl <= 0 {
		return
	}

	promoted := *entry
	promoted.ExpiresAt = now.Add(ttl)
	tc.fast.Set(&promoted)
}

func (tc *TieredCache) recordOp(tier, op, result string) {
	if tc.metrics != nil {
		tc.metrics.RecordCacheOperation(tier, op, result)
	}
}

func (tc *TieredCache) gaugeFastLen() {
	if tc.metrics != nil {
		tc.metrics.UpdateCacheEntries("fast", tc.fast.Len())
	}
}

func mergeKeys(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	merged := make([]string, 0, len(a)+len(b))
	for _, k := range a {
		if _, ok := seen[k]; !ok {
			seen[k] = struct{}{}
			merged = append(merged, k)
		}
	}
	for _, k := range b {
		if _, ok := seen[k]; !ok {
			seen[k] = struct{}{}
			merged = append(merged, k)
		}
	}
	return merged
}
