package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTieredCache(shared SharedTier, jitter float64) *TieredCache {
	return NewTieredCache(shared, &Config{
		FastTierSize:   8,
		EvictionPolicy: EvictLRU,
		BaseTTL:        time.Minute,
		SharedTTL:      time.Hour,
		JitterFraction: jitter,
	}, nil, nil)
}

// failingSharedTier simulates a Redis outage
type failingSharedTier struct{}

var errSharedDown = errors.New("connection refused")

func (f *failingSharedTier) Get(ctx context.Context, key string) (*Entry, error) {
	return nil, errSharedDown
}
func (f *failingSharedTier) Set(ctx context.Context, entry *Entry, ttl time.Duration) error {
	return errSharedDown
}
func (f *failingSharedTier) Delete(ctx context.Context, keys ...string) error {
	return errSharedDown
}
func (f *failingSharedTier) KeysByTag(ctx context.Context, tag string) ([]string, error) {
	return nil, errSharedDown
}
func (f *failingSharedTier) DependentsOf(ctx context.Context, parent string) ([]string, error) {
	return nil, errSharedDown
}
func (f *failingSharedTier) Clear(ctx context.Context) error {
	return errSharedDown
}

func TestTieredCache_SetAndGet(t *testing.T) {
	tc := newTestTieredCache(NewMemorySharedTier(), 0)
	ctx := context.Background()

	tc.Set(ctx, "k", "v", nil, nil)

	got := tc.Get(ctx, "k")
	require.NotNil(t, got)
	assert.Equal(t, "v", got.Value)
}

func TestTieredCache_MissReturnsNil(t *testing.T) {
	tc := newTestTieredCache(NewMemorySharedTier(), 0)

	assert.Nil(t, tc.Get(context.Background(), "missing"))
}

func TestTieredCache_PromotesSharedHit(t *testing.T) {
	shared := NewMemorySharedTier()
	tc := newTestTieredCache(shared, 0)
	ctx := context.Background()

	// Entry exists only in the shared tier, as after a process restart
	require.NoError(t, shared.Set(ctx, &Entry{
		Key:       "k",
		Value:     "shared-value",
		CreatedAt: time.Now(),
	}, time.Hour))
	assert.Equal(t, 0, tc.FastLen())

	got := tc.Get(ctx, "k")
	require.NotNil(t, got)
	assert.Equal(t, "shared-value", got.Value)

	// Promoted into the fast tier
	assert.Equal(t, 1, tc.FastLen())
}

func TestTieredCache_PromotionCapsAtSharedLifetime(t *testing.T) {
	shared := NewMemorySharedTier()
	tc := newTestTieredCache(shared, 0)
	ctx := context.Background()

	// Remaining shared lifetime is shorter than the fast-tier base TTL
	require.NoError(t, shared.Set(ctx, &Entry{
		Key:       "k",
		Value:     "v",
		CreatedAt: time.Now(),
	}, 10*time.Second))

	tc.Get(ctx, "k")

	promoted, ok := tc.fast.Get("k")
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(10*time.Second), promoted.ExpiresAt, 2*time.Second)
}

func TestTieredCache_SharedOutageDegradesToMiss(t *testing.T) {
	tc := newTestTieredCache(&failingSharedTier{}, 0)
	ctx := context.Background()

	// Set still lands in the fast tier
	tc.Set(ctx, "k", "v", nil, nil)
	got := tc.Get(ctx, "k")
	require.NotNil(t, got)
	assert.Equal(t, "v", got.Value)

	// Unknown keys degrade to a plain miss, never an error
	assert.Nil(t, tc.Get(ctx, "other"))
}

func TestTieredCache_InvalidateCascadesOneLevel(t *testing.T) {
	tc := newTestTieredCache(NewMemorySharedTier(), 0)
	ctx := context.Background()

	tc.Set(ctx, "parent", "p", nil, nil)
	tc.Set(ctx, "child", "c", nil, []string{"parent"})
	tc.Set(ctx, "grandchild", "g", nil, []string{"child"})

	tc.Invalidate(ctx, "parent")

	assert.Nil(t, tc.Get(ctx, "parent"))
	assert.Nil(t, tc.Get(ctx, "child"))
	// Cascade is exactly one level
	assert.NotNil(t, tc.Get(ctx, "grandchild"))
}

func TestTieredCache_InvalidateIdempotent(t *testing.T) {
	tc := newTestTieredCache(NewMemorySharedTier(), 0)
	ctx := context.Background()

	tc.Invalidate(ctx, "never-set")
	tc.Set(ctx, "k", "v", nil, nil)
	tc.Invalidate(ctx, "k")
	tc.Invalidate(ctx, "k")

	assert.Nil(t, tc.Get(ctx, "k"))
}

func TestTieredCache_InvalidateTag(t *testing.T) {
	tc := newTestTieredCache(NewMemorySharedTier(), 0)
	ctx := context.Background()

	tc.Set(ctx, "a", "1", []string{"orders"}, nil)
	tc.Set(ctx, "b", "2", []string{"orders"}, nil)
	tc.Set(ctx, "c", "3", []string{"products"}, nil)

	tc.InvalidateTag(ctx, "orders")

	assert.Nil(t, tc.Get(ctx, "a"))
	assert.Nil(t, tc.Get(ctx, "b"))
	assert.NotNil(t, tc.Get(ctx, "c"))
}

func TestTieredCache_Clear(t *testing.T) {
	tc := newTestTieredCache(NewMemorySharedTier(), 0)
	ctx := context.Background()

	tc.Set(ctx, "a", "1", nil, nil)
	tc.Set(ctx, "b", "2", nil, nil)
	tc.Clear(ctx)

	assert.Nil(t, tc.Get(ctx, "a"))
	assert.Nil(t, tc.Get(ctx, "b"))
	assert.Equal(t, 0, tc.FastLen())
}

func TestTieredCache_JitterWithinBounds(t *testing.T) {
	tc := newTestTieredCache(NewMemorySharedTier(), 0.2)

	base := 100 * time.Second
	low := 80 * time.Second
	high := 120 * time.Second

	for i := 0; i < 500; i++ {
		got := tc.JitterTTL(base)
		assert.GreaterOrEqual(t, got, low)
		assert.LessOrEqual(t, got, high)
	}
}

func TestTieredCache_ZeroJitterIsExact(t *testing.T) {
	tc := newTestTieredCache(NewMemorySharedTier(), 0)

	assert.Equal(t, time.Minute, tc.JitterTTL(time.Minute))
}

func TestTieredCache_NilSharedTier(t *testing.T) {
	tc := newTestTieredCache(nil, 0)
	ctx := context.Background()

	tc.Set(ctx, "k", "v", nil, nil)
	require.NotNil(t, tc.Get(ctx, "k"))

	tc.Invalidate(ctx, "k")
	assert.Nil(t, tc.Get(ctx, "k"))
}
