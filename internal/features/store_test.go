package features

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dev.helix.sentinel/internal/storage"
)

func newClockedStore(t *testing.T) (*Store, *time.Time) {
	t.Helper()
	store := NewStore(storage.NewMemoryStore(), nil)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store.nowFn = func() time.Time { return now }
	return store, &now
}

func TestVelocityFeaturesExpireAfterTTL(t *testing.T) {
	store, now := newClockedStore(t)
	ctx := context.Background()

	payload := map[string]interface{}{"transactions_1h": float64(12)}
	require.NoError(t, store.PutFeatures(ctx, "S-1", GroupTransactionVelocity, payload))

	*now = now.Add(30 * time.Second)
	got, ok := store.GetFeatures(ctx, "S-1", GroupTransactionVelocity)
	require.True(t, ok)
	assert.Equal(t, float64(12), got["transactions_1h"])

	*now = now.Add(40 * time.Second)
	_, ok = store.GetFeatures(ctx, "S-1", GroupTransactionVelocity)
	assert.False(t, ok)

	// Stale entries are evicted, not resurrected.
	_, ok = store.GetFeatures(ctx, "S-1", GroupTransactionVelocity)
	assert.False(t, ok)
}

func TestPutFeaturesUnknownGroup(t *testing.T) {
	store, _ := newClockedStore(t)
	err := store.PutFeatures(context.Background(), "S-1", Group("bogus"), nil)
	assert.Error(t, err)
}

func TestGetFeaturesAsOf(t *testing.T) {
	store, now := newClockedStore(t)
	ctx := context.Background()

	writeTime := *now
	require.NoError(t, store.PutFeatures(ctx, "S-1", GroupSellerProfile, map[string]interface{}{"age_days": float64(3)}))

	// Exact point-in-time hit.
	payload, err := store.GetFeaturesAsOf(ctx, "S-1", GroupSellerProfile, writeTime)
	require.NoError(t, err)
	assert.Equal(t, float64(3), payload["age_days"])

	// Later timestamp falls back to latest.
	payload, err = store.GetFeaturesAsOf(ctx, "S-1", GroupSellerProfile, writeTime.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, float64(3), payload["age_days"])

	// Timestamp before the write sees nothing.
	_, err = store.GetFeaturesAsOf(ctx, "S-1", GroupSellerProfile, writeTime.Add(-time.Hour))
	assert.Error(t, err)

	_, err = store.GetFeaturesAsOf(ctx, "S-2", GroupSellerProfile, writeTime)
	assert.Error(t, err)
}

func TestSnapshotOnlyFresh(t *testing.T) {
	store, now := newClockedStore(t)
	ctx := context.Background()

	require.NoError(t, store.PutFeatures(ctx, "S-1", GroupTransactionVelocity, map[string]interface{}{"v": float64(1)}))
	require.NoError(t, store.PutFeatures(ctx, "S-1", GroupSellerProfile, map[string]interface{}{"p": float64(2)}))

	*now = now.Add(90 * time.Second)
	snapshot := store.Snapshot("S-1")
	assert.NotContains(t, snapshot, GroupTransactionVelocity)
	assert.Contains(t, snapshot, GroupSellerProfile)
}

func TestStats(t *testing.T) {
	store, now := newClockedStore(t)
	ctx := context.Background()

	require.NoError(t, store.PutFeatures(ctx, "S-1", GroupDeviceTrust, map[string]interface{}{"trusted": true}))
	store.GetFeatures(ctx, "S-1", GroupDeviceTrust)
	*now = now.Add(time.Hour)
	store.GetFeatures(ctx, "S-1", GroupDeviceTrust)

	stats := store.Stats()
	assert.Equal(t, int64(1), stats.Writes)
	assert.Equal(t, int64(2), stats.Reads)
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.InDelta(t, 0.5, stats.HitRate, 1e-9)
	assert.Equal(t, int64(1), stats.PerGroup[GroupDeviceTrust].Fresh)
	assert.Equal(t, int64(1), stats.PerGroup[GroupDeviceTrust].Stale)
}

func TestTTLFor(t *testing.T) {
	ttl, ok := TTLFor(GroupTransactionVelocity)
	require.True(t, ok)
	assert.Equal(t, time.Minute, ttl)

	_, ok = TTLFor(Group("nope"))
	assert.False(t, ok)
}
