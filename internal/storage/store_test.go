package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, BucketRiskEvents, "S-1:0000000000001:e1", []byte(`{"score":40}`)))

	got, err := store.Get(ctx, BucketRiskEvents, "S-1:0000000000001:e1")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"score":40}`), got)

	_, err = store.Get(ctx, BucketRiskEvents, "missing")
	assert.ErrorIs(t, err, ErrKeyNotFound)
	_, err = store.Get(ctx, "missing-bucket", "any")
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	original := []byte("abc")
	require.NoError(t, store.Put(ctx, BucketFeatureStore, "k", original))
	original[0] = 'z'

	first, err := store.Get(ctx, BucketFeatureStore, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), first)

	first[1] = 'z'
	second, err := store.Get(ctx, BucketFeatureStore, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), second)
}

func TestMemoryStoreKeysSortedByPrefix(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for _, key := range []string{
		"S-2:0000000000005:e3",
		"S-1:0000000000009:e2",
		"S-1:0000000000001:e1",
		"S-1:0000000000020:e4",
	} {
		require.NoError(t, store.Put(ctx, BucketRiskEvents, key, []byte("{}")))
	}

	keys, err := store.Keys(ctx, BucketRiskEvents, "S-1:")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"S-1:0000000000001:e1",
		"S-1:0000000000009:e2",
		"S-1:0000000000020:e4",
	}, keys)

	empty, err := store.Keys(ctx, "missing-bucket", "")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestMemoryStoreDeleteIdempotent(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, BucketSellerRiskProfiles, "S-1", []byte("{}")))
	require.NoError(t, store.Delete(ctx, BucketSellerRiskProfiles, "S-1"))
	require.NoError(t, store.Delete(ctx, BucketSellerRiskProfiles, "S-1"))

	_, err := store.Get(ctx, BucketSellerRiskProfiles, "S-1")
	assert.ErrorIs(t, err, ErrKeyNotFound)
}
