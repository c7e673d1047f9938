package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore(0)
	ctx := context.Background()

	_, err := store.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Set(ctx, "k", "v1"))
	require.NoError(t, store.Set(ctx, "k", "v2"))
	got, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v2", got)

	require.NoError(t, store.Remove(ctx, "k"))
	_, err = store.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreQuota(t *testing.T) {
	store := NewMemoryStore(8)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "a", "1234"))
	require.NoError(t, store.Set(ctx, "a", "12345678"))
	assert.ErrorIs(t, store.Set(ctx, "b", "x"), ErrQuotaExceeded)

	got, err := store.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "12345678", got)

	require.NoError(t, store.Remove(ctx, "a"))
	assert.NoError(t, store.Set(ctx, "b", "x"))
}
