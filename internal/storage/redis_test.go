package storage

import (
	"context"
	"testing"

	"resilient/internal/config"
	"resilient/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMiniRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	s, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(s.Close)

	client := NewRedisClient(config.RedisConfig{Address: s.Addr()})
	t.Cleanup(func() { _ = Close(client) })
	return s, client
}

func TestRedisStore(t *testing.T) {
	s, client := newMiniRedis(t)
	store := NewRedisStore(client, "resilient:")
	ctx := context.Background()

	t.Run("Missing", func(t *testing.T) {
		_, err := store.Get(ctx, "queue")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("SetAndGet", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, "queue", `[1]`))
		got, err := store.Get(ctx, "queue")
		require.NoError(t, err)
		assert.Equal(t, `[1]`, got)

		raw, err := s.Get("resilient:queue")
		require.NoError(t, err)
		assert.Equal(t, `[1]`, raw)
	})

	t.Run("Remove", func(t *testing.T) {
		require.NoError(t, store.Remove(ctx, "queue"))
		assert.False(t, s.Exists("resilient:queue"))
	})

	t.Run("ServerDown", func(t *testing.T) {
		s.SetError("connection lost")
		defer s.SetError("")
		_, err := store.Get(ctx, "queue")
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrNotFound)
	})
}

func TestRedisStoreNilClient(t *testing.T) {
	store := NewRedisStore(nil, "")
	ctx := context.Background()
	_, err := store.Get(ctx, "k")
	assert.Error(t, err)
	assert.Error(t, store.Set(ctx, "k", "v"))
	assert.Error(t, store.Remove(ctx, "k"))
}

func TestRedisDeadLetters(t *testing.T) {
	_, client := newMiniRedis(t)
	dl := NewRedisDeadLetters(client, "")
	ctx := context.Background()

	require.NoError(t, Ping(ctx, client))
	require.NoError(t, dl.Push(ctx, models.QueuedOperation{ID: "a", Method: models.MethodPost, Retries: 3}))
	require.NoError(t, dl.Push(ctx, models.QueuedOperation{ID: "b", Method: models.MethodPut, Retries: 3}))

	got, err := dl.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].ID)
	assert.Equal(t, "a", got[1].ID)
	assert.Equal(t, 3, got[1].Retries)
}
