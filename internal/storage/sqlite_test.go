package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLite(t *testing.T, path string) *SQLiteStore {
	t.Helper()
	logger := zerolog.Nop()
	store, err := NewSQLiteStore(path, &logger)
	require.NoError(t, err)
	return store
}

func TestSQLiteStore_DirectoryCreation(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "dir", "queue.db")
	store := newTestSQLite(t, dbPath)
	defer store.Close()

	assert.FileExists(t, dbPath)
	assert.NoError(t, store.PingContext(context.Background()))
}

func TestSQLiteStore_CRUD(t *testing.T) {
	store := newTestSQLite(t, filepath.Join(t.TempDir(), "queue.db"))
	defer store.Close()
	ctx := context.Background()

	_, err := store.Get(ctx, "queue")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Set(ctx, "queue", `[]`))
	require.NoError(t, store.Set(ctx, "queue", `[{"id":"a"}]`))

	got, err := store.Get(ctx, "queue")
	require.NoError(t, err)
	assert.Equal(t, `[{"id":"a"}]`, got)

	require.NoError(t, store.Remove(ctx, "queue"))
	_, err = store.Get(ctx, "queue")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.db")
	ctx := context.Background()

	first := newTestSQLite(t, path)
	require.NoError(t, first.Set(ctx, "queue", "persisted"))
	require.NoError(t, first.Close())

	second := newTestSQLite(t, path)
	defer second.Close()
	got, err := second.Get(ctx, "queue")
	require.NoError(t, err)
	assert.Equal(t, "persisted", got)
}
