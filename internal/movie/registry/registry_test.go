package registry

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/movieforge/internal/config"
	"github.com/jmylchreest/movieforge/internal/database"
	"github.com/jmylchreest/movieforge/internal/manifest"
	"github.com/jmylchreest/movieforge/internal/movie"
	"github.com/jmylchreest/movieforge/internal/storage"
	"github.com/jmylchreest/movieforge/internal/storage/memstore"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	cfg := config.DatabaseConfig{
		Driver:          "sqlite",
		DSN:             filepath.Join(t.TempDir(), "registry.db"),
		MaxOpenConns:    4,
		MaxIdleConns:    2,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 30 * time.Minute,
		LogLevel:        "silent",
	}
	db, err := database.New(cfg, nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	r := New(db)
	require.NoError(t, r.AutoMigrate(context.Background()))
	return r
}

func summaryFor(movieId, displayName, revision string) movie.Summary {
	return movie.Summary{
		MovieId:  movieId,
		Revision: revision,
		Metadata: movie.Metadata{DisplayName: displayName, CreatedAt: "2026-01-01T00:00:00Z"},
	}
}

func TestRegistry_UpsertAndGet(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, r.Upsert(ctx, summaryFor("movie-1", "First Cut", "rev-0001")))

	got, ok, err := r.Get(ctx, "movie-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "First Cut", got.Metadata.DisplayName)
	assert.Equal(t, "rev-0001", got.Revision)

	require.NoError(t, r.Upsert(ctx, summaryFor("movie-1", "First Cut", "rev-0002")))
	got, ok, err = r.Get(ctx, "movie-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "rev-0002", got.Revision)
}

func TestRegistry_GetMissing(t *testing.T) {
	r := newTestRegistry(t)
	_, ok, err := r.Get(context.Background(), "nope")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRegistry_DeleteAndList(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, r.Upsert(ctx, summaryFor("movie-a", "A", "rev-0001")))
	require.NoError(t, r.Upsert(ctx, summaryFor("movie-b", "B", "rev-0001")))

	list, err := r.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)

	require.NoError(t, r.Delete(ctx, "movie-a"))
	list, err = r.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "movie-b", list[0].MovieId)
}

func TestRegistry_RebuildFromStorage(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()
	storeCtx := storage.New(memstore.New(), "")
	manifestSvc := manifest.New(storeCtx)

	_, err := movie.Init(ctx, storeCtx, manifestSvc, "movie-x", "Rebuilt", func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) })
	require.NoError(t, err)

	require.NoError(t, r.Upsert(ctx, summaryFor("stale-movie", "Stale", "rev-0001")))

	require.NoError(t, r.Rebuild(ctx, storeCtx, manifestSvc))

	list, err := r.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "movie-x", list[0].MovieId)
}
