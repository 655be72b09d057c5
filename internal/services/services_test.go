package services

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/movieforge/internal/config"
	"github.com/jmylchreest/movieforge/internal/movie"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		Storage: config.StorageConfig{Driver: "local", BaseDir: filepath.Join(dir, "data")},
		Database: config.DatabaseConfig{
			Driver:          "sqlite",
			DSN:             filepath.Join(dir, "registry.db"),
			MaxOpenConns:    4,
			MaxIdleConns:    2,
			ConnMaxLifetime: time.Hour,
			ConnMaxIdleTime: 30 * time.Minute,
			LogLevel:        "silent",
		},
	}
}

func TestNew_BuildsWiredBundle(t *testing.T) {
	cfg := testConfig(t)
	s, err := New(context.Background(), cfg, nil, false)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NotNil(t, s.Storage)
	require.NotNil(t, s.Events)
	require.NotNil(t, s.Manifest)
	require.NotNil(t, s.Handlers)
	require.NotNil(t, s.Registry)

	ids, err := s.MovieIds(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestNew_SkipRegistryLeavesItNil(t *testing.T) {
	cfg := testConfig(t)
	s, err := New(context.Background(), cfg, nil, true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	assert.Nil(t, s.Registry)
	ids, err := s.MovieIds(context.Background())
	require.NoError(t, err)
	assert.Nil(t, ids)
}

func TestMovieIds_ReflectsRegistry(t *testing.T) {
	cfg := testConfig(t)
	s, err := New(context.Background(), cfg, nil, false)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()
	_, err = movie.Init(ctx, s.Storage, s.Manifest, "movie-1", "First", s.Clock)
	require.NoError(t, err)
	require.NoError(t, s.Registry.Rebuild(ctx, s.Storage, s.Manifest))

	ids, err := s.MovieIds(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"movie-1"}, ids)
}
