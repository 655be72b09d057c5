package movie

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/movieforge/internal/manifest"
	"github.com/jmylchreest/movieforge/internal/storage"
	"github.com/jmylchreest/movieforge/internal/storage/memstore"
)

func fixedClock() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }

func newTestStorage() (*storage.Context, *manifest.Service) {
	storeCtx := storage.New(memstore.New(), "")
	return storeCtx, manifest.New(storeCtx)
}

func TestInit_WritesMetadataAndEmptyPointer(t *testing.T) {
	s, manifestSvc := newTestStorage()
	ctx := context.Background()

	meta, err := Init(ctx, s, manifestSvc, "movie-1", "  My Première  ", fixedClock)
	require.NoError(t, err)
	assert.Equal(t, "2026-01-01T00:00:00Z", meta.CreatedAt)
	assert.Equal(t, "  My Première  ", meta.DisplayName) // normalized form, not trimmed

	exists, err := s.FileExists(ctx, "movie-1", "current.json")
	require.NoError(t, err)
	assert.True(t, exists, "Init must write an explicit empty current.json pointer")

	m, _, err := manifestSvc.Load(ctx, "movie-1")
	require.NoError(t, err)
	assert.Equal(t, "", m.Revision)
}

func TestInit_RejectsDuplicate(t *testing.T) {
	s, manifestSvc := newTestStorage()
	ctx := context.Background()

	_, err := Init(ctx, s, manifestSvc, "movie-1", "First", fixedClock)
	require.NoError(t, err)

	_, err = Init(ctx, s, manifestSvc, "movie-1", "Second", fixedClock)
	require.Error(t, err)
	assert.Contains(t, err.Error(), CodeAlreadyExists)
}

func TestLoad_FallsBackToLegacyMetadataFilename(t *testing.T) {
	s, _ := newTestStorage()
	ctx := context.Background()

	require.NoError(t, s.Write(ctx, "movie-legacy", []byte(`{"displayName":"Legacy Build"}`), storage.WriteOptions{MimeType: "application/json"}, legacyMetadataPath))

	meta, err := Load(ctx, s, "movie-legacy")
	require.NoError(t, err)
	assert.Equal(t, "Legacy Build", meta.DisplayName)
}

func TestLoad_NotFound(t *testing.T) {
	s, _ := newTestStorage()
	_, err := Load(context.Background(), s, "nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), CodeNotFound)
}

func TestDelete_RemovesWholeTree(t *testing.T) {
	s, manifestSvc := newTestStorage()
	ctx := context.Background()

	_, err := Init(ctx, s, manifestSvc, "movie-1", "Doomed", fixedClock)
	require.NoError(t, err)
	require.NoError(t, s.Write(ctx, "movie-1", []byte("x"), storage.WriteOptions{}, "blobs", "ab", "abc123"))

	require.NoError(t, Delete(ctx, s, "movie-1"))

	exists, err := s.FileExists(ctx, "movie-1", "metadata.json")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestList_ReturnsInitializedMoviesSorted(t *testing.T) {
	s, manifestSvc := newTestStorage()
	ctx := context.Background()

	_, err := Init(ctx, s, manifestSvc, "movie-b", "B", fixedClock)
	require.NoError(t, err)
	_, err = Init(ctx, s, manifestSvc, "movie-a", "A", fixedClock)
	require.NoError(t, err)

	summaries, err := List(ctx, s, manifestSvc)
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	assert.Equal(t, "movie-a", summaries[0].MovieId)
	assert.Equal(t, "movie-b", summaries[1].MovieId)
}
