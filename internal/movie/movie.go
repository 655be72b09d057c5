// Package movie implements the build lifecycle: creating a new movie
// (build) directory skeleton, reading and writing its metadata.json
// (falling back to the legacy movie-metadata.json filename), listing
// known movies by scanning the storage root, and tearing a build down.
// A movie's directory is never partially initialized from the caller's
// point of view: init writes metadata and an empty current-pointer before
// returning, and delete removes the whole tree in one call.
package movie

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"

	"github.com/jmylchreest/movieforge/internal/manifest"
	"github.com/jmylchreest/movieforge/internal/storage"
)

const (
	metadataPath       = "metadata.json"
	legacyMetadataPath = "movie-metadata.json"
)

// CodeNotFound is the stable error code surfaced when a movie directory or
// its metadata cannot be found.
const CodeNotFound = "M001:MOVIE_NOT_FOUND"

// CodeAlreadyExists is surfaced when Init targets a movieId that already
// has metadata.
const CodeAlreadyExists = "M002:MOVIE_ALREADY_EXISTS"

// Metadata is the persisted, user-facing description of a movie. Every
// field is optional; a movie created without a blueprint or display name
// still has valid (empty) metadata.
type Metadata struct {
	BlueprintPath  string `json:"blueprintPath,omitempty"`
	LastInputsPath string `json:"lastInputsPath,omitempty"`
	DisplayName    string `json:"displayName,omitempty"`
	CreatedAt      string `json:"createdAt,omitempty"`
}

// Summary pairs a movie's identity with its metadata and current revision,
// as returned by List and Show.
type Summary struct {
	MovieId  string
	Metadata Metadata
	Revision string
}

// NewMovieId generates a fresh random movie identifier.
func NewMovieId() string {
	return uuid.NewString()
}

// Init creates movieId's storage skeleton: a normalized metadata.json and
// an explicit empty current.json pointer. It fails with CodeAlreadyExists
// if metadata already exists for movieId.
func Init(ctx context.Context, s *storage.Context, manifestSvc *manifest.Service, movieId, displayName string, now func() time.Time) (*Metadata, error) {
	exists, err := hasMetadata(ctx, s, movieId)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("movie: %s: %s already initialized", CodeAlreadyExists, movieId)
	}

	meta := &Metadata{
		DisplayName: norm.NFC.String(displayName),
		CreatedAt:   now().Format(time.RFC3339),
	}
	if err := writeMetadata(ctx, s, movieId, meta); err != nil {
		return nil, err
	}
	if err := manifestSvc.InitEmpty(ctx, movieId); err != nil {
		return nil, fmt.Errorf("movie: initializing manifest pointer: %w", err)
	}
	return meta, nil
}

// Delete removes movieId's entire directory tree: metadata, blobs, event
// logs, and manifests. It does not touch the movie registry's cached
// index; callers that keep one must evict movieId from it separately.
func Delete(ctx context.Context, s *storage.Context, movieId string) error {
	if err := s.Delete(ctx, movieId, storage.DeleteOptions{Recursive: true}); err != nil {
		return fmt.Errorf("movie: deleting %s: %w", movieId, err)
	}
	return nil
}

// Load reads movieId's metadata, preferring metadata.json and falling back
// to the legacy movie-metadata.json name.
func Load(ctx context.Context, s *storage.Context, movieId string) (*Metadata, error) {
	raw, err := readMetadataBytes(ctx, s, movieId)
	if err != nil {
		return nil, err
	}
	var meta Metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("movie: decoding metadata for %s: %w", movieId, err)
	}
	return &meta, nil
}

// Show loads movieId's metadata and current manifest revision together.
func Show(ctx context.Context, s *storage.Context, manifestSvc *manifest.Service, movieId string) (*Summary, error) {
	meta, err := Load(ctx, s, movieId)
	if err != nil {
		return nil, err
	}
	m, _, err := manifestSvc.Load(ctx, movieId)
	if err != nil {
		return nil, fmt.Errorf("movie: loading manifest for %s: %w", movieId, err)
	}
	return &Summary{MovieId: movieId, Metadata: *meta, Revision: m.Revision}, nil
}

// List scans the storage root for every movie directory with metadata and
// returns their summaries, sorted by movieId. This is the slow,
// authoritative path used to rebuild the registry's cached index; callers
// serving interactive list/show requests should prefer the registry.
func List(ctx context.Context, s *storage.Context, manifestSvc *manifest.Service) ([]Summary, error) {
	entries, err := s.Backend.List(ctx, s.BasePath, storage.ListOptions{Deep: false})
	if err != nil {
		return nil, fmt.Errorf("movie: listing storage root: %w", err)
	}

	var summaries []Summary
	for _, e := range entries {
		if e.Type != storage.EntryDir {
			continue
		}
		movieId := leafName(e.Path)
		if movieId == "" {
			continue
		}
		exists, err := hasMetadata(ctx, s, movieId)
		if err != nil {
			return nil, err
		}
		if !exists {
			continue
		}
		summary, err := Show(ctx, s, manifestSvc, movieId)
		if err != nil {
			return nil, fmt.Errorf("movie: loading summary for %s: %w", movieId, err)
		}
		summaries = append(summaries, *summary)
	}

	sort.Slice(summaries, func(i, j int) bool { return summaries[i].MovieId < summaries[j].MovieId })
	return summaries, nil
}

func hasMetadata(ctx context.Context, s *storage.Context, movieId string) (bool, error) {
	exists, err := s.FileExists(ctx, movieId, metadataPath)
	if err != nil {
		return false, fmt.Errorf("movie: checking metadata for %s: %w", movieId, err)
	}
	if exists {
		return true, nil
	}
	exists, err = s.FileExists(ctx, movieId, legacyMetadataPath)
	if err != nil {
		return false, fmt.Errorf("movie: checking legacy metadata for %s: %w", movieId, err)
	}
	return exists, nil
}

func readMetadataBytes(ctx context.Context, s *storage.Context, movieId string) ([]byte, error) {
	raw, err := s.ReadToBytes(ctx, movieId, metadataPath)
	if err == nil {
		return raw, nil
	}
	if !storage.IsNotFound(err) {
		return nil, fmt.Errorf("movie: reading metadata for %s: %w", movieId, err)
	}

	raw, err = s.ReadToBytes(ctx, movieId, legacyMetadataPath)
	if err == nil {
		return raw, nil
	}
	if storage.IsNotFound(err) {
		return nil, fmt.Errorf("movie: %s: no metadata for %s", CodeNotFound, movieId)
	}
	return nil, fmt.Errorf("movie: reading legacy metadata for %s: %w", movieId, err)
}

func writeMetadata(ctx context.Context, s *storage.Context, movieId string, meta *Metadata) error {
	raw, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("movie: encoding metadata for %s: %w", movieId, err)
	}
	if err := s.Write(ctx, movieId, raw, storage.WriteOptions{MimeType: "application/json"}, metadataPath); err != nil {
		return fmt.Errorf("movie: writing metadata for %s: %w", movieId, err)
	}
	return nil
}

// leafName returns the final path segment, whether "/"-separated (S3 keys,
// the in-memory test backend) or filepath-separated (local disk).
func leafName(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	p = strings.TrimSuffix(p, "/")
	if idx := strings.LastIndexByte(p, '/'); idx >= 0 {
		return p[idx+1:]
	}
	return p
}
