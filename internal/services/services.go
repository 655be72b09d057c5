// Package services assembles the shared collaborator bundle every CLI
// subcommand, the planner, the execution runtime, and the recovery
// pre-pass are built from: one storage backend, one event log, one
// manifest service, one handler registry, and (optionally) the gorm-backed
// movie registry index. It mirrors planner.Deps and runtime.Deps at one
// level up: built once per process invocation from resolved
// configuration, then threaded through rather than reached for as
// package-level state.
package services

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jmylchreest/movieforge/internal/blobstore"
	"github.com/jmylchreest/movieforge/internal/config"
	"github.com/jmylchreest/movieforge/internal/database"
	"github.com/jmylchreest/movieforge/internal/eventlog"
	"github.com/jmylchreest/movieforge/internal/handler"
	"github.com/jmylchreest/movieforge/internal/manifest"
	"github.com/jmylchreest/movieforge/internal/movie/registry"
	"github.com/jmylchreest/movieforge/internal/storage"
)

// Services bundles every collaborator a command or background process
// needs. Registry is nil only when the caller asked to skip it (e.g. a
// one-off command that never lists movies); otherwise New fails if the
// registry database cannot be opened.
type Services struct {
	Config   *config.Config
	Storage  *storage.Context
	Events   *eventlog.Log
	Manifest *manifest.Service
	Handlers *handler.Registry
	Registry *registry.Registry
	Clock    func() time.Time
	Logger   *slog.Logger

	db *database.DB
}

// New builds the full Services bundle from cfg: the configured storage
// backend, the event log and manifest service over it, an empty handler
// registry (callers register concrete provider handlers before planning),
// and — unless skipRegistry is true — a migrated movie registry database
// connection.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, skipRegistry bool) (*Services, error) {
	if logger == nil {
		logger = slog.Default()
	}

	backend, err := newBackend(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("services: building storage backend: %w", err)
	}
	storeCtx := storage.New(backend, "")

	s := &Services{
		Config:   cfg,
		Storage:  storeCtx,
		Events:   eventlog.New(storeCtx),
		Manifest: manifest.New(storeCtx),
		Handlers: handler.NewRegistry(),
		Clock:    time.Now,
		Logger:   logger,
	}

	if skipRegistry {
		return s, nil
	}

	db, err := database.New(cfg.Database, logger, nil)
	if err != nil {
		return nil, fmt.Errorf("services: connecting to registry database: %w", err)
	}
	reg := registry.New(db)
	if err := reg.AutoMigrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("services: migrating registry schema: %w", err)
	}

	s.db = db
	s.Registry = reg
	return s, nil
}

// Close releases the registry database connection, if one was opened.
func (s *Services) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Blobs returns a blob store scoped to movieId, honoring the configured
// compression policy.
func (s *Services) Blobs(movieId string) *blobstore.Store {
	store := blobstore.New(s.Storage, movieId)
	if s.Config.Storage.BlobCompression {
		store = store.WithCompression(blobstore.BrotliCompressor(5))
	}
	return store
}

// MovieIds lists every known movieId, preferring the registry's cached
// index and falling back to nothing (an empty recovery sweep) when no
// registry is attached.
func (s *Services) MovieIds(ctx context.Context) ([]string, error) {
	if s.Registry == nil {
		return nil, nil
	}
	summaries, err := s.Registry.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("services: listing movies: %w", err)
	}
	ids := make([]string, len(summaries))
	for i, summary := range summaries {
		ids[i] = summary.MovieId
	}
	return ids, nil
}

func newBackend(cfg config.StorageConfig) (storage.Backend, error) {
	switch cfg.Driver {
	case "s3":
		return storage.NewS3(storage.S3Config{
			Endpoint:        cfg.S3.Endpoint,
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			AccessKeyID:     os.Getenv("S3_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("S3_SECRET_ACCESS_KEY"),
		})
	case "local", "":
		return storage.NewLocal(cfg.BaseDir)
	default:
		return nil, fmt.Errorf("services: unsupported storage driver %q", cfg.Driver)
	}
}
