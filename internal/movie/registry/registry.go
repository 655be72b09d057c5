// Package registry implements a gorm-backed, rebuildable cache of movie
// summaries: the storage tree (metadata.json plus the event log and
// manifests) remains the source of truth, but scanning it for every
// "list" or "show" call is O(n) over every movie directory. The registry
// mirrors it into a queryable table so those calls are O(1) lookups,
// and can always be thrown away and rebuilt from storage.
package registry

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jmylchreest/movieforge/internal/database"
	"github.com/jmylchreest/movieforge/internal/manifest"
	"github.com/jmylchreest/movieforge/internal/movie"
	"github.com/jmylchreest/movieforge/internal/storage"
)

// Record is the gorm model backing one movie's cached summary row.
type Record struct {
	MovieId     string `gorm:"primaryKey;column:movie_id"`
	DisplayName string `gorm:"column:display_name"`
	Revision    string `gorm:"column:revision"`
	CreatedAt   string `gorm:"column:created_at"`
}

func (Record) TableName() string { return "movies" }

// Registry is a gorm-backed cache of movie.Summary rows, keyed by movieId.
type Registry struct {
	db *database.DB
}

// New wraps db as a movie registry. Callers must call AutoMigrate once
// before using a fresh database.
func New(db *database.DB) *Registry {
	return &Registry{db: db}
}

// AutoMigrate creates or updates the registry's schema.
func (r *Registry) AutoMigrate(ctx context.Context) error {
	if err := r.db.WithContext(ctx).AutoMigrate(&Record{}); err != nil {
		return fmt.Errorf("registry: migrating schema: %w", err)
	}
	return nil
}

// Upsert records or updates movieId's cached summary.
func (r *Registry) Upsert(ctx context.Context, summary movie.Summary) error {
	rec := Record{
		MovieId:     summary.MovieId,
		DisplayName: summary.Metadata.DisplayName,
		Revision:    summary.Revision,
		CreatedAt:   summary.Metadata.CreatedAt,
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "movie_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"display_name", "revision", "created_at"}),
	}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("registry: upserting %s: %w", summary.MovieId, err)
	}
	return nil
}

// Delete evicts movieId from the cache. It is not an error for movieId to
// be absent.
func (r *Registry) Delete(ctx context.Context, movieId string) error {
	if err := r.db.WithContext(ctx).Delete(&Record{}, "movie_id = ?", movieId).Error; err != nil {
		return fmt.Errorf("registry: deleting %s: %w", movieId, err)
	}
	return nil
}

// Get fetches movieId's cached summary. ok is false if no row exists.
func (r *Registry) Get(ctx context.Context, movieId string) (summary movie.Summary, ok bool, err error) {
	var rec Record
	result := r.db.WithContext(ctx).Where("movie_id = ?", movieId).First(&rec)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return movie.Summary{}, false, nil
		}
		return movie.Summary{}, false, fmt.Errorf("registry: getting %s: %w", movieId, result.Error)
	}
	return recordToSummary(rec), true, nil
}

// List returns every cached summary, ordered by movieId.
func (r *Registry) List(ctx context.Context) ([]movie.Summary, error) {
	var recs []Record
	if err := r.db.WithContext(ctx).Order("movie_id").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("registry: listing: %w", err)
	}
	summaries := make([]movie.Summary, len(recs))
	for i, rec := range recs {
		summaries[i] = recordToSummary(rec)
	}
	return summaries, nil
}

// Rebuild discards the cache and repopulates it by scanning storage with
// movie.List, the authoritative (but slow) source. It is always safe to
// call: the registry is a derived index, never the source of truth.
func (r *Registry) Rebuild(ctx context.Context, s *storage.Context, manifestSvc *manifest.Service) error {
	summaries, err := movie.List(ctx, s, manifestSvc)
	if err != nil {
		return fmt.Errorf("registry: scanning storage: %w", err)
	}

	if err := r.db.WithContext(ctx).Session(&gorm.Session{}).Where("1 = 1").Delete(&Record{}).Error; err != nil {
		return fmt.Errorf("registry: clearing cache: %w", err)
	}
	for _, summary := range summaries {
		if err := r.Upsert(ctx, summary); err != nil {
			return err
		}
	}
	return nil
}

func recordToSummary(rec Record) movie.Summary {
	return movie.Summary{
		MovieId:  rec.MovieId,
		Revision: rec.Revision,
		Metadata: movie.Metadata{
			DisplayName: rec.DisplayName,
			CreatedAt:   rec.CreatedAt,
		},
	}
}
