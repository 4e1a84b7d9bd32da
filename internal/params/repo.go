package params

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/packfinderz-metrics/pkg/db/models"
	"github.com/angelmondragon/packfinderz-metrics/pkg/enums"
)

// Repository persists parameter versions. It never updates or deletes rows.
type Repository struct {
	db *gorm.DB
}

// NewRepository constructs a repository bound to db (or a transaction).
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Insert appends a version row.
func (r *Repository) Insert(ctx context.Context, row *models.ParameterVersion) error {
	return r.db.WithContext(ctx).Create(row).Error
}

// MaxVersion returns the highest version for (kind, key), or 0 when none exist.
func (r *Repository) MaxVersion(ctx context.Context, kind enums.ParameterKind, key string) (int, error) {
	var result struct {
		Max *int
	}
	err := r.db.WithContext(ctx).
		Model(&models.ParameterVersion{}).
		Where("kind = ? AND param_key = ?", kind, key).
		Select("MAX(version) AS max").
		Scan(&result).Error
	if err != nil || result.Max == nil {
		return 0, err
	}
	return *result.Max, nil
}

// PublishedBefore lists every version published at or before cutoff.
func (r *Repository) PublishedBefore(ctx context.Context, cutoff time.Time) ([]models.ParameterVersion, error) {
	var rows []models.ParameterVersion
	err := r.db.WithContext(ctx).
		Where("published_at <= ?", cutoff.UTC()).
		Order("kind ASC").Order("param_key ASC").Order("version ASC").
		Find(&rows).Error
	return rows, err
}

// History lists the versions of one kind, optionally narrowed to a key.
func (r *Repository) History(ctx context.Context, kind enums.ParameterKind, key *string) ([]models.ParameterVersion, error) {
	query := r.db.WithContext(ctx).Where("kind = ?", kind)
	if key != nil {
		query = query.Where("param_key = ?", *key)
	}
	var rows []models.ParameterVersion
	err := query.Order("param_key ASC").Order("version ASC").Find(&rows).Error
	return rows, err
}
