package builds

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/packfinderz-metrics/internal/types"
	"github.com/angelmondragon/packfinderz-metrics/internal/validation"
	"github.com/angelmondragon/packfinderz-metrics/pkg/db/models"
	"github.com/angelmondragon/packfinderz-metrics/pkg/enums"
	pkgerrors "github.com/angelmondragon/packfinderz-metrics/pkg/errors"
)

const insertBatchSize = 500

// Repository persists builds and their published rows.
type Repository struct {
	db *gorm.DB
}

// NewRepository binds the repository to db or a transaction.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Create inserts a new build record.
func (r *Repository) Create(ctx context.Context, build *models.Build) error {
	return r.db.WithContext(ctx).Create(build).Error
}

// Get loads a build by id.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*models.Build, error) {
	var build models.Build
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&build).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "build not found")
	}
	if err != nil {
		return nil, err
	}
	return &build, nil
}

// Transition moves a build to next when the state machine allows it and
// applies the extra column updates in the same statement.
func (r *Repository) Transition(ctx context.Context, build *models.Build, next enums.BuildStatus, updates map[string]any) error {
	if err := validation.Transition(build.Status, next); err != nil {
		return err
	}
	values := map[string]any{"status": next}
	for k, v := range updates {
		values[k] = v
	}
	res := r.db.WithContext(ctx).Model(&models.Build{}).
		Where("id = ? AND status = ?", build.ID, build.Status).
		Updates(values)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "build changed concurrently").
			WithDetails(map[string]any{"build_id": build.ID, "expected": build.Status})
	}
	build.Status = next
	return nil
}

// SaveFacts writes every fact row of a build.
func (r *Repository) SaveFacts(ctx context.Context, buildID uuid.UUID, tables []types.Table) error {
	rows := []models.FactRow{}
	for _, table := range tables {
		if table.Layer != enums.LayerFact {
			continue
		}
		for _, row := range table.Rows {
			payload, err := json.Marshal(row)
			if err != nil {
				return fmt.Errorf("encode %s row: %w", table.Name, err)
			}
			month, _ := row.Dim("month")
			rows = append(rows, models.FactRow{
				BuildID:  buildID,
				Table:    table.Name,
				GrainKey: types.JoinKey(row.GrainKey()),
				Month:    month,
				Payload:  payload,
			})
		}
	}
	if len(rows) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).CreateInBatches(&rows, insertBatchSize).Error
}

// SaveMarts writes every mart cell of a build in long format.
func (r *Repository) SaveMarts(ctx context.Context, buildID uuid.UUID, marts map[string][]types.MartRow) error {
	rows := []models.MartMetricValue{}
	for mart, martRows := range marts {
		for _, row := range martRows {
			dims, err := json.Marshal(row.Dims)
			if err != nil {
				return fmt.Errorf("encode %s dims: %w", mart, err)
			}
			for _, metric := range row.MetricNames() {
				rows = append(rows, models.MartMetricValue{
					BuildID:  buildID,
					Mart:     mart,
					GrainKey: types.JoinKey(row.Key),
					Metric:   metric,
					Dims:     dims,
					Value:    row.Metrics[metric],
				})
			}
		}
	}
	if len(rows) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).CreateInBatches(&rows, insertBatchSize).Error
}

// LatestPublished returns the most recently published build of a period.
func (r *Repository) LatestPublished(ctx context.Context, period types.Month) (*models.Build, error) {
	var build models.Build
	err := r.db.WithContext(ctx).
		Where("period = ? AND published = ?", period.String(), true).
		Order("published_at DESC").
		First(&build).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no published build for period").
			WithDetails(map[string]any{"period": period.String()})
	}
	if err != nil {
		return nil, err
	}
	return &build, nil
}

// Latest returns the most recent attempt of a period, published or not.
func (r *Repository) Latest(ctx context.Context, period types.Month) (*models.Build, error) {
	var build models.Build
	err := r.db.WithContext(ctx).
		Where("period = ?", period.String()).
		Order("created_at DESC").
		First(&build).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no build for period").
			WithDetails(map[string]any{"period": period.String()})
	}
	if err != nil {
		return nil, err
	}
	return &build, nil
}

// LatestPublishedAny returns the most recently published build of any period.
func (r *Repository) LatestPublishedAny(ctx context.Context) (*models.Build, error) {
	var build models.Build
	err := r.db.WithContext(ctx).
		Where("published = ?", true).
		Order("period DESC").Order("published_at DESC").
		First(&build).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no published build")
	}
	if err != nil {
		return nil, err
	}
	return &build, nil
}

func timePtr(t time.Time) *time.Time {
	t = t.UTC()
	return &t
}
