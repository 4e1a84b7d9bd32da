package marts

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/packfinderz-metrics/internal/types"
	"github.com/angelmondragon/packfinderz-metrics/pkg/db/models"
	pkgerrors "github.com/angelmondragon/packfinderz-metrics/pkg/errors"
)

// CohortStore persists frozen cohort sizes.
type CohortStore struct {
	db *gorm.DB
}

// NewCohortStore binds the store to db or a transaction.
func NewCohortStore(db *gorm.DB) *CohortStore {
	return &CohortStore{db: db}
}

// Frozen returns every frozen cohort size.
func (s *CohortStore) Frozen(ctx context.Context) (map[types.Month]int64, error) {
	var rows []models.CohortSize
	if err := s.db.WithContext(ctx).Order("cohort_month ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[types.Month]int64, len(rows))
	for _, r := range rows {
		out[types.Month(r.CohortMonth)] = r.Size
	}
	return out, nil
}

// Freeze inserts sizes for cohorts not frozen yet. Existing rows win; when an
// existing row holds a different size than the caller computed, Freeze returns
// CONFLICT so marts derived from the losing size are not published.
func (s *CohortStore) Freeze(ctx context.Context, buildID uuid.UUID, sizes map[types.Month]int64, at time.Time) error {
	if len(sizes) == 0 {
		return nil
	}
	rows := make([]models.CohortSize, 0, len(sizes))
	months := make([]string, 0, len(sizes))
	for month, size := range sizes {
		rows = append(rows, models.CohortSize{
			CohortMonth: month.String(),
			Size:        size,
			BuildID:     buildID,
			FrozenAt:    at.UTC(),
		})
		months = append(months, month.String())
	}
	if err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "cohort_month"}}, DoNothing: true}).
		Create(&rows).Error; err != nil {
		return err
	}

	var stored []models.CohortSize
	if err := s.db.WithContext(ctx).Where("cohort_month IN ?", months).Find(&stored).Error; err != nil {
		return err
	}
	conflicts := map[string]any{}
	for _, r := range stored {
		if want := sizes[types.Month(r.CohortMonth)]; r.Size != want {
			conflicts[r.CohortMonth] = map[string]int64{"frozen": r.Size, "computed": want}
		}
	}
	if len(conflicts) > 0 {
		return pkgerrors.New(pkgerrors.CodeConflict, "cohort size frozen by a concurrent build").
			WithDetails(map[string]any{"cohorts": conflicts})
	}
	return nil
}
