package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/packfinderz-metrics/pkg/enums"
)

// Build records one derivation attempt for a period. Readers only see rows
// keyed by a build whose Published flag is set.
type Build struct {
	ID              uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	Period          string            `gorm:"column:period;type:text;not null;index"`
	Status          enums.BuildStatus `gorm:"column:status;type:text;not null"`
	ParamSnapshotAt time.Time         `gorm:"column:param_snapshot_at"`
	Fingerprint     string            `gorm:"column:fingerprint;type:text"`
	FailedStage     string            `gorm:"column:failed_stage;type:text"`
	Error           string            `gorm:"column:error;type:text"`
	Published       bool              `gorm:"column:published;not null;default:false"`
	PublishedAt     *time.Time        `gorm:"column:published_at"`
	StartedAt       *time.Time        `gorm:"column:started_at"`
	FinishedAt      *time.Time        `gorm:"column:finished_at"`
	CreatedAt       time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}
