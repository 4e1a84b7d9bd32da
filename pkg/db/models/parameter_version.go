package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/packfinderz-metrics/pkg/enums"
)

// ParameterVersion is an immutable, time-ranged parameter value. Rows are only
// ever inserted; a newer version supersedes older ones where ranges overlap.
type ParameterVersion struct {
	ID            uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	Kind          enums.ParameterKind `gorm:"column:kind;type:text;not null;uniqueIndex:ux_parameter_versions_kind_key_version,priority:1"`
	Key           string              `gorm:"column:param_key;type:text;not null;uniqueIndex:ux_parameter_versions_kind_key_version,priority:2"`
	Version       int                 `gorm:"column:version;not null;uniqueIndex:ux_parameter_versions_kind_key_version,priority:3"`
	EffectiveFrom time.Time           `gorm:"column:effective_from;not null"`
	EffectiveTo   *time.Time          `gorm:"column:effective_to"`
	Value         decimal.Decimal     `gorm:"column:value;type:numeric(20,6);not null"`
	PublishedBy   string              `gorm:"column:published_by;type:text"`
	Note          string              `gorm:"column:note;type:text"`
	PublishedAt   time.Time           `gorm:"column:published_at;not null"`
}
