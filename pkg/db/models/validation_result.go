package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/packfinderz-metrics/pkg/enums"
)

// ValidationResult is the durable audit record of one check in one build.
type ValidationResult struct {
	ID            uuid.UUID          `gorm:"column:id;type:uuid;primaryKey"`
	BuildID       uuid.UUID          `gorm:"column:build_id;type:uuid;not null;index"`
	CheckName     string             `gorm:"column:check_name;type:text;not null;index"`
	Kind          enums.CheckKind    `gorm:"column:kind;type:text;not null"`
	TableName     string             `gorm:"column:table_name;type:text;not null"`
	Severity      enums.Severity     `gorm:"column:severity;type:text;not null"`
	Outcome       enums.CheckOutcome `gorm:"column:outcome;type:text;not null"`
	OffendingKeys json.RawMessage    `gorm:"column:offending_keys;type:jsonb"`
	Detail        string             `gorm:"column:detail;type:text"`
	CheckedAt     time.Time          `gorm:"column:checked_at;not null;index"`
}
