package models

import (
	"encoding/json"

	"github.com/google/uuid"
)

// FactRow stores one fact row of a build, keyed by table and grain.
type FactRow struct {
	BuildID  uuid.UUID       `gorm:"column:build_id;type:uuid;primaryKey"`
	Table    string          `gorm:"column:table_name;type:text;primaryKey"`
	GrainKey string          `gorm:"column:grain_key;type:text;primaryKey"`
	Month    string          `gorm:"column:month;type:text;index"`
	Payload  json.RawMessage `gorm:"column:payload;type:jsonb;not null"`
}
