package models

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MartMetricValue is one metric cell of a mart row in long format. A null
// Value means the metric is undefined for that grain (e.g. division by zero).
type MartMetricValue struct {
	BuildID  uuid.UUID           `gorm:"column:build_id;type:uuid;primaryKey"`
	Mart     string              `gorm:"column:mart;type:text;primaryKey"`
	GrainKey string              `gorm:"column:grain_key;type:text;primaryKey"`
	Metric   string              `gorm:"column:metric;type:text;primaryKey"`
	Dims     json.RawMessage     `gorm:"column:dims;type:jsonb;not null"`
	Value    decimal.NullDecimal `gorm:"column:value;type:numeric(20,6)"`
}
