package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/packfinderz-metrics/pkg/enums"
)

// RawEvent is one landed source record. Payload keeps the producer's field
// names untouched; normalization happens at build time.
type RawEvent struct {
	ID         uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	Source     enums.Source    `gorm:"column:source;type:text;not null;index:idx_raw_events_source_occurred,priority:1"`
	ExternalID string          `gorm:"column:external_id;type:text;not null"`
	Payload    json.RawMessage `gorm:"column:payload;type:jsonb;not null"`
	OccurredAt time.Time       `gorm:"column:occurred_at;not null;index:idx_raw_events_source_occurred,priority:2"`
	IngestedAt time.Time       `gorm:"column:ingested_at;autoCreateTime"`
}
