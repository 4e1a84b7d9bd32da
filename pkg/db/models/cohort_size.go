package models

import (
	"time"

	"github.com/google/uuid"
)

// CohortSize freezes the size of an acquisition cohort the first time a build
// containing it is published.
type CohortSize struct {
	CohortMonth string    `gorm:"column:cohort_month;type:text;primaryKey"`
	Size        int64     `gorm:"column:size;not null"`
	BuildID     uuid.UUID `gorm:"column:build_id;type:uuid;not null"`
	FrozenAt    time.Time `gorm:"column:frozen_at;not null"`
}
