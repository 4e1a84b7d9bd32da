package params

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/packfinderz-metrics/pkg/db/models"
	"github.com/angelmondragon/packfinderz-metrics/pkg/enums"
)

// Version is one immutable parameter value with its effective range.
// EffectiveTo is exclusive; nil means open-ended.
type Version struct {
	Kind          enums.ParameterKind `json:"kind"`
	Key           string              `json:"key"`
	Version       int                 `json:"version"`
	EffectiveFrom time.Time           `json:"effective_from"`
	EffectiveTo   *time.Time          `json:"effective_to,omitempty"`
	Value         decimal.Decimal     `json:"value"`
	PublishedBy   string              `json:"published_by,omitempty"`
	Note          string              `json:"note,omitempty"`
	PublishedAt   time.Time           `json:"published_at"`
}

// Covers reports whether ts falls inside the effective range.
func (v Version) Covers(ts time.Time) bool {
	if ts.Before(v.EffectiveFrom) {
		return false
	}
	return v.EffectiveTo == nil || ts.Before(*v.EffectiveTo)
}

func fromModel(m models.ParameterVersion) Version {
	v := Version{
		Kind:          m.Kind,
		Key:           m.Key,
		Version:       m.Version,
		EffectiveFrom: m.EffectiveFrom.UTC(),
		Value:         m.Value,
		PublishedBy:   m.PublishedBy,
		Note:          m.Note,
		PublishedAt:   m.PublishedAt.UTC(),
	}
	if m.EffectiveTo != nil {
		to := m.EffectiveTo.UTC()
		v.EffectiveTo = &to
	}
	return v
}

func fromModels(rows []models.ParameterVersion) []Version {
	out := make([]Version, len(rows))
	for i, row := range rows {
		out[i] = fromModel(row)
	}
	return out
}
