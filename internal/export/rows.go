// Package export pushes published builds out of the service: mart rows to the
// warehouse and a notification to subscribers.
package export

import (
	"math/big"
	"time"

	cbigquery "cloud.google.com/go/bigquery"
	"github.com/google/uuid"

	"github.com/angelmondragon/packfinderz-metrics/internal/types"
)

// PublishedBuild identifies the build whose marts are exported.
type PublishedBuild struct {
	ID          uuid.UUID
	Period      types.Month
	Status      string
	Fingerprint string
	PublishedAt time.Time
}

// MartMetricRow is one exported (grain, metric) value.
type MartMetricRow struct {
	BuildID     string             `bigquery:"build_id"`
	Period      string             `bigquery:"period"`
	Mart        string             `bigquery:"mart"`
	GrainKey    string             `bigquery:"grain_key"`
	Dims        cbigquery.NullJSON `bigquery:"dims"`
	Metric      string             `bigquery:"metric"`
	Value       *big.Rat           `bigquery:"value"`
	PublishedAt time.Time          `bigquery:"published_at"`
}

// metricRows flattens mart rows into one export row per metric, in grain then
// metric order.
func metricRows(build PublishedBuild, mart string, rows []types.MartRow) ([]MartMetricRow, error) {
	out := []MartMetricRow{}
	for _, row := range rows {
		dims, err := EncodeJSON(row.Dims)
		if err != nil {
			return nil, err
		}
		for _, name := range row.MetricNames() {
			value := row.Metrics[name]
			var rat *big.Rat
			if value.Valid {
				rat = value.Decimal.Rat()
			}
			out = append(out, MartMetricRow{
				BuildID:     build.ID.String(),
				Period:      build.Period.String(),
				Mart:        mart,
				GrainKey:    types.JoinKey(row.Key),
				Dims:        dims,
				Metric:      name,
				Value:       rat,
				PublishedAt: build.PublishedAt.UTC(),
			})
		}
	}
	return out, nil
}
