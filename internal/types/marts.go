package types

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Mart table names.
const (
	TableMartRevenueMonthly     = "mart_revenue_monthly"
	TableMartAcquisitionMonthly = "mart_acquisition_monthly"
	TableMartChannelMonthly     = "mart_channel_monthly"
	TableMartCohortRetention    = "mart_cohort_retention"
	TableMartRevenueForecast    = "mart_revenue_forecast"
)

// MartRow is one row of a mart: grain dimensions plus named metric values.
type MartRow struct {
	Key     []string                       `json:"key"`
	Dims    map[string]string              `json:"dims"`
	Metrics map[string]decimal.NullDecimal `json:"metrics"`
}

// NewMartRow builds a row whose key follows the given grain columns.
func NewMartRow(grain []string, dims map[string]string) MartRow {
	key := make([]string, len(grain))
	for i, col := range grain {
		key[i] = dims[col]
	}
	return MartRow{Key: key, Dims: dims, Metrics: map[string]decimal.NullDecimal{}}
}

func (m MartRow) GrainKey() []string { return m.Key }

func (m MartRow) Dim(column string) (string, bool) {
	v, ok := m.Dims[column]
	return v, ok
}

func (m MartRow) Measure(column string) (decimal.NullDecimal, bool) {
	v, ok := m.Metrics[column]
	return v, ok
}

// MetricNames lists the row's metrics in sorted order.
func (m MartRow) MetricNames() []string {
	names := make([]string, 0, len(m.Metrics))
	for name := range m.Metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SortMartRows orders rows by their grain key.
func SortMartRows(rows []MartRow) {
	sort.Slice(rows, func(i, j int) bool {
		return lessKey(rows[i].Key, rows[j].Key)
	})
}

func lessKey(a, b []string) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}
