package types

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/packfinderz-metrics/pkg/enums"
)

// Row is the column-addressable view every staged, fact and mart row offers so
// declarative checks can read it without knowing its Go type.
type Row interface {
	// GrainKey returns the values of the table's grain columns, in order.
	GrainKey() []string
	// Dim returns a string dimension such as "month" or "channel".
	Dim(column string) (string, bool)
	// Measure returns a numeric column; null values come back with Valid=false.
	Measure(column string) (decimal.NullDecimal, bool)
}

// Table is a fully materialized layer output at a declared grain.
type Table struct {
	Name  string      `json:"name"`
	Layer enums.Layer `json:"layer"`
	Grain []string    `json:"grain"`
	Rows  []Row       `json:"rows"`
}

// JoinKey renders a grain key for logs and offending-key reports.
func JoinKey(key []string) string {
	return strings.Join(key, "|")
}

// AsRows converts a typed slice to the Row view.
func AsRows[T Row](items []T) []Row {
	out := make([]Row, len(items))
	for i := range items {
		out[i] = items[i]
	}
	return out
}

func present(d decimal.Decimal) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: d, Valid: true}
}

func count(n int64) decimal.NullDecimal {
	return present(decimal.NewFromInt(n))
}
