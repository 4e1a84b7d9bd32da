package enums

import (
	"fmt"
	"strings"
)

// Source identifies a raw event feed.
type Source string

const (
	SourceOrders              Source = "orders"
	SourceOrderLines          Source = "order_lines"
	SourceRefunds             Source = "refunds"
	SourceSubscriptionCharges Source = "subscription_charges"
	SourceMarketingSpend      Source = "marketing_spend"
)

var validSources = []Source{
	SourceOrders,
	SourceOrderLines,
	SourceRefunds,
	SourceSubscriptionCharges,
	SourceMarketingSpend,
}

// Sources returns every known source in a stable order.
func Sources() []Source {
	out := make([]Source, len(validSources))
	copy(out, validSources)
	return out
}

// String implements fmt.Stringer.
func (s Source) String() string {
	return string(s)
}

// IsValid reports whether the value is known.
func (s Source) IsValid() bool {
	for _, candidate := range validSources {
		if candidate == s {
			return true
		}
	}
	return false
}

// StagingTable names the canonical table produced for the source.
func (s Source) StagingTable() string {
	return "stg_" + string(s)
}

// ParseSource converts raw input into a Source.
func ParseSource(value string) (Source, error) {
	value = strings.ToLower(strings.TrimSpace(value))
	for _, candidate := range validSources {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid source %q", value)
}
