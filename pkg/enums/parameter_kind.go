package enums

import (
	"fmt"
	"strings"
)

// ParameterKind names a versioned input that cannot be derived from events.
type ParameterKind string

const (
	ParameterProductCost           ParameterKind = "product_cost"
	ParameterChannelWeight         ParameterKind = "channel_weight"
	ParameterForecastWindowMonths  ParameterKind = "forecast_window_months"
	ParameterForecastHorizonMonths ParameterKind = "forecast_horizon_months"
)

var validParameterKinds = []ParameterKind{
	ParameterProductCost,
	ParameterChannelWeight,
	ParameterForecastWindowMonths,
	ParameterForecastHorizonMonths,
}

// String implements fmt.Stringer.
func (p ParameterKind) String() string {
	return string(p)
}

// IsValid reports whether the value is known.
func (p ParameterKind) IsValid() bool {
	for _, candidate := range validParameterKinds {
		if candidate == p {
			return true
		}
	}
	return false
}

// Global reports whether the kind is keyed without a dimension.
func (p ParameterKind) Global() bool {
	return p == ParameterForecastWindowMonths || p == ParameterForecastHorizonMonths
}

// ParseParameterKind converts raw input into a ParameterKind.
func ParseParameterKind(value string) (ParameterKind, error) {
	value = strings.ToLower(strings.TrimSpace(value))
	for _, candidate := range validParameterKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid parameter kind %q", value)
}
