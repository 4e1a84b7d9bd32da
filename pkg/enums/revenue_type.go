package enums

import (
	"fmt"
	"strings"
)

// RevenueType tags a subscription-source charge as recurring or one-time.
type RevenueType string

const (
	RevenueTypeRecurring RevenueType = "recurring"
	RevenueTypeOneTime   RevenueType = "one_time"
)

var validRevenueTypes = []RevenueType{
	RevenueTypeRecurring,
	RevenueTypeOneTime,
}

// String implements fmt.Stringer.
func (r RevenueType) String() string {
	return string(r)
}

// IsValid reports whether the value is known.
func (r RevenueType) IsValid() bool {
	for _, candidate := range validRevenueTypes {
		if candidate == r {
			return true
		}
	}
	return false
}

// ParseRevenueType converts raw input into a RevenueType.
func ParseRevenueType(value string) (RevenueType, error) {
	value = strings.ToLower(strings.TrimSpace(value))
	value = strings.ReplaceAll(value, "-", "_")
	for _, candidate := range validRevenueTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid revenue type %q", value)
}
