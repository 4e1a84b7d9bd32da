package enums

import (
	"fmt"
	"strings"
)

// BillingInterval defines the cadence a recurring charge covers.
type BillingInterval string

const (
	BillingIntervalMonthly   BillingInterval = "monthly"
	BillingIntervalQuarterly BillingInterval = "quarterly"
	BillingIntervalAnnual    BillingInterval = "annual"
)

var validBillingIntervals = []BillingInterval{
	BillingIntervalMonthly,
	BillingIntervalQuarterly,
	BillingIntervalAnnual,
}

// String implements fmt.Stringer.
func (b BillingInterval) String() string {
	return string(b)
}

// IsValid reports whether the value is a known BillingInterval.
func (b BillingInterval) IsValid() bool {
	for _, candidate := range validBillingIntervals {
		if candidate == b {
			return true
		}
	}
	return false
}

// Months returns how many monthly periods one charge of this interval spans.
func (b BillingInterval) Months() int {
	switch b {
	case BillingIntervalQuarterly:
		return 3
	case BillingIntervalAnnual:
		return 12
	case BillingIntervalMonthly:
		return 1
	default:
		return 0
	}
}

// ParseBillingInterval converts raw input into a BillingInterval.
// Provider spellings such as EVERY_30_DAYS and ANNUAL are accepted.
func ParseBillingInterval(value string) (BillingInterval, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	switch normalized {
	case "every_30_days", "month", "mo":
		return BillingIntervalMonthly, nil
	case "every_90_days", "quarter", "qtr":
		return BillingIntervalQuarterly, nil
	case "year", "yearly", "yr":
		return BillingIntervalAnnual, nil
	}
	for _, candidate := range validBillingIntervals {
		if string(candidate) == normalized {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid billing interval %q", value)
}
