package enums

import "fmt"

// BuildStatus tracks a derivation build through validation.
type BuildStatus string

const (
	BuildStatusPending    BuildStatus = "PENDING"
	BuildStatusRunning    BuildStatus = "RUNNING"
	BuildStatusPassed     BuildStatus = "PASSED"
	BuildStatusFailedSoft BuildStatus = "FAILED_SOFT"
	BuildStatusFailedHard BuildStatus = "FAILED_HARD"
)

var validBuildStatuses = []BuildStatus{
	BuildStatusPending,
	BuildStatusRunning,
	BuildStatusPassed,
	BuildStatusFailedSoft,
	BuildStatusFailedHard,
}

var buildTransitions = map[BuildStatus][]BuildStatus{
	BuildStatusPending: {BuildStatusRunning, BuildStatusFailedHard},
	BuildStatusRunning: {BuildStatusPassed, BuildStatusFailedSoft, BuildStatusFailedHard},
}

// String implements fmt.Stringer.
func (b BuildStatus) String() string {
	return string(b)
}

// IsValid reports whether the value is known.
func (b BuildStatus) IsValid() bool {
	for _, candidate := range validBuildStatuses {
		if candidate == b {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is allowed.
func (b BuildStatus) Terminal() bool {
	return b == BuildStatusPassed || b == BuildStatusFailedSoft || b == BuildStatusFailedHard
}

// Publishable reports whether a build in this status may become visible to readers.
func (b BuildStatus) Publishable() bool {
	return b == BuildStatusPassed || b == BuildStatusFailedSoft
}

// CanTransition reports whether moving from b to next is allowed.
func (b BuildStatus) CanTransition(next BuildStatus) bool {
	for _, candidate := range buildTransitions[b] {
		if candidate == next {
			return true
		}
	}
	return false
}

// ParseBuildStatus converts raw input into a BuildStatus.
func ParseBuildStatus(value string) (BuildStatus, error) {
	for _, candidate := range validBuildStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid build status %q", value)
}
