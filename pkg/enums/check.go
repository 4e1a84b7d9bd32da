package enums

import (
	"fmt"
	"strings"
)

// Severity decides whether a failed check blocks publication.
type Severity string

const (
	SeveritySoft Severity = "soft"
	SeverityHard Severity = "hard"
)

// IsValid reports whether the value is known.
func (s Severity) IsValid() bool {
	return s == SeveritySoft || s == SeverityHard
}

// ParseSeverity converts raw input into a Severity.
func ParseSeverity(value string) (Severity, error) {
	switch Severity(strings.ToLower(strings.TrimSpace(value))) {
	case SeveritySoft:
		return SeveritySoft, nil
	case SeverityHard:
		return SeverityHard, nil
	}
	return "", fmt.Errorf("invalid severity %q", value)
}

// CheckKind selects the evaluator for a declared invariant.
type CheckKind string

const (
	CheckReconcile     CheckKind = "reconcile"
	CheckBounds        CheckKind = "bounds"
	CheckUniqueGrain   CheckKind = "unique_grain"
	CheckGrainComplete CheckKind = "grain_complete"
	CheckNotNull       CheckKind = "not_null"
)

var validCheckKinds = []CheckKind{
	CheckReconcile,
	CheckBounds,
	CheckUniqueGrain,
	CheckGrainComplete,
	CheckNotNull,
}

// IsValid reports whether the value is known.
func (c CheckKind) IsValid() bool {
	for _, candidate := range validCheckKinds {
		if candidate == c {
			return true
		}
	}
	return false
}

// CheckOutcome is the result of evaluating one check.
type CheckOutcome string

const (
	CheckOutcomePass CheckOutcome = "pass"
	CheckOutcomeFail CheckOutcome = "fail"
)

// Layer groups tables by derivation depth.
type Layer string

const (
	LayerStaging Layer = "staging"
	LayerFact    Layer = "fact"
	LayerMart    Layer = "mart"
)

// Rank orders layers so a stage can only depend on the same or an earlier layer.
func (l Layer) Rank() int {
	switch l {
	case LayerStaging:
		return 1
	case LayerFact:
		return 2
	case LayerMart:
		return 3
	default:
		return 0
	}
}
