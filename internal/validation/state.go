package validation

import (
	"github.com/angelmondragon/packfinderz-metrics/pkg/enums"
	pkgerrors "github.com/angelmondragon/packfinderz-metrics/pkg/errors"
)

// Transition validates a build status change.
func Transition(from, to enums.BuildStatus) error {
	if !from.CanTransition(to) {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "illegal build status transition").
			WithDetails(map[string]any{"from": from, "to": to})
	}
	return nil
}
