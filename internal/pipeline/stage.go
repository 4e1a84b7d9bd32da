package pipeline

import (
	"context"
	"fmt"

	"github.com/angelmondragon/packfinderz-metrics/pkg/enums"
	pkgerrors "github.com/angelmondragon/packfinderz-metrics/pkg/errors"
)

// RunFunc produces a stage's output from its declared inputs.
type RunFunc func(ctx context.Context, in *Inputs) (any, error)

// Stage is one node of the derivation graph. A stage may only read the
// outputs named in Inputs and only from its own or an earlier layer.
type Stage struct {
	Name   string
	Layer  enums.Layer
	Inputs []string
	Run    RunFunc
}

// Inputs exposes the outputs a stage declared, and nothing else.
type Inputs struct {
	stage    string
	declared map[string]struct{}
	outputs  map[string]any
}

func newInputs(stage Stage, outputs map[string]any) *Inputs {
	declared := make(map[string]struct{}, len(stage.Inputs))
	for _, name := range stage.Inputs {
		declared[name] = struct{}{}
	}
	return &Inputs{stage: stage.Name, declared: declared, outputs: outputs}
}

// Input returns the typed output of a declared upstream stage.
func Input[T any](in *Inputs, name string) (T, error) {
	var zero T
	if _, ok := in.declared[name]; !ok {
		return zero, pkgerrors.New(pkgerrors.CodeInternal, "undeclared input").
			WithDetails(map[string]any{"stage": in.stage, "input": name})
	}
	raw, ok := in.outputs[name]
	if !ok {
		return zero, pkgerrors.New(pkgerrors.CodeInternal, "input not materialized").
			WithDetails(map[string]any{"stage": in.stage, "input": name})
	}
	value, ok := raw.(T)
	if !ok {
		return zero, pkgerrors.New(pkgerrors.CodeInternal, fmt.Sprintf("input %s has type %T", name, raw)).
			WithDetails(map[string]any{"stage": in.stage, "input": name})
	}
	return value, nil
}

// MustInput is Input for stages whose wiring is fixed at compile time; a
// failure still surfaces as the stage error through Run's recover.
func MustInput[T any](in *Inputs, name string) T {
	value, err := Input[T](in, name)
	if err != nil {
		panic(stagePanic{err: err})
	}
	return value
}

type stagePanic struct {
	err error
}
