package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/packfinderz-metrics/pkg/logger"
)

// Observer receives per-stage timings. *metrics.BuildMetrics satisfies it.
type Observer interface {
	ObserveStage(stage string, duration time.Duration, err error)
}

// Graph is a validated, topologically ordered set of stages.
type Graph struct {
	stages map[string]Stage
	order  []string
}

// New validates the stage set: unique names, known inputs, no upward layer
// reads and no cycles. Ties in the topological order break by name so the
// execution order is stable.
func New(stages ...Stage) (*Graph, error) {
	byName := make(map[string]Stage, len(stages))
	for _, stage := range stages {
		if strings.TrimSpace(stage.Name) == "" {
			return nil, fmt.Errorf("stage name is required")
		}
		if stage.Run == nil {
			return nil, fmt.Errorf("stage %s has no run func", stage.Name)
		}
		if stage.Layer.Rank() == 0 {
			return nil, fmt.Errorf("stage %s has unknown layer %q", stage.Name, stage.Layer)
		}
		if _, dup := byName[stage.Name]; dup {
			return nil, fmt.Errorf("duplicate stage %s", stage.Name)
		}
		byName[stage.Name] = stage
	}

	indegree := make(map[string]int, len(byName))
	dependents := map[string][]string{}
	for name := range byName {
		indegree[name] = 0
	}
	for name, stage := range byName {
		for _, input := range stage.Inputs {
			upstream, ok := byName[input]
			if !ok {
				return nil, fmt.Errorf("stage %s reads unknown input %s", name, input)
			}
			if upstream.Layer.Rank() > stage.Layer.Rank() {
				return nil, fmt.Errorf("stage %s (%s) cannot read later layer %s (%s)", name, stage.Layer, input, upstream.Layer)
			}
			indegree[name]++
			dependents[input] = append(dependents[input], name)
		}
	}

	ready := []string{}
	for name, deg := range indegree {
		if deg == 0 {
			ready = append(ready, name)
		}
	}
	sort.Strings(ready)

	order := make([]string, 0, len(byName))
	for len(ready) > 0 {
		name := ready[0]
		ready = ready[1:]
		order = append(order, name)
		next := dependents[name]
		sort.Strings(next)
		for _, dep := range next {
			indegree[dep]--
			if indegree[dep] == 0 {
				ready = append(ready, dep)
				sort.Strings(ready)
			}
		}
	}
	if len(order) != len(byName) {
		cyclic := []string{}
		for name, deg := range indegree {
			if deg > 0 {
				cyclic = append(cyclic, name)
			}
		}
		sort.Strings(cyclic)
		return nil, fmt.Errorf("stage graph has a cycle through %s", strings.Join(cyclic, ", "))
	}

	return &Graph{stages: byName, order: order}, nil
}

// Order returns the execution order.
func (g *Graph) Order() []string {
	out := make([]string, len(g.order))
	copy(out, g.order)
	return out
}

// Stage looks up a stage by name.
func (g *Graph) Stage(name string) (Stage, bool) {
	stage, ok := g.stages[name]
	return stage, ok
}

// Result is the outcome of one graph execution.
type Result struct {
	Outputs   map[string]any
	Failed    map[string]error
	Skipped   map[string]string
	Durations map[string]time.Duration
	order     []string
}

// OK reports whether every stage completed.
func (r *Result) OK() bool {
	return len(r.Failed) == 0 && len(r.Skipped) == 0
}

// FirstFailure returns the earliest failed stage in execution order.
func (r *Result) FirstFailure() (string, error) {
	for _, name := range r.order {
		if err, ok := r.Failed[name]; ok {
			return name, err
		}
	}
	return "", nil
}

// Err combines every stage failure in execution order.
func (r *Result) Err() error {
	var err error
	for _, name := range r.order {
		if stageErr, ok := r.Failed[name]; ok {
			err = multierr.Append(err, fmt.Errorf("stage %s: %w", name, stageErr))
		}
	}
	return err
}

// Runner executes graphs with logging and optional timing observation.
type Runner struct {
	logg     *logger.Logger
	observer Observer
}

// NewRunner builds a runner. observer may be nil.
func NewRunner(logg *logger.Logger, observer Observer) *Runner {
	if logg == nil {
		logg = logger.Nop()
	}
	return &Runner{logg: logg, observer: observer}
}

// Run executes every stage in order. A failed stage drops its output and every
// stage downstream of it is skipped; independent branches still run. A
// canceled context stops the run before the next stage.
func (r *Runner) Run(ctx context.Context, g *Graph) *Result {
	result := &Result{
		Outputs:   map[string]any{},
		Failed:    map[string]error{},
		Skipped:   map[string]string{},
		Durations: map[string]time.Duration{},
		order:     g.Order(),
	}

	for _, name := range g.order {
		stage := g.stages[name]
		if blocker := r.blockedBy(stage, result); blocker != "" {
			result.Skipped[name] = blocker
			stageCtx := r.logg.WithFields(ctx, map[string]any{"stage": name, "blocked_by": blocker})
			r.logg.Warn(stageCtx, "stage skipped")
			continue
		}
		if err := ctx.Err(); err != nil {
			result.Failed[name] = err
			continue
		}
		r.runStage(ctx, stage, result)
	}
	return result
}

func (r *Runner) blockedBy(stage Stage, result *Result) string {
	for _, input := range stage.Inputs {
		if _, failed := result.Failed[input]; failed {
			return input
		}
		if _, skipped := result.Skipped[input]; skipped {
			return input
		}
	}
	return ""
}

func (r *Runner) runStage(ctx context.Context, stage Stage, result *Result) {
	stageCtx := r.logg.WithStage(ctx, stage.Name)
	stageCtx = r.logg.WithField(stageCtx, "layer", stage.Layer)

	start := time.Now()
	output, err := invoke(stageCtx, stage, newInputs(stage, result.Outputs))
	duration := time.Since(start)
	result.Durations[stage.Name] = duration
	if r.observer != nil {
		r.observer.ObserveStage(stage.Name, duration, err)
	}

	stageCtx = r.logg.WithField(stageCtx, "duration_ms", duration.Milliseconds())
	if err != nil {
		r.logg.Error(stageCtx, "stage failed", err)
		result.Failed[stage.Name] = err
		return
	}
	result.Outputs[stage.Name] = output
	r.logg.Info(stageCtx, "stage completed")
}

func invoke(ctx context.Context, stage Stage, in *Inputs) (output any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			if sp, ok := rec.(stagePanic); ok {
				output, err = nil, sp.err
				return
			}
			output, err = nil, fmt.Errorf("stage %s panicked: %v", stage.Name, rec)
		}
	}()
	return stage.Run(ctx, in)
}
