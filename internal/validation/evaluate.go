package validation

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/packfinderz-metrics/internal/types"
	"github.com/angelmondragon/packfinderz-metrics/pkg/enums"
	pkgerrors "github.com/angelmondragon/packfinderz-metrics/pkg/errors"
)

// maxOffendingKeys caps how many keys one result records.
const maxOffendingKeys = 50

// Result is the outcome of one check in one build.
type Result struct {
	ID            uuid.UUID          `json:"id"`
	BuildID       uuid.UUID          `json:"build_id"`
	CheckName     string             `json:"check_name"`
	Kind          enums.CheckKind    `json:"kind"`
	Table         string             `json:"table"`
	Severity      enums.Severity     `json:"severity"`
	Outcome       enums.CheckOutcome `json:"outcome"`
	OffendingKeys []string           `json:"offending_keys"`
	Detail        string             `json:"detail,omitempty"`
	CheckedAt     time.Time          `json:"checked_at"`
}

// Failed reports whether the check did not hold.
func (r Result) Failed() bool {
	return r.Outcome == enums.CheckOutcomeFail
}

// Report summarizes the results of one evaluation.
type Report struct {
	Results []Result
	Status  enums.BuildStatus
}

// Failures lists failed results of the given severity.
func (r Report) Failures(severity enums.Severity) []Result {
	out := []Result{}
	for _, res := range r.Results {
		if res.Failed() && res.Severity == severity {
			out = append(out, res)
		}
	}
	return out
}

// Err returns a ReconciliationError when any hard check failed, a
// BoundsViolation when only soft checks failed, and nil otherwise.
func (r Report) Err() error {
	if hard := r.Failures(enums.SeverityHard); len(hard) > 0 {
		return pkgerrors.New(pkgerrors.CodeReconciliation, "hard invariants failed: "+checkNames(hard)).
			WithDetails(failureDetails(hard))
	}
	if soft := r.Failures(enums.SeveritySoft); len(soft) > 0 {
		return pkgerrors.New(pkgerrors.CodeBoundsViolation, "soft invariants failed: "+checkNames(soft)).
			WithDetails(failureDetails(soft))
	}
	return nil
}

func checkNames(results []Result) string {
	names := make([]string, 0, len(results))
	for _, r := range results {
		names = append(names, r.CheckName)
	}
	return strings.Join(names, ", ")
}

func failureDetails(results []Result) map[string]any {
	checks := make([]map[string]any, 0, len(results))
	for _, r := range results {
		checks = append(checks, map[string]any{
			"check":          r.CheckName,
			"table":          r.Table,
			"offending_keys": r.OffendingKeys,
			"detail":         r.Detail,
		})
	}
	return map[string]any{"checks": checks}
}

// Engine evaluates a registry.
type Engine struct {
	registry *Registry
	now      func() time.Time
}

// NewEngine binds the registry.
func NewEngine(registry *Registry) *Engine {
	return &Engine{registry: registry, now: time.Now}
}

// Registry exposes the checks being evaluated.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// Evaluate runs every check against tables, keyed by table name. A check that
// references a table that was not materialized fails.
func (e *Engine) Evaluate(tables map[string]types.Table) Report {
	checkedAt := e.now().UTC()
	report := Report{Status: enums.BuildStatusPassed}
	for _, c := range e.registry.Checks {
		res := Result{
			CheckName: c.Name,
			Kind:      c.Kind,
			Table:     c.Subject(),
			Severity:  c.Severity,
			CheckedAt: checkedAt,
		}
		keys, detail := evaluate(c, tables)
		res.Outcome = enums.CheckOutcomePass
		if len(keys) > 0 || detail != "" {
			res.Outcome = enums.CheckOutcomeFail
		}
		if len(keys) > maxOffendingKeys {
			detail = strings.TrimSpace(fmt.Sprintf("%s %d offending keys, first %d recorded", detail, len(keys), maxOffendingKeys))
			keys = keys[:maxOffendingKeys]
		}
		res.OffendingKeys = keys
		res.Detail = detail
		report.Results = append(report.Results, res)

		if res.Failed() {
			switch {
			case c.Severity == enums.SeverityHard:
				report.Status = enums.BuildStatusFailedHard
			case report.Status == enums.BuildStatusPassed:
				report.Status = enums.BuildStatusFailedSoft
			}
		}
	}
	return report
}

func evaluate(c Check, tables map[string]types.Table) ([]string, string) {
	for _, name := range c.Tables() {
		if _, ok := tables[name]; !ok {
			return nil, fmt.Sprintf("table %s not materialized", name)
		}
	}
	switch c.Kind {
	case enums.CheckReconcile:
		return reconcile(c, tables), ""
	case enums.CheckBounds:
		return bounds(c, tables[c.Table])
	case enums.CheckUniqueGrain:
		return uniqueGrain(tables[c.Table]), ""
	case enums.CheckGrainComplete:
		return grainComplete(tables[c.Table]), ""
	case enums.CheckNotNull:
		return notNull(c, tables[c.Table])
	}
	return nil, fmt.Sprintf("unsupported kind %s", c.Kind)
}

// reconcile sums both sides per group and reports groups whose difference
// exceeds the tolerance. A group missing on one side counts as zero there.
func reconcile(c Check, tables map[string]types.Table) []string {
	left := sumTerms(c.Left, c.GroupBy, tables)
	right := sumTerms(c.Right, c.GroupBy, tables)

	groups := map[string]struct{}{}
	for k := range left {
		groups[k] = struct{}{}
	}
	for k := range right {
		groups[k] = struct{}{}
	}
	offending := []string{}
	for k := range groups {
		diff := left[k].Sub(right[k]).Abs()
		if diff.GreaterThan(c.tolerance) {
			offending = append(offending, fmt.Sprintf("%s: %s != %s", groupLabel(k), left[k].String(), right[k].String()))
		}
	}
	sort.Strings(offending)
	return offending
}

func groupLabel(k string) string {
	if k == "" {
		return "total"
	}
	return k
}

func sumTerms(terms []Term, groupBy []string, tables map[string]types.Table) map[string]decimal.Decimal {
	out := map[string]decimal.Decimal{}
	for _, term := range terms {
		for _, row := range tables[term.Table].Rows {
			v, ok := row.Measure(term.Column)
			if !ok || !v.Valid {
				continue
			}
			amount := v.Decimal
			if term.negative() {
				amount = amount.Neg()
			}
			key := groupKey(row, groupBy)
			out[key] = out[key].Add(amount)
		}
	}
	return out
}

func groupKey(row types.Row, groupBy []string) string {
	parts := make([]string, len(groupBy))
	for i, col := range groupBy {
		parts[i], _ = row.Dim(col)
	}
	return types.JoinKey(parts)
}

// bounds checks present values only; null is not out of range.
func bounds(c Check, table types.Table) ([]string, string) {
	offending := []string{}
	for _, col := range c.Columns {
		for _, row := range table.Rows {
			v, ok := row.Measure(col)
			if !ok {
				return nil, fmt.Sprintf("unknown measure %s on %s", col, table.Name)
			}
			if !v.Valid {
				continue
			}
			if (c.min != nil && v.Decimal.LessThan(*c.min)) || (c.max != nil && v.Decimal.GreaterThan(*c.max)) {
				offending = append(offending, fmt.Sprintf("%s %s=%s", types.JoinKey(row.GrainKey()), col, v.Decimal.String()))
			}
		}
	}
	return offending, ""
}

func uniqueGrain(table types.Table) []string {
	seen := map[string]int{}
	for _, row := range table.Rows {
		seen[types.JoinKey(row.GrainKey())]++
	}
	offending := []string{}
	for k, n := range seen {
		if n > 1 {
			offending = append(offending, k)
		}
	}
	sort.Strings(offending)
	return offending
}

func grainComplete(table types.Table) []string {
	offending := []string{}
	for _, row := range table.Rows {
		key := row.GrainKey()
		if len(table.Grain) > 0 && len(key) != len(table.Grain) {
			offending = append(offending, types.JoinKey(key))
			continue
		}
		for _, part := range key {
			if strings.TrimSpace(part) == "" {
				offending = append(offending, types.JoinKey(key))
				break
			}
		}
	}
	return offending
}

// notNull accepts a dimension or a measure per column.
func notNull(c Check, table types.Table) ([]string, string) {
	offending := []string{}
	for _, row := range table.Rows {
		for _, col := range c.Columns {
			if v, ok := row.Dim(col); ok {
				if strings.TrimSpace(v) == "" {
					offending = append(offending, fmt.Sprintf("%s %s", types.JoinKey(row.GrainKey()), col))
				}
				continue
			}
			m, ok := row.Measure(col)
			if !ok {
				return nil, fmt.Sprintf("unknown column %s on %s", col, table.Name)
			}
			if !m.Valid {
				offending = append(offending, fmt.Sprintf("%s %s", types.JoinKey(row.GrainKey()), col))
			}
		}
	}
	return offending, ""
}
