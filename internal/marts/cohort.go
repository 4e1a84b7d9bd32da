package marts

import (
	"github.com/angelmondragon/packfinderz-metrics/internal/types"
	"github.com/angelmondragon/packfinderz-metrics/pkg/ratio"
)

// CohortResult carries the retention rows plus the sizes of cohorts that had
// no frozen size yet. NewSizes is persisted only when the build publishes.
type CohortResult struct {
	Rows     []types.MartRow
	NewSizes map[types.Month]int64
}

// Cohort builds retention rows from each cohort month through period. A
// customer is active in a month when they placed an order with positive gross
// or recognized recurring revenue in it. Sizes already in frozen are reused
// as-is, regardless of current membership.
func Cohort(period types.Month, customers []types.FactCustomerLTV, revenue []types.FactRevenue, recurring []types.FactRecurringRevenue, frozen map[types.Month]int64) CohortResult {
	cohortOf := map[string]types.Month{}
	members := map[types.Month]int64{}
	for _, c := range customers {
		if period.Before(c.CohortMonth) {
			continue
		}
		cohortOf[c.CustomerID] = c.CohortMonth
		members[c.CohortMonth]++
	}

	type cell struct {
		cohort   types.Month
		activity types.Month
	}
	active := map[cell]map[string]struct{}{}
	mark := func(customerID string, month types.Month) {
		cohort, ok := cohortOf[customerID]
		if !ok || month.Before(cohort) || period.Before(month) {
			return
		}
		k := cell{cohort: cohort, activity: month}
		if active[k] == nil {
			active[k] = map[string]struct{}{}
		}
		active[k][customerID] = struct{}{}
	}
	for _, f := range revenue {
		if f.OrderPlaced && f.GrossRevenue.IsPositive() {
			mark(f.CustomerID, f.Month())
		}
	}
	for _, f := range recurring {
		if f.Amount.IsPositive() {
			mark(f.CustomerID, f.Month)
		}
	}

	result := CohortResult{NewSizes: map[types.Month]int64{}}
	for cohort, count := range members {
		size, ok := frozen[cohort]
		if !ok {
			size = count
			result.NewSizes[cohort] = count
		}
		for _, month := range types.MonthRange(cohort, period) {
			row := types.NewMartRow(CohortRetention.Grain, map[string]string{
				ColCohortMonth:   cohort.String(),
				ColActivityMonth: month.String(),
			})
			row.Metrics["cohort_size"] = ratio.Int(size)
			row.Metrics["active_customers"] = ratio.Int(int64(len(active[cell{cohort: cohort, activity: month}])))
			row.Metrics[ColMonthsSinceStart] = ratio.Int(int64(month.MonthsSince(cohort)))
			result.Rows = append(result.Rows, row)
		}
	}
	types.SortMartRows(result.Rows)
	return result
}
