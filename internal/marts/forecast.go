package marts

import (
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/packfinderz-metrics/internal/params"
	"github.com/angelmondragon/packfinderz-metrics/internal/types"
	"github.com/angelmondragon/packfinderz-metrics/pkg/enums"
	"github.com/angelmondragon/packfinderz-metrics/pkg/ratio"
)

// Forecast produces the run-rate row for period from already derived
// mart_revenue_monthly rows. Window and horizon are resolved at the last
// instant of the period. The trailing average spans every window month from
// the first month with revenue history through period; months without a row
// count as zero. It is null when there is no history at all.
func Forecast(period types.Month, revenueMonthly []types.MartRow, resolver params.Resolver) ([]types.MartRow, error) {
	at := period.Last()
	window, err := resolver.Resolve(enums.ParameterForecastWindowMonths, "", at)
	if err != nil {
		return nil, err
	}
	horizon, err := resolver.Resolve(enums.ParameterForecastHorizonMonths, "", at)
	if err != nil {
		return nil, err
	}

	totals := map[types.Month]decimal.NullDecimal{}
	var earliest types.Month
	for _, r := range revenueMonthly {
		m := types.Month(r.Dims[ColMonth])
		if period.Before(m) {
			continue
		}
		totals[m] = r.Metrics["total_revenue"]
		if earliest == "" || m.Before(earliest) {
			earliest = m
		}
	}

	sum := decimal.Zero
	observed := int64(0)
	if earliest != "" {
		first := period.AddMonths(-int(window.IntPart()) + 1)
		if first.Before(earliest) {
			first = earliest
		}
		for _, m := range types.MonthRange(first, period) {
			if v := totals[m]; v.Valid {
				sum = sum.Add(v.Decimal)
			}
			observed++
		}
	}

	row := types.NewMartRow(RevenueForecast.Grain, map[string]string{ColAsOfMonth: period.String()})
	row.Metrics["window_months"] = ratio.Of(window)
	row.Metrics["horizon_months"] = ratio.Of(horizon)
	row.Metrics["months_observed"] = ratio.Int(observed)
	row.Metrics["trailing_average"] = ratio.SafeDivide(ratio.Of(sum), ratio.Int(observed))
	return []types.MartRow{row}, nil
}
