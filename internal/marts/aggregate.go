package marts

import (
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/packfinderz-metrics/internal/facts"
	"github.com/angelmondragon/packfinderz-metrics/internal/types"
	"github.com/angelmondragon/packfinderz-metrics/pkg/ratio"
)

// rowSet accumulates mart rows keyed by grain.
type rowSet struct {
	grain []string
	rows  map[string]*types.MartRow
}

func newRowSet(grain []string) *rowSet {
	return &rowSet{grain: grain, rows: map[string]*types.MartRow{}}
}

func (s *rowSet) row(dims map[string]string) *types.MartRow {
	r := types.NewMartRow(s.grain, dims)
	key := types.JoinKey(r.Key)
	if existing, ok := s.rows[key]; ok {
		return existing
	}
	s.rows[key] = &r
	return &r
}

func (s *rowSet) add(r *types.MartRow, metric string, amount decimal.Decimal) {
	current := r.Metrics[metric]
	if !current.Valid {
		current = ratio.Of(decimal.Zero)
	}
	r.Metrics[metric] = ratio.Of(current.Decimal.Add(amount))
}

// zero makes sure every listed metric is present, defaulting to zero.
func (s *rowSet) zero(metrics ...string) {
	for _, r := range s.rows {
		for _, m := range metrics {
			if _, ok := r.Metrics[m]; !ok {
				r.Metrics[m] = ratio.Of(decimal.Zero)
			}
		}
	}
}

func (s *rowSet) sorted() []types.MartRow {
	out := make([]types.MartRow, 0, len(s.rows))
	for _, r := range s.rows {
		out = append(out, *r)
	}
	types.SortMartRows(out)
	return out
}

func monthDims(m types.Month) map[string]string {
	return map[string]string{ColMonth: m.String()}
}

// Revenue rolls fact_revenue and fact_recurring_revenue up to month.
// order_count counts distinct orders placed in the month.
func Revenue(revenue []types.FactRevenue, recurring []types.FactRecurringRevenue) []types.MartRow {
	set := newRowSet(RevenueMonthly.Grain)
	orders := map[types.Month]map[string]struct{}{}

	for _, f := range revenue {
		month := f.Month()
		r := set.row(monthDims(month))
		set.add(r, "gross_revenue", f.GrossRevenue)
		set.add(r, "discount_amount", f.DiscountAmount)
		set.add(r, "refund_amount", f.RefundAmount)
		set.add(r, "net_revenue", f.NetRevenue)
		set.add(r, "cogs_amount", f.CogsAmount)
		if f.OrderPlaced {
			if orders[month] == nil {
				orders[month] = map[string]struct{}{}
			}
			orders[month][f.OrderID] = struct{}{}
		}
	}
	for _, f := range recurring {
		set.add(set.row(monthDims(f.Month)), "recurring_revenue", f.Amount)
	}
	set.zero(RevenueMonthly.Base...)
	for _, r := range set.rows {
		r.Metrics["order_count"] = ratio.Int(int64(len(orders[types.Month(r.Dims[ColMonth])])))
	}
	return set.sorted()
}

// Acquisition rolls spend and first purchases up to month. A customer is new
// in the month of their single first purchase from fact_customer_ltv.
func Acquisition(spend []types.FactMarketingSpend, customers []types.FactCustomerLTV) []types.MartRow {
	set := newRowSet(AcquisitionMonthly.Grain)
	for _, f := range spend {
		set.add(set.row(monthDims(f.Month())), "marketing_spend", f.Amount)
	}
	for _, c := range customers {
		r := set.row(monthDims(c.CohortMonth))
		set.add(r, "new_customers", decimal.NewFromInt(1))
		set.add(r, "new_customer_ltv", c.LifetimeRevenue)
	}
	set.zero(AcquisitionMonthly.Base...)
	return set.sorted()
}

// Channel rolls spend, attributed revenue and acquisitions up to
// (channel, month). Revenue without a channel is reported as unattributed.
func Channel(spend []types.FactMarketingSpend, revenue []types.FactRevenue, customers []types.FactCustomerLTV) []types.MartRow {
	set := newRowSet(ChannelMonthly.Grain)
	dims := func(channel string, m types.Month) map[string]string {
		if channel == "" {
			channel = facts.UnattributedChannel
		}
		return map[string]string{ColChannel: channel, ColMonth: m.String()}
	}
	for _, f := range spend {
		set.add(set.row(dims(f.Channel, f.Month())), "channel_spend", f.Amount)
	}
	for _, f := range revenue {
		set.add(set.row(dims(f.Channel, f.Month())), "channel_attributed_revenue", f.AttributedRevenue)
	}
	for _, c := range customers {
		set.add(set.row(dims(c.AcquisitionChannel, c.CohortMonth)), "channel_new_customers", decimal.NewFromInt(1))
	}
	set.zero(ChannelMonthly.Base...)
	return set.sorted()
}
