package facts

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/packfinderz-metrics/internal/params"
	"github.com/angelmondragon/packfinderz-metrics/internal/types"
	"github.com/angelmondragon/packfinderz-metrics/pkg/enums"
	pkgerrors "github.com/angelmondragon/packfinderz-metrics/pkg/errors"
)

// Builder derives fact tables from staged events. Parameters come from the
// build's snapshot only.
type Builder struct {
	params params.Resolver
}

// NewBuilder constructs a fact builder over a parameter resolver.
func NewBuilder(resolver params.Resolver) *Builder {
	return &Builder{params: resolver}
}

type revenueKey struct {
	orderID string
	day     string
}

type revenueAcc struct {
	row     types.FactRevenue
	eventAt time.Time
}

// Revenue builds fact_revenue at (order_id, activity_date). Gross, discount
// and COGS land on the order date; each refund lands on its own date. Order
// rows are never rewritten by later refunds.
func (b *Builder) Revenue(orders []types.StgOrder, lines []types.StgOrderLine, refunds []types.StgRefund) ([]types.FactRevenue, error) {
	byID := make(map[string]types.StgOrder, len(orders))
	for _, o := range orders {
		byID[o.OrderID] = o
	}

	rows := map[revenueKey]*revenueAcc{}
	row := func(o types.StgOrder, at time.Time) *revenueAcc {
		key := revenueKey{orderID: o.OrderID, day: types.DayOf(at)}
		acc, ok := rows[key]
		if !ok {
			acc = &revenueAcc{
				row: types.FactRevenue{
					OrderID:      o.OrderID,
					ActivityDate: key.day,
					CustomerID:   o.CustomerID,
					Channel:      o.Channel,
				},
				eventAt: at,
			}
			rows[key] = acc
		}
		if !acc.row.OrderPlaced && at.Before(acc.eventAt) {
			acc.eventAt = at
		}
		return acc
	}

	for _, o := range orders {
		acc := row(o, o.OccurredAt)
		placed := o.OccurredAt
		acc.row.OrderPlaced = true
		acc.row.PlacedAt = &placed
		acc.eventAt = o.OccurredAt
		acc.row.DiscountAmount = acc.row.DiscountAmount.Add(o.DiscountAmount)
	}

	for _, line := range lines {
		o, ok := byID[line.OrderID]
		if !ok {
			return nil, orphanError("order line", line.LineID, line.OrderID)
		}
		acc := row(o, o.OccurredAt)
		acc.row.GrossRevenue = acc.row.GrossRevenue.Add(line.LineAmount())

		unitCost, err := b.params.Resolve(enums.ParameterProductCost, line.ProductID, o.OccurredAt)
		if err != nil {
			return nil, err
		}
		acc.row.CogsAmount = acc.row.CogsAmount.Add(unitCost.Mul(decimal.NewFromInt(line.Quantity)))
	}

	for _, refund := range refunds {
		o, ok := byID[refund.OrderID]
		if !ok {
			return nil, orphanError("refund", refund.RefundID, refund.OrderID)
		}
		acc := row(o, refund.OccurredAt)
		acc.row.RefundAmount = acc.row.RefundAmount.Add(refund.Amount)
	}

	out := make([]types.FactRevenue, 0, len(rows))
	for _, acc := range rows {
		r := acc.row
		r.NetRevenue = r.GrossRevenue.Sub(r.DiscountAmount).Sub(r.RefundAmount)
		r.AttributedRevenue = decimal.Zero
		if r.Channel != "" {
			weight, err := b.params.Resolve(enums.ParameterChannelWeight, r.Channel, acc.eventAt)
			if err != nil {
				return nil, err
			}
			r.AttributedRevenue = r.NetRevenue.Mul(weight)
		}
		out = append(out, r)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].OrderID != out[j].OrderID {
			return out[i].OrderID < out[j].OrderID
		}
		return out[i].ActivityDate < out[j].ActivityDate
	})
	return out, nil
}

func orphanError(kind, id, orderID string) error {
	return pkgerrors.New(pkgerrors.CodeValidation, kind+" references unknown order").
		WithDetails(map[string]any{"id": id, "order_id": orderID})
}
