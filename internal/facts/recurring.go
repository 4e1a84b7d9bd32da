package facts

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/packfinderz-metrics/internal/types"
	"github.com/angelmondragon/packfinderz-metrics/pkg/enums"
)

const centPlaces = 2

type subscriptionMonth struct {
	subscriptionID string
	month          types.Month
}

// RecurringRevenue spreads each recurring charge evenly across the months of
// its billing interval, starting with the charge month. Shares are truncated
// to cents and the last month absorbs the remainder, so a charge's spread sums
// back to the charge exactly. One-time charges are excluded.
func (b *Builder) RecurringRevenue(charges []types.StgSubscriptionCharge) []types.FactRecurringRevenue {
	acc := map[subscriptionMonth]*types.FactRecurringRevenue{}
	for _, charge := range charges {
		if charge.RevenueType != enums.RevenueTypeRecurring {
			continue
		}
		start := types.MonthOf(charge.OccurredAt)
		for i, share := range Spread(charge.Amount, charge.Interval.Months()) {
			key := subscriptionMonth{subscriptionID: charge.SubscriptionID, month: start.AddMonths(i)}
			row, ok := acc[key]
			if !ok {
				row = &types.FactRecurringRevenue{
					SubscriptionID: charge.SubscriptionID,
					Month:          key.month,
					CustomerID:     charge.CustomerID,
				}
				acc[key] = row
			}
			row.Amount = row.Amount.Add(share)
		}
	}

	out := make([]types.FactRecurringRevenue, 0, len(acc))
	for _, row := range acc {
		out = append(out, *row)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SubscriptionID != out[j].SubscriptionID {
			return out[i].SubscriptionID < out[j].SubscriptionID
		}
		return out[i].Month < out[j].Month
	})
	return out
}

// Spread splits amount into n monthly shares that sum to amount.
func Spread(amount decimal.Decimal, n int) []decimal.Decimal {
	if n <= 1 {
		return []decimal.Decimal{amount}
	}
	share := amount.Div(decimal.NewFromInt(int64(n))).Truncate(centPlaces)
	out := make([]decimal.Decimal, n)
	allocated := decimal.Zero
	for i := 0; i < n-1; i++ {
		out[i] = share
		allocated = allocated.Add(share)
	}
	out[n-1] = amount.Sub(allocated)
	return out
}
