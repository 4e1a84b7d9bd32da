package facts

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/packfinderz-metrics/internal/params"
	"github.com/angelmondragon/packfinderz-metrics/internal/types"
	"github.com/angelmondragon/packfinderz-metrics/pkg/enums"
	pkgerrors "github.com/angelmondragon/packfinderz-metrics/pkg/errors"
)

func ts(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 12, 0, 0, 0, time.UTC)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func version(kind enums.ParameterKind, key, value string, from time.Time) params.Version {
	return params.Version{Kind: kind, Key: key, Version: 1, EffectiveFrom: from, Value: dec(value), PublishedAt: from}
}

func testSnapshot(extra ...params.Version) *params.Snapshot {
	base := []params.Version{
		version(enums.ParameterProductCost, "sku-1", "40", ts(2023, 1, 1)),
		version(enums.ParameterProductCost, "sku-2", "20", ts(2023, 1, 1)),
		version(enums.ParameterChannelWeight, "paid", "0.5", ts(2023, 1, 1)),
	}
	return params.NewSnapshot(ts(2030, 1, 1), append(base, extra...))
}

func exampleOrders() ([]types.StgOrder, []types.StgOrderLine) {
	orders := []types.StgOrder{
		{OrderID: "1", CustomerID: "c-1", Channel: "paid", OccurredAt: ts(2024, 1, 10), DiscountAmount: dec("20")},
	}
	lines := []types.StgOrderLine{
		{LineID: "1", OrderID: "1", ProductID: "sku-1", UnitPrice: dec("100"), Quantity: 1, OccurredAt: ts(2024, 1, 10)},
		{LineID: "2", OrderID: "1", ProductID: "sku-2", UnitPrice: dec("50"), Quantity: 2, OccurredAt: ts(2024, 1, 10)},
	}
	return orders, lines
}

func TestRevenueCountsEachLineOnce(t *testing.T) {
	orders, lines := exampleOrders()
	rows, err := NewBuilder(testSnapshot()).Revenue(orders, lines, nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	row := rows[0]
	assert.Equal(t, "2024-01-10", row.ActivityDate)
	assert.True(t, row.OrderPlaced)
	assert.Equal(t, "200", row.GrossRevenue.String())
	assert.Equal(t, "20", row.DiscountAmount.String())
	assert.Equal(t, "180", row.NetRevenue.String())
	assert.Equal(t, "80", row.CogsAmount.String())
	assert.Equal(t, "90", row.AttributedRevenue.String())
}

func TestRefundLandsOnItsOwnDate(t *testing.T) {
	orders, lines := exampleOrders()
	refunds := []types.StgRefund{{RefundID: "r-1", OrderID: "1", Amount: dec("50"), OccurredAt: ts(2024, 3, 5)}}

	rows, err := NewBuilder(testSnapshot()).Revenue(orders, lines, refunds)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	january, march := rows[0], rows[1]
	assert.Equal(t, types.Month("2024-01"), january.Month())
	assert.Equal(t, "180", january.NetRevenue.String())
	assert.True(t, january.RefundAmount.IsZero())

	assert.Equal(t, types.Month("2024-03"), march.Month())
	assert.False(t, march.OrderPlaced)
	assert.Equal(t, "-50", march.NetRevenue.String())
	assert.True(t, march.GrossRevenue.IsZero())
	assert.Equal(t, "-25", march.AttributedRevenue.String())
}

func TestRevenueFailsOnMissingParameter(t *testing.T) {
	orders, lines := exampleOrders()
	lines = append(lines, types.StgOrderLine{LineID: "3", OrderID: "1", ProductID: "sku-unknown", UnitPrice: dec("1"), Quantity: 1, OccurredAt: ts(2024, 1, 10)})

	_, err := NewBuilder(testSnapshot()).Revenue(orders, lines, nil)
	require.Error(t, err)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeMissingParameter))
}

func TestRevenueUsesParameterInEffectAtOrderTime(t *testing.T) {
	orders, lines := exampleOrders()
	newer := params.Version{
		Kind: enums.ParameterProductCost, Key: "sku-1", Version: 2,
		EffectiveFrom: ts(2024, 2, 1), Value: dec("60"), PublishedAt: ts(2023, 6, 1),
	}
	rows, err := NewBuilder(testSnapshot(newer)).Revenue(orders, lines, nil)
	require.NoError(t, err)
	assert.Equal(t, "80", rows[0].CogsAmount.String())
}

func TestRevenueRejectsOrphans(t *testing.T) {
	orders, lines := exampleOrders()
	_, err := NewBuilder(testSnapshot()).Revenue(orders, lines, []types.StgRefund{
		{RefundID: "r-9", OrderID: "missing", Amount: dec("1"), OccurredAt: ts(2024, 1, 11)},
	})
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))
}

func TestRevenueWithoutChannelSkipsWeightLookup(t *testing.T) {
	orders := []types.StgOrder{{OrderID: "o", CustomerID: "c", OccurredAt: ts(2024, 1, 1)}}
	rows, err := NewBuilder(params.NewSnapshot(ts(2030, 1, 1), nil)).Revenue(orders, nil, nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].AttributedRevenue.IsZero())
}

func TestRecurringRevenueSpreadsAnnualCharges(t *testing.T) {
	charges := []types.StgSubscriptionCharge{
		{ChargeID: "ch-1", SubscriptionID: "sub-1", CustomerID: "c-1", RevenueType: enums.RevenueTypeRecurring, Interval: enums.BillingIntervalAnnual, Amount: dec("1000"), OccurredAt: ts(2024, 11, 3)},
		{ChargeID: "ch-2", SubscriptionID: "sub-2", CustomerID: "c-2", RevenueType: enums.RevenueTypeRecurring, Interval: enums.BillingIntervalMonthly, Amount: dec("30"), OccurredAt: ts(2024, 11, 3)},
		{ChargeID: "ch-3", SubscriptionID: "sub-2", CustomerID: "c-2", RevenueType: enums.RevenueTypeOneTime, Amount: dec("99"), OccurredAt: ts(2024, 11, 4)},
	}
	rows := NewBuilder(testSnapshot()).RecurringRevenue(charges)
	require.Len(t, rows, 13)

	total := decimal.Zero
	for _, row := range rows[:12] {
		assert.Equal(t, "sub-1", row.SubscriptionID)
		total = total.Add(row.Amount)
	}
	assert.Equal(t, "1000", total.String())
	assert.Equal(t, types.Month("2024-11"), rows[0].Month)
	assert.Equal(t, "83.33", rows[0].Amount.String())
	assert.Equal(t, types.Month("2025-10"), rows[11].Month)
	assert.Equal(t, "83.37", rows[11].Amount.String())
	assert.Equal(t, "30", rows[12].Amount.String())
}

func TestSpreadSumsExactly(t *testing.T) {
	for _, n := range []int{1, 3, 7, 12} {
		total := decimal.Zero
		for _, share := range Spread(dec("100.01"), n) {
			total = total.Add(share)
		}
		assert.True(t, total.Equal(dec("100.01")), "n=%d", n)
	}
}

func TestMarketingSpendGroupsByChannelDay(t *testing.T) {
	rows := NewBuilder(testSnapshot()).MarketingSpend([]types.StgMarketingSpend{
		{SpendID: "s-2", Channel: "paid", Amount: dec("400"), OccurredAt: ts(2024, 1, 2)},
		{SpendID: "s-1", Channel: "paid", Amount: dec("600"), OccurredAt: ts(2024, 1, 2)},
		{SpendID: "s-3", Channel: "email", Amount: dec("5"), OccurredAt: ts(2024, 1, 3)},
	})
	require.Len(t, rows, 2)
	assert.Equal(t, "email", rows[0].Channel)
	assert.Equal(t, "1000", rows[1].Amount.String())
	assert.Equal(t, "2024-01-02", rows[1].SpendDate)
}

func TestCustomerLTVHasOneAuthoritativeFirstPurchase(t *testing.T) {
	builder := NewBuilder(testSnapshot(version(enums.ParameterChannelWeight, "email", "1", ts(2023, 1, 1))))
	orders := []types.StgOrder{
		{OrderID: "o-1", CustomerID: "c-1", Channel: "paid", OccurredAt: ts(2024, 2, 1)},
		{OrderID: "o-2", CustomerID: "c-1", Channel: "email", OccurredAt: ts(2024, 3, 1)},
		{OrderID: "o-3", CustomerID: "c-2", OccurredAt: ts(2024, 1, 15)},
		{OrderID: "o-4", CustomerID: "c-3", OccurredAt: ts(2024, 1, 15)},
	}
	lines := []types.StgOrderLine{
		{LineID: "l-1", OrderID: "o-1", ProductID: "sku-1", UnitPrice: dec("100"), Quantity: 1, OccurredAt: ts(2024, 2, 1)},
		{LineID: "l-2", OrderID: "o-2", ProductID: "sku-1", UnitPrice: dec("50"), Quantity: 1, OccurredAt: ts(2024, 3, 1)},
		{LineID: "l-3", OrderID: "o-3", ProductID: "sku-2", UnitPrice: dec("10"), Quantity: 1, OccurredAt: ts(2024, 1, 15)},
	}
	revenue, err := builder.Revenue(orders, lines, []types.StgRefund{
		{RefundID: "r-1", OrderID: "o-2", Amount: dec("50"), OccurredAt: ts(2024, 4, 1)},
	})
	require.NoError(t, err)

	charges := []types.StgSubscriptionCharge{
		{ChargeID: "ch-1", SubscriptionID: "sub", CustomerID: "c-1", RevenueType: enums.RevenueTypeRecurring, Interval: enums.BillingIntervalMonthly, Amount: dec("25"), OccurredAt: ts(2024, 2, 20)},
		{ChargeID: "ch-2", SubscriptionID: "sub-9", CustomerID: "c-9", RevenueType: enums.RevenueTypeOneTime, Amount: dec("5"), OccurredAt: ts(2024, 5, 1)},
	}
	ltv := builder.CustomerLTV(revenue, charges)
	require.Len(t, ltv, 3, "zero-value customer c-3 has no first purchase")

	c1 := ltv[0]
	assert.Equal(t, "c-1", c1.CustomerID)
	assert.Equal(t, "order:o-1", c1.FirstPurchaseRef)
	assert.Equal(t, "paid", c1.AcquisitionChannel)
	assert.Equal(t, types.Month("2024-02"), c1.CohortMonth)
	assert.Equal(t, int64(2), c1.OrderCount)
	assert.Equal(t, "100", c1.OrderNetRevenue.String())
	assert.Equal(t, "125", c1.LifetimeRevenue.String())
	assert.Equal(t, "50", c1.AvgOrderValue.Decimal.String())

	c2 := ltv[1]
	assert.Equal(t, UnattributedChannel, c2.AcquisitionChannel)

	c9 := ltv[2]
	assert.Equal(t, "charge:ch-2", c9.FirstPurchaseRef)
	assert.Equal(t, int64(0), c9.OrderCount)
	assert.False(t, c9.AvgOrderValue.Valid)
}
