package facts

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/packfinderz-metrics/internal/types"
	"github.com/angelmondragon/packfinderz-metrics/pkg/ratio"
)

// UnattributedChannel labels acquisitions without a marketing channel.
const UnattributedChannel = "unattributed"

type purchase struct {
	at      time.Time
	ref     string
	channel string
}

func (p purchase) before(other purchase) bool {
	if !p.at.Equal(other.at) {
		return p.at.Before(other.at)
	}
	return p.ref < other.ref
}

type customerAcc struct {
	first        *purchase
	orders       map[string]struct{}
	orderNet     decimal.Decimal
	subscription decimal.Decimal
}

// CustomerLTV derives one row per customer with a purchase: the earliest
// order with positive gross or the earliest subscription charge, whichever
// comes first, fixes acquisition channel and cohort month. Customers whose
// orders are all zero-value have no first purchase and are left out.
func (b *Builder) CustomerLTV(revenue []types.FactRevenue, charges []types.StgSubscriptionCharge) []types.FactCustomerLTV {
	customers := map[string]*customerAcc{}
	get := func(id string) *customerAcc {
		acc, ok := customers[id]
		if !ok {
			acc = &customerAcc{orders: map[string]struct{}{}}
			customers[id] = acc
		}
		return acc
	}
	consider := func(acc *customerAcc, p purchase) {
		if acc.first == nil || p.before(*acc.first) {
			acc.first = &p
		}
	}

	for _, r := range revenue {
		acc := get(r.CustomerID)
		acc.orderNet = acc.orderNet.Add(r.NetRevenue)
		if !r.OrderPlaced {
			continue
		}
		acc.orders[r.OrderID] = struct{}{}
		if r.GrossRevenue.IsPositive() && r.PlacedAt != nil {
			channel := r.Channel
			if channel == "" {
				channel = UnattributedChannel
			}
			consider(acc, purchase{at: *r.PlacedAt, ref: "order:" + r.OrderID, channel: channel})
		}
	}

	for _, c := range charges {
		acc := get(c.CustomerID)
		acc.subscription = acc.subscription.Add(c.Amount)
		consider(acc, purchase{at: c.OccurredAt, ref: "charge:" + c.ChargeID, channel: UnattributedChannel})
	}

	out := make([]types.FactCustomerLTV, 0, len(customers))
	for id, acc := range customers {
		if acc.first == nil {
			continue
		}
		orderCount := int64(len(acc.orders))
		out = append(out, types.FactCustomerLTV{
			CustomerID:          id,
			FirstPurchaseAt:     acc.first.at,
			FirstPurchaseRef:    acc.first.ref,
			AcquisitionChannel:  acc.first.channel,
			CohortMonth:         types.MonthOf(acc.first.at),
			OrderCount:          orderCount,
			OrderNetRevenue:     acc.orderNet,
			SubscriptionRevenue: acc.subscription,
			LifetimeRevenue:     acc.orderNet.Add(acc.subscription),
			AvgOrderValue:       ratio.SafeDivide(ratio.Of(acc.orderNet), ratio.Int(orderCount)),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CustomerID < out[j].CustomerID })
	return out
}
