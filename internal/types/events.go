package types

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/packfinderz-metrics/pkg/enums"
)

// Staging table names.
const (
	TableStgOrders              = "stg_orders"
	TableStgOrderLines          = "stg_order_lines"
	TableStgRefunds             = "stg_refunds"
	TableStgSubscriptionCharges = "stg_subscription_charges"
	TableStgMarketingSpend      = "stg_marketing_spend"
)

// StgOrder is the canonical order header. One row per order.
type StgOrder struct {
	OrderID        string          `json:"order_id" validate:"required"`
	CustomerID     string          `json:"customer_id" validate:"required"`
	Channel        string          `json:"channel"`
	OccurredAt     time.Time       `json:"occurred_at" validate:"required"`
	DiscountAmount decimal.Decimal `json:"discount_amount" validate:"gte=0"`
}

func (o StgOrder) GrainKey() []string { return []string{o.OrderID} }

func (o StgOrder) Dim(column string) (string, bool) {
	switch column {
	case "order_id":
		return o.OrderID, true
	case "customer_id":
		return o.CustomerID, true
	case "channel":
		return o.Channel, true
	case "month":
		return MonthOf(o.OccurredAt).String(), true
	case "day":
		return DayOf(o.OccurredAt), true
	}
	return "", false
}

func (o StgOrder) Measure(column string) (decimal.NullDecimal, bool) {
	if column == "discount_amount" {
		return present(o.DiscountAmount), true
	}
	return decimal.NullDecimal{}, false
}

// StgOrderLine is one order line item. LineAmount is price × quantity.
// OrderedAt is the parent order's timestamp once lines are joined to orders.
type StgOrderLine struct {
	LineID     string          `json:"line_id" validate:"required"`
	OrderID    string          `json:"order_id" validate:"required"`
	ProductID  string          `json:"product_id" validate:"required"`
	UnitPrice  decimal.Decimal `json:"unit_price" validate:"gte=0"`
	Quantity   int64           `json:"quantity" validate:"gte=1"`
	OccurredAt time.Time       `json:"occurred_at" validate:"required"`
	OrderedAt  *time.Time      `json:"ordered_at,omitempty"`
}

// LineAmount is the gross amount of the line.
func (l StgOrderLine) LineAmount() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(l.Quantity))
}

// AttributedAt is when the line's revenue is booked: the order timestamp when
// known, otherwise the line's own.
func (l StgOrderLine) AttributedAt() time.Time {
	if l.OrderedAt != nil {
		return *l.OrderedAt
	}
	return l.OccurredAt
}

func (l StgOrderLine) GrainKey() []string { return []string{l.LineID} }

func (l StgOrderLine) Dim(column string) (string, bool) {
	switch column {
	case "line_id":
		return l.LineID, true
	case "order_id":
		return l.OrderID, true
	case "product_id":
		return l.ProductID, true
	case "month":
		return MonthOf(l.AttributedAt()).String(), true
	case "day":
		return DayOf(l.OccurredAt), true
	}
	return "", false
}

func (l StgOrderLine) Measure(column string) (decimal.NullDecimal, bool) {
	switch column {
	case "line_amount":
		return present(l.LineAmount()), true
	case "unit_price":
		return present(l.UnitPrice), true
	case "quantity":
		return count(l.Quantity), true
	}
	return decimal.NullDecimal{}, false
}

// StgRefund is a refund event. It never edits the original order.
type StgRefund struct {
	RefundID   string          `json:"refund_id" validate:"required"`
	OrderID    string          `json:"order_id" validate:"required"`
	Amount     decimal.Decimal `json:"amount" validate:"gte=0"`
	OccurredAt time.Time       `json:"occurred_at" validate:"required"`
}

func (r StgRefund) GrainKey() []string { return []string{r.RefundID} }

func (r StgRefund) Dim(column string) (string, bool) {
	switch column {
	case "refund_id":
		return r.RefundID, true
	case "order_id":
		return r.OrderID, true
	case "month":
		return MonthOf(r.OccurredAt).String(), true
	case "day":
		return DayOf(r.OccurredAt), true
	}
	return "", false
}

func (r StgRefund) Measure(column string) (decimal.NullDecimal, bool) {
	if column == "amount" {
		return present(r.Amount), true
	}
	return decimal.NullDecimal{}, false
}

// StgSubscriptionCharge is one billed subscription charge.
type StgSubscriptionCharge struct {
	ChargeID       string                `json:"charge_id" validate:"required"`
	SubscriptionID string                `json:"subscription_id" validate:"required"`
	CustomerID     string                `json:"customer_id" validate:"required"`
	RevenueType    enums.RevenueType     `json:"revenue_type" validate:"required"`
	Interval       enums.BillingInterval `json:"interval"`
	Amount         decimal.Decimal       `json:"amount" validate:"gte=0"`
	OccurredAt     time.Time             `json:"occurred_at" validate:"required"`
}

func (c StgSubscriptionCharge) GrainKey() []string { return []string{c.ChargeID} }

func (c StgSubscriptionCharge) Dim(column string) (string, bool) {
	switch column {
	case "charge_id":
		return c.ChargeID, true
	case "subscription_id":
		return c.SubscriptionID, true
	case "customer_id":
		return c.CustomerID, true
	case "revenue_type":
		return c.RevenueType.String(), true
	case "interval":
		return c.Interval.String(), true
	case "month":
		return MonthOf(c.OccurredAt).String(), true
	}
	return "", false
}

func (c StgSubscriptionCharge) Measure(column string) (decimal.NullDecimal, bool) {
	switch column {
	case "amount":
		return present(c.Amount), true
	case "recurring_amount":
		if c.RevenueType == enums.RevenueTypeRecurring {
			return present(c.Amount), true
		}
		return present(decimal.Zero), true
	}
	return decimal.NullDecimal{}, false
}

// StgMarketingSpend is one spend event on a channel.
type StgMarketingSpend struct {
	SpendID    string          `json:"spend_id" validate:"required"`
	Channel    string          `json:"channel" validate:"required"`
	Amount     decimal.Decimal `json:"amount" validate:"gte=0"`
	OccurredAt time.Time       `json:"occurred_at" validate:"required"`
}

func (s StgMarketingSpend) GrainKey() []string { return []string{s.SpendID} }

func (s StgMarketingSpend) Dim(column string) (string, bool) {
	switch column {
	case "spend_id":
		return s.SpendID, true
	case "channel":
		return s.Channel, true
	case "month":
		return MonthOf(s.OccurredAt).String(), true
	case "day":
		return DayOf(s.OccurredAt), true
	}
	return "", false
}

func (s StgMarketingSpend) Measure(column string) (decimal.NullDecimal, bool) {
	if column == "amount" {
		return present(s.Amount), true
	}
	return decimal.NullDecimal{}, false
}
