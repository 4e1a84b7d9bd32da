package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Fact table names.
const (
	TableFactRevenue          = "fact_revenue"
	TableFactRecurringRevenue = "fact_recurring_revenue"
	TableFactMarketingSpend   = "fact_marketing_spend"
	TableFactCustomerLTV      = "fact_customer_ltv"
)

// FactRevenue is one (order_id, activity_date) row. The row on the order date
// carries gross, discount and COGS; rows on refund dates carry refunds only.
type FactRevenue struct {
	OrderID           string          `json:"order_id"`
	ActivityDate      string          `json:"activity_date"`
	CustomerID        string          `json:"customer_id"`
	Channel           string          `json:"channel"`
	OrderPlaced       bool            `json:"order_placed"`
	PlacedAt          *time.Time      `json:"placed_at,omitempty"`
	GrossRevenue      decimal.Decimal `json:"gross_revenue"`
	DiscountAmount    decimal.Decimal `json:"discount_amount"`
	RefundAmount      decimal.Decimal `json:"refund_amount"`
	NetRevenue        decimal.Decimal `json:"net_revenue"`
	CogsAmount        decimal.Decimal `json:"cogs_amount"`
	AttributedRevenue decimal.Decimal `json:"attributed_revenue"`
}

// Month is the activity month of the row.
func (f FactRevenue) Month() Month { return MonthOfDay(f.ActivityDate) }

func (f FactRevenue) GrainKey() []string { return []string{f.OrderID, f.ActivityDate} }

func (f FactRevenue) Dim(column string) (string, bool) {
	switch column {
	case "order_id":
		return f.OrderID, true
	case "activity_date", "day":
		return f.ActivityDate, true
	case "month":
		return f.Month().String(), true
	case "customer_id":
		return f.CustomerID, true
	case "channel":
		return f.Channel, true
	}
	return "", false
}

func (f FactRevenue) Measure(column string) (decimal.NullDecimal, bool) {
	switch column {
	case "gross_revenue":
		return present(f.GrossRevenue), true
	case "discount_amount":
		return present(f.DiscountAmount), true
	case "refund_amount":
		return present(f.RefundAmount), true
	case "net_revenue":
		return present(f.NetRevenue), true
	case "cogs_amount":
		return present(f.CogsAmount), true
	case "attributed_revenue":
		return present(f.AttributedRevenue), true
	}
	return decimal.NullDecimal{}, false
}

// FactRecurringRevenue is recognized recurring revenue for one subscription-month.
type FactRecurringRevenue struct {
	SubscriptionID string          `json:"subscription_id"`
	Month          Month           `json:"month"`
	CustomerID     string          `json:"customer_id"`
	Amount         decimal.Decimal `json:"amount"`
}

func (f FactRecurringRevenue) GrainKey() []string {
	return []string{f.SubscriptionID, f.Month.String()}
}

func (f FactRecurringRevenue) Dim(column string) (string, bool) {
	switch column {
	case "subscription_id":
		return f.SubscriptionID, true
	case "month":
		return f.Month.String(), true
	case "customer_id":
		return f.CustomerID, true
	}
	return "", false
}

func (f FactRecurringRevenue) Measure(column string) (decimal.NullDecimal, bool) {
	if column == "amount" || column == "recurring_revenue" {
		return present(f.Amount), true
	}
	return decimal.NullDecimal{}, false
}

// FactMarketingSpend is the spend on one channel for one day.
type FactMarketingSpend struct {
	Channel   string          `json:"channel"`
	SpendDate string          `json:"spend_date"`
	Amount    decimal.Decimal `json:"amount"`
}

func (f FactMarketingSpend) Month() Month { return MonthOfDay(f.SpendDate) }

func (f FactMarketingSpend) GrainKey() []string { return []string{f.Channel, f.SpendDate} }

func (f FactMarketingSpend) Dim(column string) (string, bool) {
	switch column {
	case "channel":
		return f.Channel, true
	case "spend_date", "day":
		return f.SpendDate, true
	case "month":
		return f.Month().String(), true
	}
	return "", false
}

func (f FactMarketingSpend) Measure(column string) (decimal.NullDecimal, bool) {
	if column == "amount" || column == "marketing_spend" {
		return present(f.Amount), true
	}
	return decimal.NullDecimal{}, false
}

// FactCustomerLTV holds the single authoritative acquisition record of a
// customer plus lifetime value as of the build.
type FactCustomerLTV struct {
	CustomerID          string              `json:"customer_id"`
	FirstPurchaseAt     time.Time           `json:"first_purchase_at"`
	FirstPurchaseRef    string              `json:"first_purchase_ref"`
	AcquisitionChannel  string              `json:"acquisition_channel"`
	CohortMonth         Month               `json:"cohort_month"`
	OrderCount          int64               `json:"order_count"`
	OrderNetRevenue     decimal.Decimal     `json:"order_net_revenue"`
	SubscriptionRevenue decimal.Decimal     `json:"subscription_revenue"`
	LifetimeRevenue     decimal.Decimal     `json:"lifetime_revenue"`
	AvgOrderValue       decimal.NullDecimal `json:"avg_order_value"`
}

func (f FactCustomerLTV) GrainKey() []string { return []string{f.CustomerID} }

func (f FactCustomerLTV) Dim(column string) (string, bool) {
	switch column {
	case "customer_id":
		return f.CustomerID, true
	case "acquisition_channel", "channel":
		return f.AcquisitionChannel, true
	case "cohort_month", "month":
		return f.CohortMonth.String(), true
	case "first_purchase_ref":
		return f.FirstPurchaseRef, true
	}
	return "", false
}

func (f FactCustomerLTV) Measure(column string) (decimal.NullDecimal, bool) {
	switch column {
	case "order_count":
		return count(f.OrderCount), true
	case "order_net_revenue":
		return present(f.OrderNetRevenue), true
	case "subscription_revenue":
		return present(f.SubscriptionRevenue), true
	case "lifetime_revenue":
		return present(f.LifetimeRevenue), true
	case "avg_order_value":
		return f.AvgOrderValue, true
	}
	return decimal.NullDecimal{}, false
}
