package marts

import "github.com/angelmondragon/packfinderz-metrics/internal/types"

// Grain column names.
const (
	ColMonth            = "month"
	ColChannel          = "channel"
	ColCohortMonth      = "cohort_month"
	ColActivityMonth    = "activity_month"
	ColAsOfMonth        = "as_of_month"
	ColMonthsSinceStart = "months_since_start"
)

// Definitions of the published marts. CAC lives at month grain only; its
// channel variant is the separate channel_cac metric.
var (
	RevenueMonthly = Definition{
		Name:      types.TableMartRevenueMonthly,
		Grain:     []string{ColMonth},
		DependsOn: []string{types.TableFactRevenue, types.TableFactRecurringRevenue},
		Base:      []string{"gross_revenue", "discount_amount", "refund_amount", "net_revenue", "cogs_amount", "order_count", "recurring_revenue"},
		Derived: []Metric{
			{Name: "gross_margin", Formula: FormulaDifference, DependsOn: []string{"net_revenue", "cogs_amount"}},
			{Name: "gross_margin_pct", Formula: FormulaRatio, DependsOn: []string{"gross_margin", "net_revenue"}},
			{Name: "total_revenue", Formula: FormulaSum, DependsOn: []string{"net_revenue", "recurring_revenue"}},
			{Name: "average_order_value", Formula: FormulaRatio, DependsOn: []string{"net_revenue", "order_count"}},
		},
	}

	AcquisitionMonthly = Definition{
		Name:      types.TableMartAcquisitionMonthly,
		Grain:     []string{ColMonth},
		DependsOn: []string{types.TableFactMarketingSpend, types.TableFactCustomerLTV},
		Base:      []string{"marketing_spend", "new_customers", "new_customer_ltv"},
		Derived: []Metric{
			{Name: "cac", Formula: FormulaRatio, DependsOn: []string{"marketing_spend", "new_customers"}, Description: "customer acquisition cost"},
			{Name: "avg_new_customer_ltv", Formula: FormulaRatio, DependsOn: []string{"new_customer_ltv", "new_customers"}},
			{Name: "ltv_to_cac", Formula: FormulaRatio, DependsOn: []string{"avg_new_customer_ltv", "cac"}},
		},
	}

	ChannelMonthly = Definition{
		Name:      types.TableMartChannelMonthly,
		Grain:     []string{ColChannel, ColMonth},
		DependsOn: []string{types.TableFactMarketingSpend, types.TableFactRevenue, types.TableFactCustomerLTV},
		Base:      []string{"channel_spend", "channel_attributed_revenue", "channel_new_customers"},
		Derived: []Metric{
			{Name: "channel_cac", Formula: FormulaRatio, DependsOn: []string{"channel_spend", "channel_new_customers"}},
			{Name: "roas", Formula: FormulaRatio, DependsOn: []string{"channel_attributed_revenue", "channel_spend"}, Description: "return on ad spend"},
		},
	}

	CohortRetention = Definition{
		Name:      types.TableMartCohortRetention,
		Grain:     []string{ColCohortMonth, ColActivityMonth},
		DependsOn: []string{types.TableFactCustomerLTV, types.TableFactRevenue, types.TableFactRecurringRevenue},
		Base:      []string{"cohort_size", "active_customers", ColMonthsSinceStart},
		Derived: []Metric{
			{Name: "retention_rate", Formula: FormulaRatio, DependsOn: []string{"active_customers", "cohort_size"}},
		},
	}

	RevenueForecast = Definition{
		Name:      types.TableMartRevenueForecast,
		Grain:     []string{ColAsOfMonth},
		DependsOn: []string{types.TableMartRevenueMonthly},
		Base:      []string{"window_months", "horizon_months", "months_observed", "trailing_average"},
		Derived: []Metric{
			{Name: "forecast_revenue", Formula: FormulaProduct, DependsOn: []string{"trailing_average", "horizon_months"}},
		},
	}
)

// DefaultCatalog returns the catalog of every published mart.
func DefaultCatalog() (*Catalog, error) {
	return NewCatalog(RevenueMonthly, AcquisitionMonthly, ChannelMonthly, CohortRetention, RevenueForecast)
}

// MustDefaultCatalog is DefaultCatalog for static wiring; it panics when the
// built-in definitions do not compile.
func MustDefaultCatalog() *Catalog {
	c, err := DefaultCatalog()
	if err != nil {
		panic(err)
	}
	return c
}
