package builds

import (
	"context"

	"github.com/angelmondragon/packfinderz-metrics/internal/facts"
	"github.com/angelmondragon/packfinderz-metrics/internal/marts"
	"github.com/angelmondragon/packfinderz-metrics/internal/params"
	"github.com/angelmondragon/packfinderz-metrics/internal/pipeline"
	"github.com/angelmondragon/packfinderz-metrics/internal/staging"
	"github.com/angelmondragon/packfinderz-metrics/internal/types"
	"github.com/angelmondragon/packfinderz-metrics/pkg/enums"
)

// buildInput is everything a derivation reads besides its own stage outputs.
type buildInput struct {
	period  types.Month
	records map[enums.Source][]staging.RawRecord
	params  params.Resolver
	catalog *marts.Catalog
	frozen  map[types.Month]int64
}

// newGraph wires staging, fact and mart stages. Stage names equal the table
// they produce; mart stages read exactly the tables their definition declares.
func newGraph(in buildInput) (*pipeline.Graph, error) {
	n := staging.NewNormalizer()
	b := facts.NewBuilder(in.params)

	stages := []pipeline.Stage{
		stagingStage(types.TableStgOrders, func() (any, error) {
			return n.Orders(in.records[enums.SourceOrders])
		}),
		{
			Name:   types.TableStgOrderLines,
			Layer:  enums.LayerStaging,
			Inputs: []string{types.TableStgOrders},
			Run: func(_ context.Context, inputs *pipeline.Inputs) (any, error) {
				lines, err := n.OrderLines(in.records[enums.SourceOrderLines])
				if err != nil {
					return nil, err
				}
				return staging.AttachOrders(lines, pipeline.MustInput[[]types.StgOrder](inputs, types.TableStgOrders)), nil
			},
		},
		stagingStage(types.TableStgRefunds, func() (any, error) {
			return n.Refunds(in.records[enums.SourceRefunds])
		}),
		stagingStage(types.TableStgSubscriptionCharges, func() (any, error) {
			return n.SubscriptionCharges(in.records[enums.SourceSubscriptionCharges])
		}),
		stagingStage(types.TableStgMarketingSpend, func() (any, error) {
			return n.MarketingSpend(in.records[enums.SourceMarketingSpend])
		}),
		{
			Name:   types.TableFactRevenue,
			Layer:  enums.LayerFact,
			Inputs: []string{types.TableStgOrders, types.TableStgOrderLines, types.TableStgRefunds},
			Run: func(_ context.Context, inputs *pipeline.Inputs) (any, error) {
				return b.Revenue(
					pipeline.MustInput[[]types.StgOrder](inputs, types.TableStgOrders),
					pipeline.MustInput[[]types.StgOrderLine](inputs, types.TableStgOrderLines),
					pipeline.MustInput[[]types.StgRefund](inputs, types.TableStgRefunds),
				)
			},
		},
		{
			Name:   types.TableFactRecurringRevenue,
			Layer:  enums.LayerFact,
			Inputs: []string{types.TableStgSubscriptionCharges},
			Run: func(_ context.Context, inputs *pipeline.Inputs) (any, error) {
				return b.RecurringRevenue(pipeline.MustInput[[]types.StgSubscriptionCharge](inputs, types.TableStgSubscriptionCharges)), nil
			},
		},
		{
			Name:   types.TableFactMarketingSpend,
			Layer:  enums.LayerFact,
			Inputs: []string{types.TableStgMarketingSpend},
			Run: func(_ context.Context, inputs *pipeline.Inputs) (any, error) {
				return b.MarketingSpend(pipeline.MustInput[[]types.StgMarketingSpend](inputs, types.TableStgMarketingSpend)), nil
			},
		},
		{
			Name:   types.TableFactCustomerLTV,
			Layer:  enums.LayerFact,
			Inputs: []string{types.TableFactRevenue, types.TableStgSubscriptionCharges},
			Run: func(_ context.Context, inputs *pipeline.Inputs) (any, error) {
				return b.CustomerLTV(
					pipeline.MustInput[[]types.FactRevenue](inputs, types.TableFactRevenue),
					pipeline.MustInput[[]types.StgSubscriptionCharge](inputs, types.TableStgSubscriptionCharges),
				), nil
			},
		},
		martStage(in.catalog, marts.RevenueMonthly, func(inputs *pipeline.Inputs) ([]types.MartRow, error) {
			return marts.Revenue(
				pipeline.MustInput[[]types.FactRevenue](inputs, types.TableFactRevenue),
				pipeline.MustInput[[]types.FactRecurringRevenue](inputs, types.TableFactRecurringRevenue),
			), nil
		}),
		martStage(in.catalog, marts.AcquisitionMonthly, func(inputs *pipeline.Inputs) ([]types.MartRow, error) {
			return marts.Acquisition(
				pipeline.MustInput[[]types.FactMarketingSpend](inputs, types.TableFactMarketingSpend),
				pipeline.MustInput[[]types.FactCustomerLTV](inputs, types.TableFactCustomerLTV),
			), nil
		}),
		martStage(in.catalog, marts.ChannelMonthly, func(inputs *pipeline.Inputs) ([]types.MartRow, error) {
			return marts.Channel(
				pipeline.MustInput[[]types.FactMarketingSpend](inputs, types.TableFactMarketingSpend),
				pipeline.MustInput[[]types.FactRevenue](inputs, types.TableFactRevenue),
				pipeline.MustInput[[]types.FactCustomerLTV](inputs, types.TableFactCustomerLTV),
			), nil
		}),
		{
			Name:   types.TableMartCohortRetention,
			Layer:  enums.LayerMart,
			Inputs: marts.CohortRetention.DependsOn,
			Run: func(_ context.Context, inputs *pipeline.Inputs) (any, error) {
				result := marts.Cohort(
					in.period,
					pipeline.MustInput[[]types.FactCustomerLTV](inputs, types.TableFactCustomerLTV),
					pipeline.MustInput[[]types.FactRevenue](inputs, types.TableFactRevenue),
					pipeline.MustInput[[]types.FactRecurringRevenue](inputs, types.TableFactRecurringRevenue),
					in.frozen,
				)
				if err := in.catalog.Derive(types.TableMartCohortRetention, result.Rows); err != nil {
					return nil, err
				}
				return result, nil
			},
		},
		martStage(in.catalog, marts.RevenueForecast, func(inputs *pipeline.Inputs) ([]types.MartRow, error) {
			return marts.Forecast(
				in.period,
				pipeline.MustInput[[]types.MartRow](inputs, types.TableMartRevenueMonthly),
				in.params,
			)
		}),
	}
	return pipeline.New(stages...)
}

func stagingStage(table string, run func() (any, error)) pipeline.Stage {
	return pipeline.Stage{
		Name:  table,
		Layer: enums.LayerStaging,
		Run: func(context.Context, *pipeline.Inputs) (any, error) {
			return run()
		},
	}
}

func martStage(catalog *marts.Catalog, def marts.Definition, aggregate func(*pipeline.Inputs) ([]types.MartRow, error)) pipeline.Stage {
	return pipeline.Stage{
		Name:   def.Name,
		Layer:  enums.LayerMart,
		Inputs: def.DependsOn,
		Run: func(_ context.Context, inputs *pipeline.Inputs) (any, error) {
			rows, err := aggregate(inputs)
			if err != nil {
				return nil, err
			}
			if err := catalog.Derive(def.Name, rows); err != nil {
				return nil, err
			}
			return rows, nil
		},
	}
}
