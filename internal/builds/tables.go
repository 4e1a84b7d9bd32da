package builds

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/cespare/xxhash/v2"

	"github.com/angelmondragon/packfinderz-metrics/internal/marts"
	"github.com/angelmondragon/packfinderz-metrics/internal/types"
	"github.com/angelmondragon/packfinderz-metrics/pkg/enums"
)

type tableSpec struct {
	name  string
	layer enums.Layer
	grain []string
}

var (
	stagingTables = []tableSpec{
		{types.TableStgOrders, enums.LayerStaging, []string{"order_id"}},
		{types.TableStgOrderLines, enums.LayerStaging, []string{"line_id"}},
		{types.TableStgRefunds, enums.LayerStaging, []string{"refund_id"}},
		{types.TableStgSubscriptionCharges, enums.LayerStaging, []string{"charge_id"}},
		{types.TableStgMarketingSpend, enums.LayerStaging, []string{"spend_id"}},
	}
	factTables = []tableSpec{
		{types.TableFactRevenue, enums.LayerFact, []string{"order_id", "activity_date"}},
		{types.TableFactRecurringRevenue, enums.LayerFact, []string{"subscription_id", "month"}},
		{types.TableFactMarketingSpend, enums.LayerFact, []string{"channel", "spend_date"}},
		{types.TableFactCustomerLTV, enums.LayerFact, []string{"customer_id"}},
	}
)

// derived holds the materialized tables of one successful run.
type derived struct {
	tables   map[string]types.Table
	marts    map[string][]types.MartRow
	newSizes map[types.Month]int64
}

// collect turns stage outputs into named tables.
func collect(outputs map[string]any, catalog *marts.Catalog) (*derived, error) {
	d := &derived{tables: map[string]types.Table{}, marts: map[string][]types.MartRow{}}

	for _, spec := range append(append([]tableSpec{}, stagingTables...), factTables...) {
		rows, err := asRows(outputs[spec.name])
		if err != nil {
			return nil, fmt.Errorf("table %s: %w", spec.name, err)
		}
		d.tables[spec.name] = types.Table{Name: spec.name, Layer: spec.layer, Grain: spec.grain, Rows: rows}
	}

	for _, def := range catalog.Definitions() {
		var rows []types.MartRow
		switch out := outputs[def.Name].(type) {
		case []types.MartRow:
			rows = out
		case marts.CohortResult:
			rows = out.Rows
			d.newSizes = out.NewSizes
		default:
			return nil, fmt.Errorf("mart %s produced %T", def.Name, out)
		}
		d.marts[def.Name] = rows
		d.tables[def.Name] = types.Table{Name: def.Name, Layer: enums.LayerMart, Grain: def.Grain, Rows: types.AsRows(rows)}
	}
	return d, nil
}

func asRows(output any) ([]types.Row, error) {
	switch rows := output.(type) {
	case []types.StgOrder:
		return types.AsRows(rows), nil
	case []types.StgOrderLine:
		return types.AsRows(rows), nil
	case []types.StgRefund:
		return types.AsRows(rows), nil
	case []types.StgSubscriptionCharge:
		return types.AsRows(rows), nil
	case []types.StgMarketingSpend:
		return types.AsRows(rows), nil
	case []types.FactRevenue:
		return types.AsRows(rows), nil
	case []types.FactRecurringRevenue:
		return types.AsRows(rows), nil
	case []types.FactMarketingSpend:
		return types.AsRows(rows), nil
	case []types.FactCustomerLTV:
		return types.AsRows(rows), nil
	}
	return nil, fmt.Errorf("unexpected output %T", output)
}

// published lists the fact and mart tables in the order they are persisted
// and fingerprinted.
func (d *derived) published() []types.Table {
	out := []types.Table{}
	for _, spec := range factTables {
		out = append(out, d.tables[spec.name])
	}
	names := make([]string, 0, len(d.marts))
	for name := range d.marts {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		out = append(out, d.tables[name])
	}
	return out
}

// fingerprint hashes the canonical JSON of every published row. Rows are
// sorted by grain so the hash depends only on content.
func fingerprint(tables []types.Table) (string, error) {
	h := xxhash.New()
	for _, table := range tables {
		rows := append([]types.Row{}, table.Rows...)
		sort.SliceStable(rows, func(i, j int) bool {
			return types.JoinKey(rows[i].GrainKey()) < types.JoinKey(rows[j].GrainKey())
		})
		if _, err := h.WriteString(table.Name + "\n"); err != nil {
			return "", err
		}
		for _, row := range rows {
			payload, err := json.Marshal(row)
			if err != nil {
				return "", fmt.Errorf("encode %s row: %w", table.Name, err)
			}
			if _, err := h.Write(append(payload, '\n')); err != nil {
				return "", err
			}
		}
	}
	return fmt.Sprintf("%016x", h.Sum64()), nil
}
