package staging

import (
	"encoding/json"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"

	"github.com/angelmondragon/packfinderz-metrics/internal/types"
	"github.com/angelmondragon/packfinderz-metrics/pkg/enums"
)

var (
	idKeys = map[enums.Source][]string{
		enums.SourceOrders:              {"order_id", "id", "event_id"},
		enums.SourceOrderLines:          {"line_id", "id", "event_id"},
		enums.SourceRefunds:             {"refund_id", "id", "event_id"},
		enums.SourceSubscriptionCharges: {"charge_id", "id", "event_id"},
		enums.SourceMarketingSpend:      {"spend_id", "id", "event_id"},
	}
	timestampKeys = []string{"occurred_at", "timestamp", "created_at"}
	amountKeys    = []string{"amount"}
	centKeys      = []string{"amount_cents"}
)

// Normalizer maps raw records to canonical staging rows. It holds no state
// besides the validator, so the same input always yields the same output.
type Normalizer struct {
	validate *validator.Validate
}

// NewNormalizer returns a normalizer with the canonical record rules registered.
func NewNormalizer() *Normalizer {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		tag := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if tag == "" {
			return f.Name
		}
		return tag
	})
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := d.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})
	return &Normalizer{validate: v}
}

// Output holds every staged table. A source that failed normalization is left
// empty and its error is reported in Failed.
type Output struct {
	Orders              []types.StgOrder
	OrderLines          []types.StgOrderLine
	Refunds             []types.StgRefund
	SubscriptionCharges []types.StgSubscriptionCharge
	MarketingSpend      []types.StgMarketingSpend
	Failed              map[enums.Source]error
}

// Normalize stages every source independently. The returned error combines
// the per-source failures; successfully staged sources are still populated.
func (n *Normalizer) Normalize(records []RawRecord) (*Output, error) {
	bySource := Partition(records)
	out := &Output{Failed: map[enums.Source]error{}}

	var err error
	record := func(source enums.Source, e error) {
		if e != nil {
			out.Failed[source] = e
			err = multierr.Append(err, e)
		}
	}

	var e error
	out.Orders, e = n.Orders(bySource[enums.SourceOrders])
	record(enums.SourceOrders, e)
	out.OrderLines, e = n.OrderLines(bySource[enums.SourceOrderLines])
	record(enums.SourceOrderLines, e)
	out.OrderLines = AttachOrders(out.OrderLines, out.Orders)
	out.Refunds, e = n.Refunds(bySource[enums.SourceRefunds])
	record(enums.SourceRefunds, e)
	out.SubscriptionCharges, e = n.SubscriptionCharges(bySource[enums.SourceSubscriptionCharges])
	record(enums.SourceSubscriptionCharges, e)
	out.MarketingSpend, e = n.MarketingSpend(bySource[enums.SourceMarketingSpend])
	record(enums.SourceMarketingSpend, e)

	return out, err
}

// Partition groups records by source, preserving input order within a source.
func Partition(records []RawRecord) map[enums.Source][]RawRecord {
	out := map[enums.Source][]RawRecord{}
	for _, r := range records {
		out[r.Source] = append(out[r.Source], r)
	}
	return out
}

// Orders stages order headers.
func (n *Normalizer) Orders(records []RawRecord) ([]types.StgOrder, error) {
	return normalize(n, enums.SourceOrders, records, func(r *fieldReader) types.StgOrder {
		return types.StgOrder{
			OrderID:        r.str(true, idKeys[enums.SourceOrders]...),
			CustomerID:     r.str(true, "customer_id"),
			Channel:        strings.ToLower(r.str(false, "channel", "utm_source")),
			OccurredAt:     r.timestamp(timestampKeys...),
			DiscountAmount: r.money(false, []string{"discount_amount", "discount"}, []string{"discount_cents"}),
		}
	}, func(o types.StgOrder) string { return o.OrderID })
}

// OrderLines stages order line items.
func (n *Normalizer) OrderLines(records []RawRecord) ([]types.StgOrderLine, error) {
	return normalize(n, enums.SourceOrderLines, records, func(r *fieldReader) types.StgOrderLine {
		return types.StgOrderLine{
			LineID:     r.str(true, idKeys[enums.SourceOrderLines]...),
			OrderID:    r.str(true, "order_id"),
			ProductID:  r.str(true, "product_id", "sku"),
			UnitPrice:  r.money(true, []string{"unit_price", "price"}, []string{"unit_price_cents", "price_cents"}),
			Quantity:   r.integer(true, "quantity", "qty"),
			OccurredAt: r.timestamp(timestampKeys...),
		}
	}, func(l types.StgOrderLine) string { return l.LineID })
}

// AttachOrders stamps each line with its order's timestamp. Lines whose order
// is unknown keep their own timestamp; the fact builder rejects them.
func AttachOrders(lines []types.StgOrderLine, orders []types.StgOrder) []types.StgOrderLine {
	if lines == nil {
		return nil
	}
	placed := make(map[string]time.Time, len(orders))
	for _, o := range orders {
		placed[o.OrderID] = o.OccurredAt
	}
	out := make([]types.StgOrderLine, len(lines))
	for i, line := range lines {
		if at, ok := placed[line.OrderID]; ok {
			line.OrderedAt = &at
		}
		out[i] = line
	}
	return out
}

// Refunds stages refund events.
func (n *Normalizer) Refunds(records []RawRecord) ([]types.StgRefund, error) {
	return normalize(n, enums.SourceRefunds, records, func(r *fieldReader) types.StgRefund {
		return types.StgRefund{
			RefundID:   r.str(true, idKeys[enums.SourceRefunds]...),
			OrderID:    r.str(true, "order_id"),
			Amount:     r.money(true, amountKeys, centKeys),
			OccurredAt: r.timestamp(timestampKeys...),
		}
	}, func(rf types.StgRefund) string { return rf.RefundID })
}

// SubscriptionCharges stages billed subscription charges.
func (n *Normalizer) SubscriptionCharges(records []RawRecord) ([]types.StgSubscriptionCharge, error) {
	return normalize(n, enums.SourceSubscriptionCharges, records, func(r *fieldReader) types.StgSubscriptionCharge {
		charge := types.StgSubscriptionCharge{
			ChargeID:       r.str(true, idKeys[enums.SourceSubscriptionCharges]...),
			SubscriptionID: r.str(true, "subscription_id"),
			CustomerID:     r.str(true, "customer_id"),
			Amount:         r.money(true, amountKeys, centKeys),
			OccurredAt:     r.timestamp(timestampKeys...),
		}
		if raw := r.str(true, "revenue_type", "type"); raw != "" {
			rt, err := enums.ParseRevenueType(raw)
			if err != nil {
				r.invalid["revenue_type"] = err.Error()
			}
			charge.RevenueType = rt
		}
		if raw := r.str(false, "interval", "billing_interval"); raw != "" {
			interval, err := enums.ParseBillingInterval(raw)
			if err != nil {
				r.invalid["interval"] = err.Error()
			}
			charge.Interval = interval
		} else if charge.RevenueType == enums.RevenueTypeRecurring {
			r.miss([]string{"interval", "billing_interval"})
		}
		return charge
	}, func(c types.StgSubscriptionCharge) string { return c.ChargeID })
}

// MarketingSpend stages spend events.
func (n *Normalizer) MarketingSpend(records []RawRecord) ([]types.StgMarketingSpend, error) {
	return normalize(n, enums.SourceMarketingSpend, records, func(r *fieldReader) types.StgMarketingSpend {
		return types.StgMarketingSpend{
			SpendID:    r.str(true, idKeys[enums.SourceMarketingSpend]...),
			Channel:    strings.ToLower(r.str(true, "channel")),
			Amount:     r.money(true, []string{"amount", "spend"}, []string{"amount_cents", "spend_cents"}),
			OccurredAt: r.timestamp(timestampKeys...),
		}
	}, func(s types.StgMarketingSpend) string { return s.SpendID })
}

// normalize maps each record, validates it, collapses identical duplicates
// and returns rows sorted by id. The first malformed record fails the source.
func normalize[T any](n *Normalizer, source enums.Source, records []RawRecord, build func(*fieldReader) T, id func(T) string) ([]T, error) {
	byID := map[string]T{}
	for i, rec := range records {
		reader := newFieldReader(rec.Fields)
		row := build(reader)
		if !reader.ok() {
			return nil, schemaError(source, i, reader)
		}
		if err := n.validate.Struct(row); err != nil {
			return nil, ruleError(source, i, err)
		}
		key := id(row)
		if existing, seen := byID[key]; seen {
			if !sameRow(existing, row) {
				return nil, conflictError(source, key)
			}
			continue
		}
		byID[key] = row
	}

	ids := make([]string, 0, len(byID))
	for key := range byID {
		ids = append(ids, key)
	}
	sort.Strings(ids)
	out := make([]T, len(ids))
	for i, key := range ids {
		out[i] = byID[key]
	}
	return out, nil
}

func sameRow[T any](a, b T) bool {
	left, errA := json.Marshal(a)
	right, errB := json.Marshal(b)
	return errA == nil && errB == nil && string(left) == string(right)
}
