package facts

import (
	"sort"

	"github.com/angelmondragon/packfinderz-metrics/internal/types"
)

type channelDay struct {
	channel string
	day     string
}

// MarketingSpend sums spend per (channel, spend_date).
func (b *Builder) MarketingSpend(spend []types.StgMarketingSpend) []types.FactMarketingSpend {
	acc := map[channelDay]*types.FactMarketingSpend{}
	for _, s := range spend {
		key := channelDay{channel: s.Channel, day: types.DayOf(s.OccurredAt)}
		row, ok := acc[key]
		if !ok {
			row = &types.FactMarketingSpend{Channel: key.channel, SpendDate: key.day}
			acc[key] = row
		}
		row.Amount = row.Amount.Add(s.Amount)
	}

	out := make([]types.FactMarketingSpend, 0, len(acc))
	for _, row := range acc {
		out = append(out, *row)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Channel != out[j].Channel {
			return out[i].Channel < out[j].Channel
		}
		return out[i].SpendDate < out[j].SpendDate
	})
	return out
}
