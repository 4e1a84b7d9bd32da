package params

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/packfinderz-metrics/pkg/enums"
	pkgerrors "github.com/angelmondragon/packfinderz-metrics/pkg/errors"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestSnapshotPicksHighestCoveringVersion(t *testing.T) {
	june := day(2024, 6, 1)
	versions := []Version{
		{Kind: enums.ParameterProductCost, Key: "sku-1", Version: 1, EffectiveFrom: day(2024, 1, 1), Value: decimal.NewFromInt(10), PublishedAt: day(2024, 1, 1)},
		{Kind: enums.ParameterProductCost, Key: "sku-1", Version: 2, EffectiveFrom: day(2024, 5, 1), EffectiveTo: &june, Value: decimal.NewFromInt(12), PublishedAt: day(2024, 5, 1)},
	}
	snap := NewSnapshot(day(2024, 12, 1), versions)

	v, err := snap.Resolve(enums.ParameterProductCost, "sku-1", day(2024, 5, 15))
	require.NoError(t, err)
	assert.True(t, v.Equal(decimal.NewFromInt(12)))

	v, err = snap.Resolve(enums.ParameterProductCost, "sku-1", june)
	require.NoError(t, err)
	assert.True(t, v.Equal(decimal.NewFromInt(10)), "effective_to is exclusive")

	v, err = snap.Resolve(enums.ParameterProductCost, "sku-1", day(2024, 2, 1))
	require.NoError(t, err)
	assert.True(t, v.Equal(decimal.NewFromInt(10)))
}

func TestSnapshotMissingParameter(t *testing.T) {
	snap := NewSnapshot(day(2024, 12, 1), []Version{
		{Kind: enums.ParameterChannelWeight, Key: "paid", Version: 1, EffectiveFrom: day(2024, 3, 1), Value: decimal.NewFromInt(1), PublishedAt: day(2024, 1, 1)},
	})

	_, err := snap.Resolve(enums.ParameterChannelWeight, "paid", day(2024, 2, 1))
	require.Error(t, err)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeMissingParameter))

	details, ok := pkgerrors.As(err).Details().(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "paid", details["key"])
	assert.Equal(t, "2024-02-01T00:00:00Z", details["timestamp"])

	_, err = snap.Resolve(enums.ParameterChannelWeight, "organic", day(2024, 4, 1))
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeMissingParameter))
}

func TestSnapshotIgnoresVersionsPublishedAfterCutoff(t *testing.T) {
	versions := []Version{
		{Kind: enums.ParameterProductCost, Key: "sku-1", Version: 1, EffectiveFrom: day(2024, 1, 1), Value: decimal.NewFromInt(10), PublishedAt: day(2024, 1, 1)},
		{Kind: enums.ParameterProductCost, Key: "sku-1", Version: 2, EffectiveFrom: day(2024, 1, 1), Value: decimal.NewFromInt(99), PublishedAt: day(2024, 7, 2)},
	}
	snap := NewSnapshot(day(2024, 7, 1), versions)

	assert.Equal(t, 1, snap.Len())
	v, err := snap.Resolve(enums.ParameterProductCost, "sku-1", day(2024, 3, 1))
	require.NoError(t, err)
	assert.True(t, v.Equal(decimal.NewFromInt(10)))
}
