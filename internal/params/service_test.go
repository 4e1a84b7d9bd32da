package params

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/packfinderz-metrics/pkg/db/dbtest"
	"github.com/angelmondragon/packfinderz-metrics/pkg/enums"
	pkgerrors "github.com/angelmondragon/packfinderz-metrics/pkg/errors"
)

func newTestService(t *testing.T, clock *time.Time) *service {
	t.Helper()
	svc, err := NewService(dbtest.Client(t))
	require.NoError(t, err)
	s := svc.(*service)
	s.now = func() time.Time { return *clock }
	return s
}

func TestPublishAssignsSequentialVersions(t *testing.T) {
	ctx := context.Background()
	clock := day(2024, 1, 1)
	svc := newTestService(t, &clock)

	first, err := svc.Publish(ctx, PublishInput{
		Kind:          enums.ParameterProductCost,
		Key:           " sku-1 ",
		EffectiveFrom: day(2024, 1, 1),
		Value:         decimal.NewFromInt(10),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, first.Version)
	assert.Equal(t, "sku-1", first.Key)

	clock = day(2024, 2, 1)
	second, err := svc.Publish(ctx, PublishInput{
		Kind:          enums.ParameterProductCost,
		Key:           "sku-1",
		EffectiveFrom: day(2024, 2, 1),
		Value:         decimal.NewFromInt(11),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, second.Version)

	key := "sku-1"
	history, err := svc.History(ctx, enums.ParameterProductCost, &key)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, 1, history[0].Version)
	assert.True(t, history[0].Value.Equal(decimal.NewFromInt(10)))

	snap, err := svc.Snapshot(ctx, day(2024, 1, 15))
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Len())

	snap, err = svc.Snapshot(ctx, day(2024, 3, 1))
	require.NoError(t, err)
	v, err := snap.Resolve(enums.ParameterProductCost, "sku-1", day(2024, 2, 10))
	require.NoError(t, err)
	assert.True(t, v.Equal(decimal.NewFromInt(11)))
}

func TestPublishRejectsInvalidInput(t *testing.T) {
	ctx := context.Background()
	clock := day(2024, 1, 1)
	svc := newTestService(t, &clock)

	before := day(2023, 12, 1)
	cases := map[string]PublishInput{
		"missing key":        {Kind: enums.ParameterChannelWeight, EffectiveFrom: day(2024, 1, 1), Value: decimal.NewFromInt(1)},
		"global with key":    {Kind: enums.ParameterForecastWindowMonths, Key: "x", EffectiveFrom: day(2024, 1, 1), Value: decimal.NewFromInt(3)},
		"fractional months":  {Kind: enums.ParameterForecastHorizonMonths, EffectiveFrom: day(2024, 1, 1), Value: decimal.RequireFromString("1.5")},
		"negative value":     {Kind: enums.ParameterProductCost, Key: "sku", EffectiveFrom: day(2024, 1, 1), Value: decimal.NewFromInt(-1)},
		"inverted range":     {Kind: enums.ParameterProductCost, Key: "sku", EffectiveFrom: day(2024, 1, 1), EffectiveTo: &before, Value: decimal.NewFromInt(1)},
		"unknown kind":       {Kind: "discount_rate", Key: "sku", EffectiveFrom: day(2024, 1, 1), Value: decimal.NewFromInt(1)},
		"missing from bound": {Kind: enums.ParameterProductCost, Key: "sku", Value: decimal.NewFromInt(1)},
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Publish(ctx, input)
			require.Error(t, err)
			assert.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))
		})
	}
}

func TestPublishFoldsChannelWeightKeys(t *testing.T) {
	ctx := context.Background()
	clock := day(2024, 1, 1)
	svc := newTestService(t, &clock)

	v, err := svc.Publish(ctx, PublishInput{
		Kind:          enums.ParameterChannelWeight,
		Key:           " Email ",
		EffectiveFrom: day(2024, 1, 1),
		Value:         decimal.RequireFromString("0.5"),
	})
	require.NoError(t, err)
	assert.Equal(t, "email", v.Key)

	snap, err := svc.Snapshot(ctx, day(2024, 2, 1))
	require.NoError(t, err)
	weight, err := snap.Resolve(enums.ParameterChannelWeight, "email", day(2024, 1, 10))
	require.NoError(t, err)
	assert.Equal(t, "0.5", weight.String())

	key := "EMAIL"
	history, err := svc.History(ctx, enums.ParameterChannelWeight, &key)
	require.NoError(t, err)
	require.Len(t, history, 1)

	// Product keys keep their case.
	cost, err := svc.Publish(ctx, PublishInput{
		Kind:          enums.ParameterProductCost,
		Key:           "SKU-1",
		EffectiveFrom: day(2024, 1, 1),
		Value:         decimal.NewFromInt(3),
	})
	require.NoError(t, err)
	assert.Equal(t, "SKU-1", cost.Key)
}
