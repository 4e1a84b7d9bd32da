package builds

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/packfinderz-metrics/internal/export"
	"github.com/angelmondragon/packfinderz-metrics/internal/marts"
	"github.com/angelmondragon/packfinderz-metrics/internal/params"
	"github.com/angelmondragon/packfinderz-metrics/internal/staging"
	"github.com/angelmondragon/packfinderz-metrics/internal/types"
	"github.com/angelmondragon/packfinderz-metrics/internal/validation"
	"github.com/angelmondragon/packfinderz-metrics/pkg/db"
	"github.com/angelmondragon/packfinderz-metrics/pkg/db/dbtest"
	"github.com/angelmondragon/packfinderz-metrics/pkg/db/models"
	"github.com/angelmondragon/packfinderz-metrics/pkg/enums"
	pkgerrors "github.com/angelmondragon/packfinderz-metrics/pkg/errors"
)

const period = types.Month("2024-01")

type fixture struct {
	client *db.Client
	params params.Service
	locker *LocalLocker
}

func newFixture(t *testing.T, skipCosts ...string) *fixture {
	t.Helper()
	client := dbtest.Client(t)
	svc, err := params.NewService(client)
	require.NoError(t, err)

	skip := map[string]bool{}
	for _, key := range skipCosts {
		skip[key] = true
	}
	from := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	publish := func(kind enums.ParameterKind, key, value string) {
		if skip[key] {
			return
		}
		_, err := svc.Publish(context.Background(), params.PublishInput{
			Kind:          kind,
			Key:           key,
			EffectiveFrom: from,
			Value:         decimal.RequireFromString(value),
			PublishedBy:   "test",
		})
		require.NoError(t, err)
	}
	publish(enums.ParameterProductCost, "sku-1", "40")
	publish(enums.ParameterProductCost, "sku-2", "20")
	publish(enums.ParameterChannelWeight, "paid", "0.5")
	publish(enums.ParameterForecastWindowMonths, "", "3")
	publish(enums.ParameterForecastHorizonMonths, "", "6")

	return &fixture{client: client, params: svc, locker: NewLocalLocker()}
}

func raw(source enums.Source, fields map[string]any) staging.RawRecord {
	return staging.RawRecord{Source: source, Fields: fields}
}

func records() []staging.RawRecord {
	return []staging.RawRecord{
		raw(enums.SourceOrders, map[string]any{
			"order_id": "o-1", "customer_id": "c-1", "channel": "Paid",
			"discount_amount": "20", "occurred_at": "2024-01-10T12:00:00Z",
		}),
		raw(enums.SourceOrderLines, map[string]any{
			"line_id": "l-1", "order_id": "o-1", "sku": "sku-1", "price": "100", "qty": 1,
			"occurred_at": "2024-01-10T12:00:00Z",
		}),
		raw(enums.SourceOrderLines, map[string]any{
			"line_id": "l-2", "order_id": "o-1", "sku": "sku-2", "price": "50", "qty": 2,
			"occurred_at": "2024-01-10T12:00:00Z",
		}),
		raw(enums.SourceMarketingSpend, map[string]any{
			"spend_id": "s-1", "channel": "paid", "amount": "100", "occurred_at": "2024-01-03T08:00:00Z",
		}),
		raw(enums.SourceSubscriptionCharges, map[string]any{
			"charge_id": "ch-1", "subscription_id": "sub-1", "customer_id": "c-2",
			"revenue_type": "recurring", "interval": "monthly", "amount": "30",
			"occurred_at": "2024-01-15T00:00:00Z",
		}),
		// Outside the period; never read by a January build.
		raw(enums.SourceRefunds, map[string]any{
			"refund_id": "r-1", "order_id": "o-1", "amount": "50", "occurred_at": "2024-03-05T00:00:00Z",
		}),
	}
}

func (f *fixture) service(t *testing.T, registry *validation.Registry, opts ...func(*Deps)) *Service {
	t.Helper()
	if registry == nil {
		var err error
		registry, err = validation.DefaultRegistry()
		require.NoError(t, err)
	}
	deps := Deps{
		DB:        f.client,
		Params:    f.params,
		Loader:    staging.MemoryLoader{Records: records()},
		Catalog:   marts.MustDefaultCatalog(),
		Validator: validation.NewEngine(registry),
		Locker:    f.locker,
		Config:    Config{LockPoll: 10 * time.Millisecond},
	}
	for _, opt := range opts {
		opt(&deps)
	}
	svc, err := NewService(deps)
	require.NoError(t, err)
	return svc
}

func failureNames(report validation.Report) string {
	names := []string{}
	for _, res := range report.Results {
		if res.Failed() {
			names = append(names, res.CheckName+": "+strings.Join(res.OffendingKeys, "; "))
		}
	}
	return strings.Join(names, "\n")
}

type recordingExporter struct {
	builds []export.PublishedBuild
	marts  map[string][]types.MartRow
}

func (r *recordingExporter) WriteMarts(_ context.Context, build export.PublishedBuild, marts map[string][]types.MartRow) error {
	r.builds = append(r.builds, build)
	r.marts = marts
	return nil
}

type failingNotifier struct{ calls int }

func (f *failingNotifier) BuildPublished(context.Context, export.PublishedBuild) (string, error) {
	f.calls++
	return "", assert.AnError
}

func TestRunPublishesPassingBuild(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	exporter := &recordingExporter{}
	notifier := &failingNotifier{}
	svc := f.service(t, nil, func(d *Deps) {
		d.Exporter = exporter
		d.Notifier = notifier
	})

	out, err := svc.Run(ctx, period)
	require.NoError(t, err)
	require.Equal(t, enums.BuildStatusPassed, out.Build.Status, failureNames(out.Report))
	assert.True(t, out.Build.Published)
	assert.NotEmpty(t, out.Fingerprint)

	stored, err := NewRepository(f.client.DB()).Get(ctx, out.Build.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.BuildStatusPassed, stored.Status)
	assert.True(t, stored.Published)
	assert.Equal(t, out.Fingerprint, stored.Fingerprint)
	require.NotNil(t, stored.PublishedAt)

	var factCount int64
	require.NoError(t, f.client.DB().Model(&models.FactRow{}).
		Where("build_id = ? AND table_name = ?", out.Build.ID, types.TableFactRevenue).
		Count(&factCount).Error)
	assert.Equal(t, int64(1), factCount)

	var gross models.MartMetricValue
	require.NoError(t, f.client.DB().
		Where("build_id = ? AND mart = ? AND grain_key = ? AND metric = ?",
			out.Build.ID, marts.RevenueMonthly.Name, "2024-01", "gross_revenue").
		First(&gross).Error)
	require.True(t, gross.Value.Valid)
	assert.Equal(t, "200", gross.Value.Decimal.String())

	sizes, err := marts.NewCohortStore(f.client.DB()).Frozen(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), sizes[period])

	results, err := validation.NewRepository(f.client.DB()).Find(ctx, validation.Filter{BuildID: &out.Build.ID})
	require.NoError(t, err)
	assert.Len(t, results, len(out.Report.Results))

	require.Len(t, exporter.builds, 1)
	assert.Equal(t, out.Fingerprint, exporter.builds[0].Fingerprint)
	assert.Contains(t, exporter.marts, marts.RevenueForecast.Name)
	assert.Equal(t, 1, notifier.calls)
}

func TestRunIsDeterministic(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	svc := f.service(t, nil)

	first, err := svc.Run(ctx, period)
	require.NoError(t, err)
	second, err := svc.Run(ctx, period)
	require.NoError(t, err)

	assert.NotEqual(t, first.Build.ID, second.Build.ID)
	assert.Equal(t, first.Fingerprint, second.Fingerprint)

	latest, err := NewRepository(f.client.DB()).LatestPublished(ctx, period)
	require.NoError(t, err)
	assert.Equal(t, second.Build.ID, latest.ID)
}

func TestRunHardFailureDoesNotPublish(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	registry, err := validation.ParseRegistry(strings.NewReader(`
checks:
  - {name: gross_revenue_capped, kind: bounds, severity: hard, table: fact_revenue, columns: [gross_revenue], max: "10"}
`))
	require.NoError(t, err)
	svc := f.service(t, registry)

	out, err := svc.Run(ctx, period)
	require.Error(t, err)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeReconciliation))
	require.NotNil(t, out)
	assert.Equal(t, enums.BuildStatusFailedHard, out.Build.Status)
	assert.Equal(t, "validation", out.Build.FailedStage)

	stored, err := NewRepository(f.client.DB()).Get(ctx, out.Build.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.BuildStatusFailedHard, stored.Status)
	assert.False(t, stored.Published)
	assert.Empty(t, stored.Fingerprint)

	var factCount int64
	require.NoError(t, f.client.DB().Model(&models.FactRow{}).Where("build_id = ?", out.Build.ID).Count(&factCount).Error)
	assert.Zero(t, factCount)

	sizes, err := marts.NewCohortStore(f.client.DB()).Frozen(ctx)
	require.NoError(t, err)
	assert.Empty(t, sizes)

	_, err = NewRepository(f.client.DB()).LatestPublished(ctx, period)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeNotFound))
}

func TestRunSoftFailurePublishes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	registry, err := validation.ParseRegistry(strings.NewReader(`
checks:
  - {name: gross_revenue_plausible, kind: bounds, severity: soft, table: mart_revenue_monthly, columns: [gross_revenue], max: "1"}
`))
	require.NoError(t, err)
	svc := f.service(t, registry)

	out, err := svc.Run(ctx, period)
	require.NoError(t, err)
	assert.Equal(t, enums.BuildStatusFailedSoft, out.Build.Status)
	assert.True(t, out.Build.Published)

	stored, err := NewRepository(f.client.DB()).Get(ctx, out.Build.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.BuildStatusFailedSoft, stored.Status)
	assert.True(t, stored.Published)
	assert.Contains(t, stored.Error, "gross_revenue_plausible")
}

func TestRunMissingParameterFailsFactStage(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "sku-2")
	svc := f.service(t, nil)

	out, err := svc.Run(ctx, period)
	require.Error(t, err)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeMissingParameter))
	assert.Equal(t, enums.BuildStatusFailedHard, out.Build.Status)
	assert.Equal(t, types.TableFactRevenue, out.Build.FailedStage)

	stored, err := NewRepository(f.client.DB()).Get(ctx, out.Build.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TableFactRevenue, stored.FailedStage)
	assert.False(t, stored.Published)
}

func TestRunWaitsForBusyPeriod(t *testing.T) {
	f := newFixture(t)
	svc := f.service(t, nil)

	held, err := f.locker.Lock(period.String())
	require.NoError(t, err)
	ok, err := held.Acquire(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = svc.Run(ctx, period)
	require.Error(t, err)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeBuildInProgress))

	var count int64
	require.NoError(t, f.client.DB().Model(&models.Build{}).Count(&count).Error)
	assert.Zero(t, count)

	require.NoError(t, held.Release(context.Background()))
	out, err := svc.Run(context.Background(), period)
	require.NoError(t, err)
	assert.True(t, out.Build.Published)
}

func TestRunBooksLinesInTheirOrderMonth(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	svc := f.service(t, nil, func(d *Deps) {
		d.Loader = staging.MemoryLoader{Records: []staging.RawRecord{
			raw(enums.SourceOrders, map[string]any{
				"order_id": "o-9", "customer_id": "c-9", "channel": "paid", "occurred_at": "2024-01-31T23:59:00Z",
			}),
			raw(enums.SourceOrderLines, map[string]any{
				"line_id": "l-9", "order_id": "o-9", "sku": "sku-1", "price": "100", "qty": 1,
				"occurred_at": "2024-02-01T00:00:05Z",
			}),
		}}
	})

	out, err := svc.Run(ctx, types.Month("2024-02"))
	require.NoError(t, err)
	assert.Equal(t, enums.BuildStatusPassed, out.Build.Status, failureNames(out.Report))
	assert.True(t, out.Build.Published)
}

func TestRunRefundOnlyMonthPublishesSoft(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	svc := f.service(t, nil)

	// March carries only the refund of a January order.
	out, err := svc.Run(ctx, types.Month("2024-03"))
	require.NoError(t, err)
	assert.Equal(t, enums.BuildStatusFailedSoft, out.Build.Status, failureNames(out.Report))
	assert.True(t, out.Build.Published)

	soft := out.Report.Failures(enums.SeveritySoft)
	names := make([]string, 0, len(soft))
	for _, res := range soft {
		names = append(names, res.CheckName)
	}
	assert.Contains(t, names, "net_revenue_non_negative")
	assert.Empty(t, out.Report.Failures(enums.SeverityHard))

	stored, err := NewRepository(f.client.DB()).Get(ctx, out.Build.ID)
	require.NoError(t, err)
	assert.True(t, stored.Published)
	assert.Contains(t, stored.Error, "net_revenue_non_negative")
}

// freezingLoader freezes a cohort size while the build is loading, as a
// concurrent build for another period would.
type freezingLoader struct {
	staging.Loader
	store *marts.CohortStore
	size  int64
}

func (l freezingLoader) Load(ctx context.Context, until time.Time) ([]staging.RawRecord, error) {
	if err := l.store.Freeze(ctx, uuid.New(), map[types.Month]int64{period: l.size}, until); err != nil {
		return nil, err
	}
	return l.Loader.Load(ctx, until)
}

func TestRunRefusesToPublishOverConcurrentCohortSize(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	store := marts.NewCohortStore(f.client.DB())
	svc := f.service(t, nil, func(d *Deps) {
		d.Loader = freezingLoader{Loader: d.Loader, store: store, size: 7}
	})

	out, err := svc.Run(ctx, period)
	require.Error(t, err)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeConflict))
	assert.Equal(t, enums.BuildStatusFailedHard, out.Build.Status)
	assert.Equal(t, "publish", out.Build.FailedStage)

	stored, err := NewRepository(f.client.DB()).Get(ctx, out.Build.ID)
	require.NoError(t, err)
	assert.False(t, stored.Published)

	var martCount int64
	require.NoError(t, f.client.DB().Model(&models.MartMetricValue{}).Where("build_id = ?", out.Build.ID).Count(&martCount).Error)
	assert.Zero(t, martCount)

	sizes, err := store.Frozen(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(7), sizes[period])

	// A rerun reads the frozen size and publishes.
	svc = f.service(t, nil)
	out, err = svc.Run(ctx, period)
	require.NoError(t, err)
	assert.True(t, out.Build.Published)
}

func TestNewServiceRequiresCollaborators(t *testing.T) {
	_, err := NewService(Deps{})
	require.Error(t, err)
}
