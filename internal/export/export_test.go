package export

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	cbigquery "cloud.google.com/go/bigquery"
	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/packfinderz-metrics/internal/types"
	pkgbigquery "github.com/angelmondragon/packfinderz-metrics/pkg/bigquery"
)

type insertCall struct {
	table    string
	rowCount int
}

type fakeInserter struct {
	responses []error
	calls     []insertCall
	index     int
	ensured   map[string]cbigquery.Schema
}

func (f *fakeInserter) EnsureTable(_ context.Context, table string, schema cbigquery.Schema, partitionField string) error {
	if partitionField != "published_at" {
		return errors.New("unexpected partition field " + partitionField)
	}
	if f.ensured == nil {
		f.ensured = map[string]cbigquery.Schema{}
	}
	f.ensured[table] = schema
	return nil
}

func (f *fakeInserter) InsertRows(_ context.Context, table string, rows []any) error {
	f.calls = append(f.calls, insertCall{table: table, rowCount: len(rows)})
	var err error
	if f.index < len(f.responses) {
		err = f.responses[f.index]
	}
	f.index++
	return err
}

func newWriterWithFakeInserter(t *testing.T) (*MartWriter, *fakeInserter) {
	t.Helper()
	writer, err := NewMartWriter(&pkgbigquery.Client{}, Config{
		RetryPolicy: RetryPolicy{InitialBackoff: time.Millisecond, MaximumBackoff: time.Millisecond},
	})
	require.NoError(t, err)

	fake := &fakeInserter{}
	writer.client = fake
	writer.tableFor = func(mart string) string { return "export_" + mart }
	return writer, fake
}

func testBuild() PublishedBuild {
	return PublishedBuild{
		ID:          uuid.MustParse("6f1c1c9e-8d2a-4c43-9b7e-3d7f3b0a1c11"),
		Period:      "2024-01",
		Status:      "PASSED",
		Fingerprint: "abc",
		PublishedAt: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
	}
}

func revenueRows() []types.MartRow {
	row := types.NewMartRow([]string{"month"}, map[string]string{"month": "2024-01"})
	row.Metrics["net_revenue"] = decimal.NewNullDecimal(decimal.RequireFromString("180"))
	row.Metrics["average_order_value"] = decimal.NullDecimal{}
	return []types.MartRow{row}
}

func TestNewMartWriterValidation(t *testing.T) {
	_, err := NewMartWriter(nil, Config{})
	require.Error(t, err)
}

func TestMetricRowsFlattenPerMetric(t *testing.T) {
	rows, err := metricRows(testBuild(), "mart_revenue_monthly", revenueRows())
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, "average_order_value", rows[0].Metric)
	assert.Nil(t, rows[0].Value)
	assert.Equal(t, "net_revenue", rows[1].Metric)
	assert.Equal(t, "180", rows[1].Value.RatString())
	assert.Equal(t, "2024-01", rows[1].GrainKey)
	assert.JSONEq(t, `{"month":"2024-01"}`, rows[1].Dims.JSONVal)
}

func TestWriterRetriesOnTransientError(t *testing.T) {
	writer, fake := newWriterWithFakeInserter(t)
	fake.responses = []error{&googleapi.Error{Code: http.StatusServiceUnavailable}, nil}

	err := writer.WriteMarts(context.Background(), testBuild(), map[string][]types.MartRow{"mart_revenue_monthly": revenueRows()})
	require.NoError(t, err)
	require.Len(t, fake.calls, 2)
	assert.Equal(t, "export_mart_revenue_monthly", fake.calls[1].table)
}

func TestWriterStopsOnPermanentError(t *testing.T) {
	writer, fake := newWriterWithFakeInserter(t)
	fake.responses = []error{&googleapi.Error{Code: http.StatusBadRequest}}

	err := writer.WriteMarts(context.Background(), testBuild(), map[string][]types.MartRow{"mart_revenue_monthly": revenueRows()})
	require.Error(t, err)
	assert.Len(t, fake.calls, 1)
}

func TestWriterBatches(t *testing.T) {
	writer, fake := newWriterWithFakeInserter(t)
	writer.batchSize = 1

	err := writer.WriteMarts(context.Background(), testBuild(), map[string][]types.MartRow{"mart_revenue_monthly": revenueRows()})
	require.NoError(t, err)
	require.Len(t, fake.calls, 2)
	assert.Equal(t, 1, fake.calls[0].rowCount)
}

func TestRetryClassification(t *testing.T) {
	assert.True(t, isRetryableBigQueryError(status.Error(codes.Unavailable, "try later")))
	assert.False(t, isRetryableBigQueryError(status.Error(codes.InvalidArgument, "bad row")))
	assert.False(t, isRetryableBigQueryError(errors.New("plain")))
	assert.True(t, isRetryableHTTPCode(http.StatusTooManyRequests))
}

type fakePublisher struct {
	msgs   []*gcppubsub.Message
	result publishResult
}

func (f *fakePublisher) Publish(_ context.Context, msg *gcppubsub.Message) publishResult {
	f.msgs = append(f.msgs, msg)
	return f.result
}

type fakePublishResult struct {
	id  string
	err error
}

func (f fakePublishResult) Get(context.Context) (string, error) {
	return f.id, f.err
}

func TestNotifierPublishesBuildEvent(t *testing.T) {
	pub := &fakePublisher{result: fakePublishResult{id: "msg-1"}}
	n := &Notifier{pub: pub, timeout: time.Second}

	id, err := n.BuildPublished(context.Background(), testBuild())
	require.NoError(t, err)
	assert.Equal(t, "msg-1", id)
	require.Len(t, pub.msgs, 1)

	msg := pub.msgs[0]
	assert.Equal(t, EventBuildPublished, msg.Attributes["event_type"])
	assert.Equal(t, "2024-01", msg.Attributes["period"])

	var event BuildPublishedEvent
	require.NoError(t, json.Unmarshal(msg.Data, &event))
	assert.Equal(t, "abc", event.Fingerprint)
}

func TestNotifierNilResult(t *testing.T) {
	n := &Notifier{pub: &fakePublisher{}, timeout: time.Second}
	_, err := n.BuildPublished(context.Background(), testBuild())
	require.Error(t, err)
}

func TestPrepareCreatesExportTables(t *testing.T) {
	writer, fake := newWriterWithFakeInserter(t)

	require.NoError(t, writer.Prepare(context.Background(), []string{"mart_revenue_monthly", "mart_cohort_retention"}))
	require.Len(t, fake.ensured, 2)

	schema := fake.ensured["export_mart_revenue_monthly"]
	fieldTypes := map[string]cbigquery.FieldType{}
	for _, field := range schema {
		fieldTypes[field.Name] = field.Type
	}
	assert.Equal(t, cbigquery.NumericFieldType, fieldTypes["value"])
	assert.Equal(t, cbigquery.JSONFieldType, fieldTypes["dims"])
	assert.Equal(t, cbigquery.TimestampFieldType, fieldTypes["published_at"])
}
