package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	cbigquery "cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/packfinderz-metrics/internal/types"
	pkgbigquery "github.com/angelmondragon/packfinderz-metrics/pkg/bigquery"
)

const (
	defaultBatchSize      = 500
	defaultMaxAttempts    = 3
	defaultInitialBackoff = 250 * time.Millisecond
	defaultMaximumBackoff = 2 * time.Second
)

// Config controls the mart writer behavior.
type Config struct {
	BatchSize   int
	RetryPolicy RetryPolicy
}

// RetryPolicy controls how many times BigQuery inserts are retried.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaximumBackoff time.Duration
}

type warehouse interface {
	InsertRows(ctx context.Context, table string, rows []any) error
	EnsureTable(ctx context.Context, table string, schema cbigquery.Schema, partitionField string) error
}

// MartWriter inserts published mart rows into BigQuery with retries and batching.
type MartWriter struct {
	client    warehouse
	tableFor  func(mart string) string
	batchSize int
	retry     RetryPolicy
}

// NewMartWriter creates a writer backed by the shared client.
func NewMartWriter(client *pkgbigquery.Client, cfg Config) (*MartWriter, error) {
	if client == nil {
		return nil, errors.New("bigquery client required")
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	retry := cfg.RetryPolicy
	if retry.MaxAttempts <= 0 {
		retry.MaxAttempts = defaultMaxAttempts
	}
	if retry.InitialBackoff <= 0 {
		retry.InitialBackoff = defaultInitialBackoff
	}
	if retry.MaximumBackoff <= 0 {
		retry.MaximumBackoff = defaultMaximumBackoff
	}
	if retry.MaximumBackoff < retry.InitialBackoff {
		retry.MaximumBackoff = retry.InitialBackoff
	}

	return &MartWriter{
		client:    client,
		tableFor:  client.ExportTable,
		batchSize: batchSize,
		retry:     retry,
	}, nil
}

// Prepare creates the export table of every mart that lacks one, partitioned
// by publish day.
func (w *MartWriter) Prepare(ctx context.Context, marts []string) error {
	schema, err := cbigquery.InferSchema(MartMetricRow{})
	if err != nil {
		return fmt.Errorf("infer export schema: %w", err)
	}
	for _, mart := range marts {
		if err := w.client.EnsureTable(ctx, w.tableFor(mart), schema, "published_at"); err != nil {
			return err
		}
	}
	return nil
}

// WriteMarts exports every mart of a published build, marts in name order.
func (w *MartWriter) WriteMarts(ctx context.Context, build PublishedBuild, marts map[string][]types.MartRow) error {
	names := make([]string, 0, len(marts))
	for name := range marts {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, mart := range names {
		rows, err := metricRows(build, mart, marts[mart])
		if err != nil {
			return fmt.Errorf("encode %s: %w", mart, err)
		}
		table := w.tableFor(mart)
		for start := 0; start < len(rows); start += w.batchSize {
			end := start + w.batchSize
			if end > len(rows) {
				end = len(rows)
			}
			batch := make([]any, 0, end-start)
			for i := start; i < end; i++ {
				batch = append(batch, &rows[i])
			}
			if err := w.insertWithRetry(ctx, table, batch); err != nil {
				return err
			}
		}
	}
	return nil
}

func (w *MartWriter) insertWithRetry(ctx context.Context, table string, rows []any) error {
	if len(rows) == 0 {
		return nil
	}

	attempts := 0
	backoff := w.retry.InitialBackoff

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := w.client.InsertRows(ctx, table, rows)
		if err == nil {
			return nil
		}

		attempts++
		if attempts >= w.retry.MaxAttempts || !isRetryableBigQueryError(err) {
			return fmt.Errorf("insert %s rows: %w", table, err)
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		timer.Stop()

		backoff = minDuration(backoff*2, w.retry.MaximumBackoff)
	}
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}

func isRetryableBigQueryError(err error) bool {
	if err == nil {
		return false
	}

	var pme cbigquery.PutMultiError
	if errors.As(err, &pme) {
		if len(pme) == 0 {
			return false
		}
		for _, rowErr := range pme {
			if !isRetryableBigQueryError(rowErr.Errors) {
				return false
			}
		}
		return true
	}

	var multi cbigquery.MultiError
	if errors.As(err, &multi) {
		if len(multi) == 0 {
			return false
		}
		for _, inner := range multi {
			if !isRetryableBigQueryError(inner) {
				return false
			}
		}
		return true
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return isRetryableHTTPCode(apiErr.Code)
	}

	var statusErr interface{ GRPCStatus() *status.Status }
	if errors.As(err, &statusErr) {
		if st := statusErr.GRPCStatus(); st != nil {
			return isRetryableGRPCCode(st.Code())
		}
	}

	return false
}

func isRetryableHTTPCode(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusRequestTimeout,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

func isRetryableGRPCCode(code codes.Code) bool {
	switch code {
	case codes.Aborted,
		codes.DeadlineExceeded,
		codes.Internal,
		codes.ResourceExhausted,
		codes.Unavailable:
		return true
	default:
		return false
	}
}

// EncodeJSON serializes a value for a BigQuery JSON column.
func EncodeJSON(payload any) (cbigquery.NullJSON, error) {
	if payload == nil {
		return cbigquery.NullJSON{}, nil
	}
	marshaled, err := json.Marshal(payload)
	if err != nil {
		return cbigquery.NullJSON{}, fmt.Errorf("marshal json: %w", err)
	}
	return cbigquery.NullJSON{Valid: true, JSONVal: string(marshaled)}, nil
}
