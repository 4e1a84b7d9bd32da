package staging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	cloudbigquery "cloud.google.com/go/bigquery"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"
	"gorm.io/gorm"

	"github.com/angelmondragon/packfinderz-metrics/pkg/bigquery"
	"github.com/angelmondragon/packfinderz-metrics/pkg/db/models"
	"github.com/angelmondragon/packfinderz-metrics/pkg/enums"
	pkgerrors "github.com/angelmondragon/packfinderz-metrics/pkg/errors"
)

// Loader reads every raw record that occurred strictly before until.
type Loader interface {
	Load(ctx context.Context, until time.Time) ([]RawRecord, error)
}

// MemoryLoader serves a fixed record set. Used by tests and dry runs.
type MemoryLoader struct {
	Records []RawRecord
}

// Load returns the records whose timestamp is unknown or before until; the
// normalizer reports the malformed ones.
func (m MemoryLoader) Load(_ context.Context, until time.Time) ([]RawRecord, error) {
	out := make([]RawRecord, 0, len(m.Records))
	for _, rec := range m.Records {
		reader := newFieldReader(rec.Fields)
		if _, v, ok := reader.lookup(timestampKeys...); ok {
			if ts, err := asTime(v); err == nil && !ts.Before(until) {
				continue
			}
		}
		out = append(out, rec)
	}
	return out, nil
}

// GormLoader reads landed records from the raw_events table.
type GormLoader struct {
	db *gorm.DB
}

// NewGormLoader constructs a loader over the raw_events table.
func NewGormLoader(db *gorm.DB) *GormLoader {
	return &GormLoader{db: db}
}

// Load implements Loader.
func (g *GormLoader) Load(ctx context.Context, until time.Time) ([]RawRecord, error) {
	var rows []models.RawEvent
	err := g.db.WithContext(ctx).
		Where("occurred_at < ?", until.UTC()).
		Order("source ASC").Order("occurred_at ASC").Order("external_id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load raw events")
	}

	out := make([]RawRecord, 0, len(rows))
	for _, row := range rows {
		fields, err := decodePayload(row.Payload)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeSchema, err, "decode raw event payload").
				WithDetails(map[string]any{"source": row.Source, "external_id": row.ExternalID})
		}
		if _, ok := fields["event_id"]; !ok {
			fields["event_id"] = row.ExternalID
		}
		out = append(out, RawRecord{Source: row.Source, Fields: fields})
	}
	return out, nil
}

// Append lands records into raw_events. Each record needs a timestamp and an id.
func (g *GormLoader) Append(ctx context.Context, records []RawRecord) error {
	rows := make([]models.RawEvent, 0, len(records))
	for i, rec := range records {
		reader := newFieldReader(rec.Fields)
		externalID := reader.str(true, idKeys[rec.Source]...)
		occurredAt := reader.timestamp(timestampKeys...)
		if !reader.ok() {
			return schemaError(rec.Source, i, reader)
		}
		payload, err := json.Marshal(rec.Fields)
		if err != nil {
			return fmt.Errorf("encode raw event: %w", err)
		}
		rows = append(rows, models.RawEvent{
			ID:         uuid.New(),
			Source:     rec.Source,
			ExternalID: externalID,
			Payload:    payload,
			OccurredAt: occurredAt,
		})
	}
	if len(rows) == 0 {
		return nil
	}
	return g.db.WithContext(ctx).CreateInBatches(rows, 500).Error
}

func decodePayload(payload []byte) (map[string]any, error) {
	decoder := json.NewDecoder(bytes.NewReader(payload))
	decoder.UseNumber()
	fields := map[string]any{}
	if err := decoder.Decode(&fields); err != nil {
		return nil, err
	}
	return fields, nil
}

const rawTableSQL = "SELECT TO_JSON_STRING(t) AS payload FROM %s AS t WHERE t.occurred_at < @until"

type rowIterator interface {
	Next(dst any) error
}

type queryFunc func(ctx context.Context, sql string, params []cloudbigquery.QueryParameter) (rowIterator, error)

// BigQueryLoader reads one raw table per source from the warehouse.
type BigQueryLoader struct {
	query    queryFunc
	tableRef func(source enums.Source) string
}

// NewBigQueryLoader reads from `<project>.<dataset>.<raw prefix><source>`.
func NewBigQueryLoader(client *bigquery.Client) *BigQueryLoader {
	return &BigQueryLoader{
		query: func(ctx context.Context, sql string, params []cloudbigquery.QueryParameter) (rowIterator, error) {
			it, err := client.Query(ctx, sql, params)
			if err != nil {
				return nil, err
			}
			return it, nil
		},
		tableRef: func(source enums.Source) string {
			return client.TableRef(client.RawTable(string(source)))
		},
	}
}

// Load implements Loader.
func (b *BigQueryLoader) Load(ctx context.Context, until time.Time) ([]RawRecord, error) {
	params := []cloudbigquery.QueryParameter{{Name: "until", Value: until.UTC()}}
	out := []RawRecord{}
	for _, source := range enums.Sources() {
		iter, err := b.query(ctx, fmt.Sprintf(rawTableSQL, b.tableRef(source)), params)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "query raw "+string(source))
		}
		for {
			var row struct {
				Payload string `bigquery:"payload"`
			}
			if err := iter.Next(&row); err != nil {
				if err == iterator.Done {
					break
				}
				return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read raw "+string(source))
			}
			fields, err := decodePayload([]byte(row.Payload))
			if err != nil {
				return nil, pkgerrors.Wrap(pkgerrors.CodeSchema, err, "decode raw "+string(source))
			}
			out = append(out, RawRecord{Source: source, Fields: fields})
		}
	}
	return out, nil
}
