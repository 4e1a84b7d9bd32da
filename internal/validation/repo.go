package validation

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/packfinderz-metrics/pkg/db/models"
	"github.com/angelmondragon/packfinderz-metrics/pkg/pagination"
)

// Filter narrows result queries. Zero fields are ignored.
type Filter struct {
	BuildID   *uuid.UUID
	CheckName string
	From      *time.Time
	To        *time.Time
	Limit     int
	Cursor    *pagination.Cursor
}

// Page is one newest-first slice of results. NextCursor is empty on the last
// page.
type Page struct {
	Results    []Result
	NextCursor string
}

// Repository persists validation results. Rows are never updated.
type Repository struct {
	db *gorm.DB
}

// NewRepository binds the repository to db or a transaction.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Save records every result of a build.
func (r *Repository) Save(ctx context.Context, buildID uuid.UUID, results []Result) error {
	if len(results) == 0 {
		return nil
	}
	rows := make([]models.ValidationResult, 0, len(results))
	for _, res := range results {
		keys, err := json.Marshal(res.OffendingKeys)
		if err != nil {
			return err
		}
		rows = append(rows, models.ValidationResult{
			ID:            uuid.New(),
			BuildID:       buildID,
			CheckName:     res.CheckName,
			Kind:          res.Kind,
			TableName:     res.Table,
			Severity:      res.Severity,
			Outcome:       res.Outcome,
			OffendingKeys: keys,
			Detail:        res.Detail,
			CheckedAt:     res.CheckedAt,
		})
	}
	return r.db.WithContext(ctx).CreateInBatches(&rows, 200).Error
}

// Find lists results matching f, newest first. Filter.Limit of zero returns
// every match.
func (r *Repository) Find(ctx context.Context, f Filter) ([]Result, error) {
	rows, err := r.query(ctx, f, f.Limit)
	if err != nil {
		return nil, err
	}
	return toResults(rows)
}

// Page returns one page of results matching f, continuing after f.Cursor.
func (r *Repository) Page(ctx context.Context, f Filter) (Page, error) {
	limit := pagination.NormalizeLimit(f.Limit)
	rows, err := r.query(ctx, f, pagination.LimitWithBuffer(limit))
	if err != nil {
		return Page{}, err
	}
	var next string
	if len(rows) > limit {
		rows = rows[:limit]
		last := rows[len(rows)-1]
		next = pagination.EncodeCursor(pagination.Cursor{At: last.CheckedAt, ID: last.ID})
	}
	results, err := toResults(rows)
	if err != nil {
		return Page{}, err
	}
	return Page{Results: results, NextCursor: next}, nil
}

func (r *Repository) query(ctx context.Context, f Filter, limit int) ([]models.ValidationResult, error) {
	q := r.db.WithContext(ctx).Model(&models.ValidationResult{})
	if f.BuildID != nil {
		q = q.Where("build_id = ?", *f.BuildID)
	}
	if f.CheckName != "" {
		q = q.Where("check_name = ?", f.CheckName)
	}
	if f.From != nil {
		q = q.Where("checked_at >= ?", f.From.UTC())
	}
	if f.To != nil {
		q = q.Where("checked_at < ?", f.To.UTC())
	}
	if f.Cursor != nil {
		at := f.Cursor.At.UTC()
		q = q.Where("checked_at < ? OR (checked_at = ? AND id < ?)", at, at, f.Cursor.ID)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}

	var rows []models.ValidationResult
	if err := q.Order("checked_at DESC").Order("id DESC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func toResults(rows []models.ValidationResult) ([]Result, error) {
	out := make([]Result, 0, len(rows))
	for _, row := range rows {
		res := Result{
			ID:        row.ID,
			BuildID:   row.BuildID,
			CheckName: row.CheckName,
			Kind:      row.Kind,
			Table:     row.TableName,
			Severity:  row.Severity,
			Outcome:   row.Outcome,
			Detail:    row.Detail,
			CheckedAt: row.CheckedAt.UTC(),
		}
		if len(row.OffendingKeys) > 0 {
			if err := json.Unmarshal(row.OffendingKeys, &res.OffendingKeys); err != nil {
				return nil, err
			}
		}
		out = append(out, res)
	}
	return out, nil
}
