// Package query serves published facts and marts to read-only consumers.
//
// Every answer names the build it was read from. When a newer attempt for the
// same period failed or is still running, the answer is marked stale and keeps
// serving the last published build.
package query

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/packfinderz-metrics/internal/builds"
	"github.com/angelmondragon/packfinderz-metrics/internal/marts"
	"github.com/angelmondragon/packfinderz-metrics/internal/params"
	"github.com/angelmondragon/packfinderz-metrics/internal/types"
	"github.com/angelmondragon/packfinderz-metrics/internal/validation"
	"github.com/angelmondragon/packfinderz-metrics/pkg/db/models"
	"github.com/angelmondragon/packfinderz-metrics/pkg/enums"
	pkgerrors "github.com/angelmondragon/packfinderz-metrics/pkg/errors"
)

var factTables = map[string]struct{}{
	types.TableFactRevenue:          {},
	types.TableFactRecurringRevenue: {},
	types.TableFactMarketingSpend:   {},
	types.TableFactCustomerLTV:      {},
}

// Attempt summarizes the newest build of a period when it differs from the
// served one.
type Attempt struct {
	ID          uuid.UUID         `json:"build_id"`
	Status      enums.BuildStatus `json:"status"`
	FailedStage string            `json:"failed_stage,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// BuildInfo describes the build an answer was read from.
type BuildInfo struct {
	ID              uuid.UUID         `json:"build_id"`
	Period          string            `json:"period"`
	Status          enums.BuildStatus `json:"status"`
	Published       bool              `json:"published"`
	Fingerprint     string            `json:"fingerprint,omitempty"`
	ParamSnapshotAt time.Time         `json:"param_snapshot_at"`
	PublishedAt     *time.Time        `json:"published_at,omitempty"`
	FailedStage     string            `json:"failed_stage,omitempty"`
	Error           string            `json:"error,omitempty"`
	Stale           bool              `json:"stale"`
	LatestAttempt   *Attempt          `json:"latest_attempt,omitempty"`
}

// MartRequest selects one mart. An empty Period reads the newest published
// period. Filters match grain dimensions exactly.
type MartRequest struct {
	Mart    string
	Period  types.Month
	Filters map[string]string
}

// MartRecord is one mart row.
type MartRecord struct {
	Dims    map[string]string              `json:"dims"`
	Metrics map[string]decimal.NullDecimal `json:"metrics"`
}

// MartResult is a mart read from a published build.
type MartResult struct {
	Build BuildInfo    `json:"build"`
	Mart  string       `json:"mart"`
	Grain []string     `json:"grain"`
	Rows  []MartRecord `json:"rows"`
}

// FactRequest selects one fact table, optionally restricted to a month.
type FactRequest struct {
	Fact   string
	Period types.Month
	Month  types.Month
}

// FactResult is a fact table read from a published build.
type FactResult struct {
	Build BuildInfo         `json:"build"`
	Fact  string            `json:"fact"`
	Rows  []json.RawMessage `json:"rows"`
}

// ValidationResult lists check results, with the build when one was named.
// NextCursor continues the listing when more results match.
type ValidationResult struct {
	Build      *BuildInfo          `json:"build,omitempty"`
	Results    []validation.Result `json:"results"`
	NextCursor string              `json:"next_cursor,omitempty"`
}

// ParameterResult lists parameter history next to the newest published build.
type ParameterResult struct {
	Build    *BuildInfo       `json:"build,omitempty"`
	Versions []params.Version `json:"versions"`
}

// Service answers read-only queries.
type Service struct {
	db          *gorm.DB
	builds      *builds.Repository
	validations *validation.Repository
	params      params.Service
	catalog     *marts.Catalog
}

// NewService wires the read side.
func NewService(db *gorm.DB, paramsSvc params.Service, catalog *marts.Catalog) (*Service, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	if paramsSvc == nil {
		return nil, errors.New("parameter service is required")
	}
	if catalog == nil {
		catalog = marts.MustDefaultCatalog()
	}
	return &Service{
		db:          db,
		builds:      builds.NewRepository(db),
		validations: validation.NewRepository(db),
		params:      paramsSvc,
		catalog:     catalog,
	}, nil
}

// Mart returns the rows of a mart from the served build.
func (s *Service) Mart(ctx context.Context, req MartRequest) (*MartResult, error) {
	def, ok := s.catalog.Definition(req.Mart)
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "unknown mart").
			WithDetails(map[string]any{"mart": req.Mart, "available": s.catalog.Names()})
	}
	for col := range req.Filters {
		if !contains(def.Grain, col) {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "filter is not a grain column").
				WithDetails(map[string]any{"filter": col, "grain": def.Grain})
		}
	}

	info, err := s.served(ctx, req.Period)
	if err != nil {
		return nil, err
	}

	var cells []models.MartMetricValue
	if err := s.db.WithContext(ctx).
		Where("build_id = ? AND mart = ?", info.ID, def.Name).
		Order("grain_key ASC").Order("metric ASC").
		Find(&cells).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read mart")
	}

	byKey := map[string]*MartRecord{}
	keys := []string{}
	for _, cell := range cells {
		rec, ok := byKey[cell.GrainKey]
		if !ok {
			dims := map[string]string{}
			if err := json.Unmarshal(cell.Dims, &dims); err != nil {
				return nil, fmt.Errorf("decode %s dims: %w", def.Name, err)
			}
			rec = &MartRecord{Dims: dims, Metrics: map[string]decimal.NullDecimal{}}
			byKey[cell.GrainKey] = rec
			keys = append(keys, cell.GrainKey)
		}
		rec.Metrics[cell.Metric] = cell.Value
	}
	sort.Strings(keys)

	out := &MartResult{Build: *info, Mart: def.Name, Grain: def.Grain, Rows: []MartRecord{}}
	for _, key := range keys {
		rec := byKey[key]
		if matches(rec.Dims, req.Filters) {
			out.Rows = append(out.Rows, *rec)
		}
	}
	return out, nil
}

// Fact returns the rows of a fact table from the served build.
func (s *Service) Fact(ctx context.Context, req FactRequest) (*FactResult, error) {
	if _, ok := factTables[req.Fact]; !ok {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "unknown fact table").
			WithDetails(map[string]any{"fact": req.Fact})
	}
	info, err := s.served(ctx, req.Period)
	if err != nil {
		return nil, err
	}

	q := s.db.WithContext(ctx).Where("build_id = ? AND table_name = ?", info.ID, req.Fact)
	if req.Month != "" {
		q = q.Where("month = ?", req.Month.String())
	}
	var rows []models.FactRow
	if err := q.Order("grain_key ASC").Find(&rows).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read facts")
	}

	out := &FactResult{Build: *info, Fact: req.Fact, Rows: make([]json.RawMessage, 0, len(rows))}
	for _, row := range rows {
		out.Rows = append(out.Rows, row.Payload)
	}
	return out, nil
}

// Build returns one build with the staleness of its period.
func (s *Service) Build(ctx context.Context, id uuid.UUID) (*BuildInfo, error) {
	build, err := s.builds.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	latest, err := s.builds.Latest(ctx, types.Month(build.Period))
	if err != nil {
		return nil, err
	}
	return describe(build, latest), nil
}

// Validations lists one page of check results matching f.
func (s *Service) Validations(ctx context.Context, f validation.Filter) (*ValidationResult, error) {
	out := &ValidationResult{}
	if f.BuildID != nil {
		info, err := s.Build(ctx, *f.BuildID)
		if err != nil {
			return nil, err
		}
		out.Build = info
	}
	page, err := s.validations.Page(ctx, f)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read validation results")
	}
	out.Results = page.Results
	out.NextCursor = page.NextCursor
	return out, nil
}

// Parameters lists the version history of a parameter kind, optionally for
// one key.
func (s *Service) Parameters(ctx context.Context, kind enums.ParameterKind, key *string) (*ParameterResult, error) {
	if !kind.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown parameter kind").
			WithDetails(map[string]any{"kind": kind})
	}
	versions, err := s.params.History(ctx, kind, key)
	if err != nil {
		return nil, err
	}
	out := &ParameterResult{Versions: versions}
	if info, err := s.served(ctx, ""); err == nil {
		out.Build = info
	} else if !pkgerrors.Is(err, pkgerrors.CodeNotFound) {
		return nil, err
	}
	return out, nil
}

// served resolves the published build readers see for period, or for the
// newest published period when period is empty.
func (s *Service) served(ctx context.Context, period types.Month) (*BuildInfo, error) {
	var (
		build *models.Build
		err   error
	)
	if period == "" {
		build, err = s.builds.LatestPublishedAny(ctx)
	} else {
		if _, perr := types.ParseMonth(period.String()); perr != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, perr, "invalid period")
		}
		build, err = s.builds.LatestPublished(ctx, period)
	}
	if err != nil {
		return nil, err
	}
	latest, err := s.builds.Latest(ctx, types.Month(build.Period))
	if err != nil {
		return nil, err
	}
	return describe(build, latest), nil
}

func describe(build, latest *models.Build) *BuildInfo {
	info := &BuildInfo{
		ID:              build.ID,
		Period:          build.Period,
		Status:          build.Status,
		Published:       build.Published,
		Fingerprint:     build.Fingerprint,
		ParamSnapshotAt: build.ParamSnapshotAt.UTC(),
		PublishedAt:     build.PublishedAt,
		FailedStage:     build.FailedStage,
		Error:           build.Error,
	}
	if latest != nil && latest.ID != build.ID {
		info.Stale = true
		info.LatestAttempt = &Attempt{
			ID:          latest.ID,
			Status:      latest.Status,
			FailedStage: latest.FailedStage,
			CreatedAt:   latest.CreatedAt.UTC(),
		}
	}
	return info
}

func matches(dims, filters map[string]string) bool {
	for col, want := range filters {
		if dims[col] != want {
			return false
		}
	}
	return true
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}
