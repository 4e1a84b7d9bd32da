// Package builds runs one derivation build for a period: lock, parameter
// snapshot, staged graph, validation and atomic publish.
package builds

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/packfinderz-metrics/internal/export"
	"github.com/angelmondragon/packfinderz-metrics/internal/marts"
	"github.com/angelmondragon/packfinderz-metrics/internal/params"
	"github.com/angelmondragon/packfinderz-metrics/internal/pipeline"
	"github.com/angelmondragon/packfinderz-metrics/internal/staging"
	"github.com/angelmondragon/packfinderz-metrics/internal/types"
	"github.com/angelmondragon/packfinderz-metrics/internal/validation"
	"github.com/angelmondragon/packfinderz-metrics/pkg/db/models"
	"github.com/angelmondragon/packfinderz-metrics/pkg/enums"
	pkgerrors "github.com/angelmondragon/packfinderz-metrics/pkg/errors"
	"github.com/angelmondragon/packfinderz-metrics/pkg/logger"
	"github.com/angelmondragon/packfinderz-metrics/pkg/metrics"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
	DB() *gorm.DB
}

// MartExporter ships published marts to the warehouse.
type MartExporter interface {
	WriteMarts(ctx context.Context, build export.PublishedBuild, marts map[string][]types.MartRow) error
}

// PublishNotifier announces a published build.
type PublishNotifier interface {
	BuildPublished(ctx context.Context, build export.PublishedBuild) (string, error)
}

// Config tunes the orchestrator.
type Config struct {
	LockPoll time.Duration
	Timeout  time.Duration
}

// Deps collects the collaborators of Service. Exporter, Notifier and Metrics
// are optional.
type Deps struct {
	DB        txRunner
	Params    params.Service
	Loader    staging.Loader
	Catalog   *marts.Catalog
	Validator *validation.Engine
	Locker    Locker
	Exporter  MartExporter
	Notifier  PublishNotifier
	Metrics   *metrics.BuildMetrics
	Logger    *logger.Logger
	Config    Config
}

// Outcome describes a finished build.
type Outcome struct {
	Build       *models.Build
	Report      validation.Report
	Fingerprint string
}

// Service orchestrates builds.
type Service struct {
	db        txRunner
	params    params.Service
	loader    staging.Loader
	catalog   *marts.Catalog
	validator *validation.Engine
	locker    Locker
	exporter  MartExporter
	notifier  PublishNotifier
	metrics   *metrics.BuildMetrics
	logg      *logger.Logger
	cfg       Config
	now       func() time.Time
}

// NewService validates the dependencies.
func NewService(deps Deps) (*Service, error) {
	switch {
	case deps.DB == nil:
		return nil, errors.New("db is required")
	case deps.Params == nil:
		return nil, errors.New("parameter service is required")
	case deps.Loader == nil:
		return nil, errors.New("raw loader is required")
	case deps.Catalog == nil:
		return nil, errors.New("metric catalog is required")
	case deps.Validator == nil:
		return nil, errors.New("validation engine is required")
	case deps.Locker == nil:
		return nil, errors.New("locker is required")
	}
	logg := deps.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &Service{
		db:        deps.DB,
		params:    deps.Params,
		loader:    deps.Loader,
		catalog:   deps.Catalog,
		validator: deps.Validator,
		locker:    deps.Locker,
		exporter:  deps.Exporter,
		notifier:  deps.Notifier,
		metrics:   deps.Metrics,
		logg:      logg,
		cfg:       deps.Config,
		now:       time.Now,
	}, nil
}

// Run builds period. Only one build per period runs at a time; a second call
// waits for the lock. A hard validation failure or stage failure returns the
// failed build together with the error; a soft failure publishes and returns
// no error.
func (s *Service) Run(ctx context.Context, period types.Month) (*Outcome, error) {
	if _, err := types.ParseMonth(period.String()); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid period")
	}
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}
	ctx = s.logg.WithPeriod(ctx, period.String())

	lock, err := s.locker.Lock(period.String())
	if err != nil {
		return nil, err
	}
	if err := waitFor(ctx, lock, s.cfg.LockPoll); err != nil {
		return nil, err
	}
	defer func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			s.logg.Error(ctx, "release build lock", err)
		}
	}()

	return s.run(ctx, period)
}

func (s *Service) run(ctx context.Context, period types.Month) (*Outcome, error) {
	repo := NewRepository(s.db.DB())
	started := s.now().UTC()
	build := &models.Build{
		ID:        uuid.New(),
		Period:    period.String(),
		Status:    enums.BuildStatusPending,
		CreatedAt: started,
	}
	if err := repo.Create(ctx, build); err != nil {
		return nil, err
	}
	ctx = s.logg.WithBuildID(ctx, build.ID.String())
	outcome := &Outcome{Build: build}

	// The snapshot instant is fixed before anything is read.
	snapshot, err := s.params.Snapshot(ctx, started)
	if err != nil {
		return outcome, s.fail(ctx, repo, build, "params", err)
	}
	if err := repo.Transition(ctx, build, enums.BuildStatusRunning, map[string]any{
		"started_at":        timePtr(started),
		"param_snapshot_at": snapshot.At(),
	}); err != nil {
		return outcome, err
	}
	s.logg.Info(ctx, "build started")

	// Sizes frozen by a concurrent build after this read surface as a
	// conflict when publishing.
	frozen, err := marts.NewCohortStore(s.db.DB()).Frozen(ctx)
	if err != nil {
		return outcome, s.fail(ctx, repo, build, "cohort_sizes", err)
	}
	records, err := s.loader.Load(ctx, period.End())
	if err != nil {
		return outcome, s.fail(ctx, repo, build, "load", err)
	}

	graph, err := newGraph(buildInput{
		period:  period,
		records: staging.Partition(records),
		params:  snapshot,
		catalog: s.catalog,
		frozen:  frozen,
	})
	if err != nil {
		return outcome, s.fail(ctx, repo, build, "graph", err)
	}
	result := pipeline.NewRunner(s.logg, s.metrics).Run(ctx, graph)
	if !result.OK() {
		stage, _ := result.FirstFailure()
		cause := result.Err()
		if cause == nil {
			stage = "pipeline"
			cause = pkgerrors.Wrap(pkgerrors.CodeInternal, context.Cause(ctx), "build interrupted")
		}
		return outcome, s.fail(ctx, repo, build, stage, cause)
	}

	d, err := collect(result.Outputs, s.catalog)
	if err != nil {
		return outcome, s.fail(ctx, repo, build, "collect", err)
	}

	report := s.validator.Evaluate(d.tables)
	outcome.Report = report
	if err := validation.NewRepository(s.db.DB()).Save(ctx, build.ID, report.Results); err != nil {
		return outcome, s.fail(ctx, repo, build, "validation", err)
	}
	for _, res := range report.Failures(enums.SeverityHard) {
		s.metrics.IncFailedCheck(res.CheckName, string(res.Severity))
	}
	for _, res := range report.Failures(enums.SeveritySoft) {
		s.metrics.IncFailedCheck(res.CheckName, string(res.Severity))
	}

	if !report.Status.Publishable() {
		verr := report.Err()
		s.finish(ctx, repo, build, enums.BuildStatusFailedHard, map[string]any{
			"failed_stage": "validation",
			"error":        verr.Error(),
		})
		return outcome, verr
	}

	published := d.published()
	fp, err := fingerprint(published)
	if err != nil {
		return outcome, s.fail(ctx, repo, build, "fingerprint", err)
	}
	outcome.Fingerprint = fp

	publishedAt := s.now().UTC()
	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		txRepo := NewRepository(tx)
		if err := txRepo.SaveFacts(ctx, build.ID, published); err != nil {
			return err
		}
		if err := txRepo.SaveMarts(ctx, build.ID, d.marts); err != nil {
			return err
		}
		if err := marts.NewCohortStore(tx).Freeze(ctx, build.ID, d.newSizes, publishedAt); err != nil {
			return err
		}
		updates := map[string]any{
			"fingerprint":  fp,
			"published":    true,
			"published_at": timePtr(publishedAt),
			"finished_at":  timePtr(publishedAt),
		}
		if verr := report.Err(); verr != nil {
			updates["error"] = verr.Error()
		}
		return txRepo.Transition(ctx, build, report.Status, updates)
	})
	if err != nil {
		return outcome, s.fail(ctx, repo, build, "publish", err)
	}
	build.Published = true
	build.PublishedAt = timePtr(publishedAt)
	build.Fingerprint = fp
	s.metrics.IncBuild(string(build.Status))

	ctx = s.logg.WithFields(ctx, map[string]any{"status": build.Status, "fingerprint": fp})
	if report.Status == enums.BuildStatusFailedSoft {
		s.logg.Warn(ctx, "build published with soft invariant failures")
	} else {
		s.logg.Info(ctx, "build published")
	}

	s.afterPublish(ctx, build, d.marts)
	return outcome, nil
}

// afterPublish runs best-effort side effects; the build stays published
// regardless of their outcome.
func (s *Service) afterPublish(ctx context.Context, build *models.Build, martRows map[string][]types.MartRow) {
	info := export.PublishedBuild{
		ID:          build.ID,
		Period:      types.Month(build.Period),
		Status:      string(build.Status),
		Fingerprint: build.Fingerprint,
		PublishedAt: *build.PublishedAt,
	}
	if s.exporter != nil {
		if err := s.exporter.WriteMarts(ctx, info, martRows); err != nil {
			s.logg.Error(ctx, "export marts", err)
		}
	}
	if s.notifier != nil {
		if _, err := s.notifier.BuildPublished(ctx, info); err != nil {
			s.logg.Error(ctx, "notify build published", err)
		}
	}
}

// fail marks the build FAILED_HARD and returns cause.
func (s *Service) fail(ctx context.Context, repo *Repository, build *models.Build, stage string, cause error) error {
	s.logg.Error(s.logg.WithField(ctx, "failed_stage", stage), "build failed", cause)
	s.finish(ctx, repo, build, enums.BuildStatusFailedHard, map[string]any{
		"failed_stage": stage,
		"error":        cause.Error(),
	})
	return cause
}

func (s *Service) finish(ctx context.Context, repo *Repository, build *models.Build, status enums.BuildStatus, updates map[string]any) {
	updates["finished_at"] = timePtr(s.now())
	// Detached from the build deadline.
	if err := repo.Transition(context.WithoutCancel(ctx), build, status, updates); err != nil {
		s.logg.Error(ctx, "record build status", err)
	}
	if stage, ok := updates["failed_stage"].(string); ok {
		build.FailedStage = stage
	}
	if msg, ok := updates["error"].(string); ok {
		build.Error = msg
	}
	s.metrics.IncBuild(string(build.Status))
}
