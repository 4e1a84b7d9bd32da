package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/angelmondragon/packfinderz-metrics/internal/builds"
	"github.com/angelmondragon/packfinderz-metrics/internal/export"
	"github.com/angelmondragon/packfinderz-metrics/internal/marts"
	"github.com/angelmondragon/packfinderz-metrics/internal/params"
	"github.com/angelmondragon/packfinderz-metrics/internal/staging"
	"github.com/angelmondragon/packfinderz-metrics/internal/types"
	"github.com/angelmondragon/packfinderz-metrics/internal/validation"
	"github.com/angelmondragon/packfinderz-metrics/pkg/bigquery"
	"github.com/angelmondragon/packfinderz-metrics/pkg/config"
	"github.com/angelmondragon/packfinderz-metrics/pkg/db"
	"github.com/angelmondragon/packfinderz-metrics/pkg/enums"
	pkgerrors "github.com/angelmondragon/packfinderz-metrics/pkg/errors"
	"github.com/angelmondragon/packfinderz-metrics/pkg/instance"
	"github.com/angelmondragon/packfinderz-metrics/pkg/logger"
	"github.com/angelmondragon/packfinderz-metrics/pkg/metrics"
	"github.com/angelmondragon/packfinderz-metrics/pkg/migrate"
	"github.com/angelmondragon/packfinderz-metrics/pkg/pubsub"
	"github.com/angelmondragon/packfinderz-metrics/pkg/redis"
)

const serviceName = "metrics-build"

func main() {
	logg := logger.New(logger.Options{ServiceName: serviceName})

	period := flag.String("period", previousMonth(time.Now()).String(), "period to build (YYYY-MM)")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: serviceName,
		Level:       cfg.App.LogLevel,
		WarnStack:   cfg.App.LogWarnStack,
	})

	month, err := types.ParseMonth(*period)
	if err != nil {
		logg.Error(context.Background(), "invalid -period", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"instance": instance.GetID(),
		"source":   cfg.Build.Source,
	})

	os.Exit(run(ctx, cfg, logg, month))
}

// run wires one build and returns the process exit code: 0 published, 1
// failed, 3 another build held the period until the deadline.
func run(ctx context.Context, cfg *config.Config, logg *logger.Logger, period types.Month) int {
	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap database", err)
		return 1
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(ctx, "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		logg.Error(ctx, "failed to run dev migrations", err)
		return 1
	}

	catalog := marts.MustDefaultCatalog()

	var locker builds.Locker = builds.NewLocalLocker()
	if cfg.Redis.Enabled() {
		redisClient, err := redis.New(ctx, cfg.Redis, logg)
		if err != nil {
			logg.Error(ctx, "failed to bootstrap redis", err)
			return 1
		}
		defer redisClient.Close()
		locker = builds.NewRedisLocker(redisClient, cfg.Build.LockTTL)
	} else {
		logg.Warn(ctx, "redis not configured, build lock is process-local")
	}

	var bq *bigquery.Client
	useWarehouse := strings.EqualFold(cfg.Build.Source, config.BuildSourceBigQuery)
	if useWarehouse || cfg.Features.ExportMarts {
		var rawSources []string
		if useWarehouse {
			for _, s := range enums.Sources() {
				rawSources = append(rawSources, s.String())
			}
		}
		bq, err = bigquery.NewClient(ctx, cfg.GCP, cfg.BigQuery, rawSources, logg)
		if err != nil {
			logg.Error(ctx, "failed to bootstrap bigquery", err)
			return 1
		}
		defer bq.Close()
	}

	var loader staging.Loader = staging.NewGormLoader(dbClient.DB())
	if useWarehouse {
		loader = staging.NewBigQueryLoader(bq)
	}

	registry, err := validation.LoadRegistry(cfg.Validation.RegistryPath)
	if err != nil {
		logg.Error(ctx, "failed to load invariant registry", err)
		return 1
	}

	paramsSvc, err := params.NewService(dbClient)
	if err != nil {
		logg.Error(ctx, "failed to create parameter service", err)
		return 1
	}

	deps := builds.Deps{
		DB:        dbClient,
		Params:    paramsSvc,
		Loader:    loader,
		Catalog:   catalog,
		Validator: validation.NewEngine(registry),
		Locker:    locker,
		Logger:    logg,
		Config: builds.Config{
			LockPoll: cfg.Build.LockPollInterval,
			Timeout:  cfg.Build.Timeout,
		},
	}

	if cfg.Features.ExportMarts {
		writer, err := export.NewMartWriter(bq, export.Config{BatchSize: cfg.BigQuery.ExportBatchSize})
		if err != nil {
			logg.Error(ctx, "failed to create mart writer", err)
			return 1
		}
		if err := writer.Prepare(ctx, catalog.Names()); err != nil {
			logg.Error(ctx, "failed to prepare export tables", err)
			return 1
		}
		deps.Exporter = writer
	}

	if cfg.Features.NotifyOnPublish {
		psClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
		if err != nil {
			logg.Error(ctx, "failed to bootstrap pubsub", err)
			return 1
		}
		defer psClient.Close()
		notifier, err := export.NewNotifier(psClient.BuildsPublisher())
		if err != nil {
			logg.Error(ctx, "failed to create build notifier", err)
			return 1
		}
		deps.Notifier = notifier
	}

	registryMetrics := prometheus.NewRegistry()
	deps.Metrics = metrics.NewBuildMetrics(registryMetrics)
	defer pushMetrics(ctx, cfg.Metrics, registryMetrics, period, logg)

	svc, err := builds.NewService(deps)
	if err != nil {
		logg.Error(ctx, "failed to create build service", err)
		return 1
	}

	outcome, err := svc.Run(ctx, period)
	switch {
	case err == nil:
		fmt.Printf("build %s published for %s (%s, fingerprint %s)\n",
			outcome.Build.ID, period, outcome.Build.Status, outcome.Fingerprint)
		return 0
	case pkgerrors.Is(err, pkgerrors.CodeBuildInProgress):
		logg.Warn(ctx, "another build still holds the period")
		return 3
	default:
		if outcome != nil && outcome.Build != nil {
			fmt.Fprintf(os.Stderr, "build %s failed at %s: %v\n", outcome.Build.ID, outcome.Build.FailedStage, err)
		}
		if errors.Is(err, context.Canceled) {
			logg.Warn(ctx, "build interrupted")
		}
		return 1
	}
}

func pushMetrics(ctx context.Context, cfg config.MetricsConfig, g prometheus.Gatherer, period types.Month, logg *logger.Logger) {
	if cfg.PushgatewayURL == "" {
		return
	}
	err := push.New(cfg.PushgatewayURL, serviceName).
		Gatherer(g).
		Grouping("period", period.String()).
		PushContext(context.WithoutCancel(ctx))
	if err != nil {
		logg.Error(ctx, "push build metrics", err)
	}
}

func previousMonth(now time.Time) types.Month {
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return types.MonthOf(first.AddDate(0, -1, 0))
}
