package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// BuildMetrics records stage timings, build outcomes and failed checks.
type BuildMetrics struct {
	stageDuration *prometheus.HistogramVec
	stageFailure  *prometheus.CounterVec
	buildOutcome  *prometheus.CounterVec
	failedChecks  *prometheus.CounterVec
}

// NewBuildMetrics registers the build metrics on the provided registerer.
func NewBuildMetrics(reg prometheus.Registerer) *BuildMetrics {
	if reg == nil {
		return &BuildMetrics{}
	}
	stageDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "metrics_stage_duration_seconds",
		Help:    "Duration of derivation stages in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"stage"})
	stageFailure := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "metrics_stage_failure_total",
		Help: "Derivation stages that returned an error.",
	}, []string{"stage"})
	buildOutcome := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "metrics_build_total",
		Help: "Finished builds by final status.",
	}, []string{"status"})
	failedChecks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "metrics_check_failure_total",
		Help: "Failed validation checks by check and severity.",
	}, []string{"check", "severity"})
	reg.MustRegister(stageDuration, stageFailure, buildOutcome, failedChecks)
	return &BuildMetrics{
		stageDuration: stageDuration,
		stageFailure:  stageFailure,
		buildOutcome:  buildOutcome,
		failedChecks:  failedChecks,
	}
}

// ObserveStage records the duration of a stage and counts it as failed when err is set.
func (b *BuildMetrics) ObserveStage(stage string, duration time.Duration, err error) {
	if b == nil || b.stageDuration == nil {
		return
	}
	b.stageDuration.WithLabelValues(normalizeLabel(stage)).Observe(duration.Seconds())
	if err != nil {
		b.stageFailure.WithLabelValues(normalizeLabel(stage)).Inc()
	}
}

// IncBuild counts a finished build.
func (b *BuildMetrics) IncBuild(status string) {
	if b == nil || b.buildOutcome == nil {
		return
	}
	b.buildOutcome.WithLabelValues(normalizeLabel(status)).Inc()
}

// IncFailedCheck counts a failed validation check.
func (b *BuildMetrics) IncFailedCheck(check, severity string) {
	if b == nil || b.failedChecks == nil {
		return
	}
	b.failedChecks.WithLabelValues(normalizeLabel(check), normalizeLabel(severity)).Inc()
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
