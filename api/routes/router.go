package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/packfinderz-metrics/api/controllers"
	"github.com/angelmondragon/packfinderz-metrics/api/middleware"
	"github.com/angelmondragon/packfinderz-metrics/pkg/config"
	"github.com/angelmondragon/packfinderz-metrics/pkg/logger"
	"github.com/angelmondragon/packfinderz-metrics/pkg/metrics"
)

// Deps collects what the router needs. Ready lists the dependencies probed by
// /health/ready; Gatherer backs /metrics and may be nil.
type Deps struct {
	Config   *config.Config
	Logger   *logger.Logger
	Query    controllers.QueryService
	Ready    map[string]controllers.Pinger
	Gatherer prometheus.Gatherer
	HTTP     *metrics.HTTPMetrics
}

func NewRouter(deps Deps) http.Handler {
	logg := deps.Logger
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID(logg),
		middleware.Logging(logg, deps.HTTP),
		middleware.Recoverer(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(deps.Config))
		r.Get("/ready", controllers.HealthReady(deps.Config, logg, deps.Ready))
	})

	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/v1", func(r chi.Router) {
		r.Get("/marts/{mart}", controllers.MartGet(deps.Query, logg))
		r.Get("/facts/{fact}", controllers.FactGet(deps.Query, logg))
		r.Get("/builds/{buildId}", controllers.BuildGet(deps.Query, logg))
		r.Get("/validations", controllers.ValidationList(deps.Query, logg))
		r.Get("/parameters/{kind}", controllers.ParameterHistory(deps.Query, logg))
	})

	return r
}
