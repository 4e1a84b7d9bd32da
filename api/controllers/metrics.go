package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/packfinderz-metrics/api/responses"
	"github.com/angelmondragon/packfinderz-metrics/api/validators"
	"github.com/angelmondragon/packfinderz-metrics/internal/query"
	"github.com/angelmondragon/packfinderz-metrics/internal/validation"
	"github.com/angelmondragon/packfinderz-metrics/pkg/enums"
	pkgerrors "github.com/angelmondragon/packfinderz-metrics/pkg/errors"
	"github.com/angelmondragon/packfinderz-metrics/pkg/logger"
	"github.com/angelmondragon/packfinderz-metrics/pkg/pagination"
)

const maxKeyLen = 128

// QueryService is the read side the controllers depend on.
type QueryService interface {
	Mart(ctx context.Context, req query.MartRequest) (*query.MartResult, error)
	Fact(ctx context.Context, req query.FactRequest) (*query.FactResult, error)
	Build(ctx context.Context, id uuid.UUID) (*query.BuildInfo, error)
	Validations(ctx context.Context, f validation.Filter) (*query.ValidationResult, error)
	Parameters(ctx context.Context, kind enums.ParameterKind, key *string) (*query.ParameterResult, error)
}

// MartGet serves GET /v1/marts/{mart}?period=YYYY-MM plus grain filters such
// as channel=paid.
func MartGet(svc QueryService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		period, err := validators.ParseQueryMonth(r, "period")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		filters := map[string]string{}
		for key, values := range r.URL.Query() {
			if key == "period" || len(values) == 0 {
				continue
			}
			filters[key] = validators.Sanitize(values[0], maxKeyLen)
		}

		res, err := svc.Mart(ctx, query.MartRequest{
			Mart:    chi.URLParam(r, "mart"),
			Period:  period,
			Filters: filters,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		writeBuildHeaders(w, &res.Build)
		responses.WriteSuccess(w, res)
	}
}

// FactGet serves GET /v1/facts/{fact}?period=YYYY-MM&month=YYYY-MM.
func FactGet(svc QueryService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		period, err := validators.ParseQueryMonth(r, "period")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		month, err := validators.ParseQueryMonth(r, "month")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		res, err := svc.Fact(ctx, query.FactRequest{Fact: chi.URLParam(r, "fact"), Period: period, Month: month})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		writeBuildHeaders(w, &res.Build)
		responses.WriteSuccess(w, res)
	}
}

// BuildGet serves GET /v1/builds/{buildId}.
func BuildGet(svc QueryService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		id, err := validators.ParseUUID(chi.URLParam(r, "buildId"), "buildId")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		info, err := svc.Build(ctx, id)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		writeBuildHeaders(w, info)
		responses.WriteSuccess(w, info)
	}
}

// ValidationList serves GET /v1/validations?build_id=&check=&from=&to=&limit=&cursor=.
func ValidationList(svc QueryService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		q := r.URL.Query()

		filter := validation.Filter{CheckName: validators.Sanitize(q.Get("check"), maxKeyLen)}
		if raw := strings.TrimSpace(q.Get("build_id")); raw != "" {
			id, err := validators.ParseUUID(raw, "build_id")
			if err != nil {
				responses.WriteError(ctx, logg, w, err)
				return
			}
			filter.BuildID = &id
		}
		var err error
		if filter.From, err = validators.ParseQueryTime(r, "from"); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if filter.To, err = validators.ParseQueryTime(r, "to"); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if filter.Limit, err = validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if filter.Cursor, err = pagination.ParseCursor(q.Get("cursor")); err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor"))
			return
		}

		res, err := svc.Validations(ctx, filter)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if res.Build != nil {
			writeBuildHeaders(w, res.Build)
		}
		responses.WriteSuccess(w, res)
	}
}

// ParameterHistory serves GET /v1/parameters/{kind}?key=.
func ParameterHistory(svc QueryService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		var key *string
		if raw := validators.Sanitize(r.URL.Query().Get("key"), maxKeyLen); raw != "" {
			key = &raw
		}
		res, err := svc.Parameters(ctx, enums.ParameterKind(strings.ToLower(chi.URLParam(r, "kind"))), key)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if res.Build != nil {
			writeBuildHeaders(w, res.Build)
		}
		responses.WriteSuccess(w, res)
	}
}

func writeBuildHeaders(w http.ResponseWriter, info *query.BuildInfo) {
	responses.SetBuildHeaders(w, info.ID.String(), string(info.Status), info.Stale)
}
