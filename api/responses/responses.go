// Package responses writes the JSON envelopes of the query API.
package responses

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	pkgerrors "github.com/angelmondragon/packfinderz-metrics/pkg/errors"
	"github.com/angelmondragon/packfinderz-metrics/pkg/logger"
	"github.com/angelmondragon/packfinderz-metrics/pkg/types"
)

// Headers mirrored from the build an answer was read from.
const (
	HeaderBuildID     = "X-Metrics-Build-Id"
	HeaderBuildStatus = "X-Metrics-Build-Status"
	HeaderBuildStale  = "X-Metrics-Stale"

	// HeaderRequestID is set by the request id middleware before handlers run.
	HeaderRequestID = "X-Request-Id"
)

const retryAfterSeconds = "30"

func WriteSuccess(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, types.SuccessEnvelope{Data: data})
}

// SetBuildHeaders exposes build identity and staleness without parsing the body.
func SetBuildHeaders(w http.ResponseWriter, buildID, status string, stale bool) {
	w.Header().Set(HeaderBuildID, buildID)
	w.Header().Set(HeaderBuildStatus, status)
	w.Header().Set(HeaderBuildStale, strconv.FormatBool(stale))
}

// WriteError maps err to its code's status. Uncoded errors become
// INTERNAL_ERROR; server-side failures are logged with the unwrapped chain.
func WriteError(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}
	typed := pkgerrors.As(err)
	if typed == nil {
		typed = pkgerrors.Wrap(pkgerrors.CodeInternal, err, "unexpected error")
	}
	meta := pkgerrors.MetadataFor(typed.Code())

	apiErr := types.APIError{
		Code:      string(typed.Code()),
		Message:   meta.PublicMessage,
		Retryable: meta.Retryable,
	}
	if m := typed.Message(); meta.ExposeMessage && m != "" {
		apiErr.Message = m
	}
	if meta.DetailsAllowed {
		apiErr.Details = typed.Details()
	}

	if meta.HTTPStatus >= http.StatusInternalServerError && logg != nil {
		dump := pkgerrors.Dump(err)
		logg.Error(logg.WithFields(ctx, map[string]any{
			"error_chain":   dump.Chain,
			"pg_code":       dump.PGCode,
			"pg_table":      dump.PGTable,
			"pg_constraint": dump.PGConstraint,
		}), "request.error", err)
	}
	if meta.Retryable && meta.HTTPStatus != http.StatusInternalServerError {
		w.Header().Set("Retry-After", retryAfterSeconds)
	}

	writeJSON(w, meta.HTTPStatus, types.ErrorEnvelope{
		Error:     apiErr,
		RequestID: w.Header().Get(HeaderRequestID),
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Headers are already sent.
	_ = json.NewEncoder(w).Encode(payload)
}
