package responses

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	pkgerrors "github.com/angelmondragon/packfinderz-metrics/pkg/errors"
	"github.com/angelmondragon/packfinderz-metrics/pkg/logger"
	"github.com/angelmondragon/packfinderz-metrics/pkg/types"
)

func decodeError(t *testing.T, w *httptest.ResponseRecorder) types.ErrorEnvelope {
	t.Helper()
	var body types.ErrorEnvelope
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error envelope: %v", err)
	}
	return body
}

func TestWriteSuccess(t *testing.T) {
	w := httptest.NewRecorder()
	WriteSuccess(w, map[string]string{"mart": "mart_revenue_monthly"})

	if got := w.Code; got != http.StatusOK {
		t.Fatalf("expected status 200 but got %d", got)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("unexpected content type %q", ct)
	}
	var body types.SuccessEnvelope
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode success envelope: %v", err)
	}
	if body.Data.(map[string]any)["mart"] != "mart_revenue_monthly" {
		t.Fatalf("unexpected payload %v", body.Data)
	}
}

func TestWriteErrorExposesDerivationFailures(t *testing.T) {
	w := httptest.NewRecorder()
	w.Header().Set(HeaderRequestID, "req-1")
	err := pkgerrors.New(pkgerrors.CodeMissingParameter, "no product_cost for sku-9").
		WithDetails(map[string]string{"key": "sku-9"})
	WriteError(context.Background(), logger.Nop(), w, err)

	if got := w.Code; got != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422 but got %d", got)
	}
	body := decodeError(t, w)
	if body.Error.Code != string(pkgerrors.CodeMissingParameter) {
		t.Fatalf("unexpected code %s", body.Error.Code)
	}
	if body.Error.Message != "no product_cost for sku-9" {
		t.Fatalf("unexpected message %q", body.Error.Message)
	}
	if body.Error.Details == nil || body.Error.Retryable {
		t.Fatalf("unexpected error body %+v", body.Error)
	}
	if body.RequestID != "req-1" {
		t.Fatalf("expected request id, got %q", body.RequestID)
	}
}

func TestWriteErrorMarksRetryableDependencies(t *testing.T) {
	w := httptest.NewRecorder()
	err := pkgerrors.Wrap(pkgerrors.CodeDependency, errors.New("dial tcp: refused"), "read mart")
	WriteError(context.Background(), logger.Nop(), w, err)

	if got := w.Code; got != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503 but got %d", got)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After on a retryable dependency error")
	}
	body := decodeError(t, w)
	if !body.Error.Retryable || body.Error.Message != "dependency unavailable" {
		t.Fatalf("unexpected error body %+v", body.Error)
	}
}

func TestWriteErrorDefaultsToInternalForUncodedErrors(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(context.Background(), nil, w, errors.New("boom"))

	if got := w.Code; got != http.StatusInternalServerError {
		t.Fatalf("expected status 500 but got %d", got)
	}
	if w.Header().Get("Retry-After") != "" {
		t.Fatalf("internal errors carry no Retry-After")
	}
	body := decodeError(t, w)
	if body.Error.Code != string(pkgerrors.CodeInternal) || body.Error.Message != "internal server error" {
		t.Fatalf("unexpected error body %+v", body.Error)
	}
	if body.Error.Details != nil {
		t.Fatalf("internal errors must not leak details")
	}
}

func TestSetBuildHeaders(t *testing.T) {
	w := httptest.NewRecorder()
	SetBuildHeaders(w, "b-1", "PASSED", true)
	if w.Header().Get(HeaderBuildStale) != "true" {
		t.Fatalf("expected stale header, got %q", w.Header().Get(HeaderBuildStale))
	}
	if w.Header().Get(HeaderBuildID) != "b-1" {
		t.Fatalf("unexpected build id header %q", w.Header().Get(HeaderBuildID))
	}
}
