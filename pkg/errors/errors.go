// Package errors defines the coded errors shared by the build pipeline, the
// CLIs and the query API. A code decides the HTTP status, whether a retry may
// help and how much of the error a caller gets to see.
package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeValidation    Code = "VALIDATION_ERROR"
	CodeNotFound      Code = "NOT_FOUND"
	CodeConflict      Code = "CONFLICT"
	CodeStateConflict Code = "STATE_CONFLICT"
	CodeInternal      Code = "INTERNAL_ERROR"
	CodeDependency    Code = "DEPENDENCY_ERROR"

	// Derivation failures.
	CodeSchema           Code = "SCHEMA_ERROR"
	CodeMissingParameter Code = "MISSING_PARAMETER"
	CodeReconciliation   Code = "RECONCILIATION_FAILED"
	CodeBoundsViolation  Code = "BOUNDS_VIOLATION"
	CodeBuildInProgress  Code = "BUILD_IN_PROGRESS"
)

// Metadata is the public face of a code. ExposeMessage lets the caller see
// the error's own message instead of PublicMessage.
type Metadata struct {
	HTTPStatus     int
	Retryable      bool
	PublicMessage  string
	ExposeMessage  bool
	DetailsAllowed bool
}

var metadataByCode = map[Code]Metadata{
	CodeValidation:       {http.StatusBadRequest, false, "validation failed", true, true},
	CodeNotFound:         {http.StatusNotFound, false, "resource not found", true, true},
	CodeConflict:         {http.StatusConflict, false, "conflict detected", true, false},
	CodeStateConflict:    {http.StatusUnprocessableEntity, false, "state transition disallowed", true, true},
	CodeInternal:         {http.StatusInternalServerError, true, "internal server error", false, false},
	CodeDependency:       {http.StatusServiceUnavailable, true, "dependency unavailable", false, true},
	CodeSchema:           {http.StatusUnprocessableEntity, false, "malformed source record", true, true},
	CodeMissingParameter: {http.StatusUnprocessableEntity, false, "no effective parameter version", true, true},
	CodeReconciliation:   {http.StatusUnprocessableEntity, false, "reconciliation failed", true, true},
	CodeBoundsViolation:  {http.StatusUnprocessableEntity, false, "bounds violated", true, true},
	CodeBuildInProgress:  {http.StatusConflict, true, "a build for this period is in progress", false, false},
}

// MetadataFor falls back to CodeInternal for unknown codes.
func MetadataFor(code Code) Metadata {
	if meta, ok := metadataByCode[code]; ok {
		return meta
	}
	return metadataByCode[CodeInternal]
}

type Error struct {
	code    Code
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

// Newf formats the message.
func Newf(code Code, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

func Wrap(code Code, err error, message string) *Error {
	if err == nil {
		return New(code, message)
	}
	return &Error{code: code, message: message, cause: err}
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Details() any {
	if e == nil {
		return nil
	}
	return e.details
}

func (e *Error) WithDetails(details any) *Error {
	if e == nil {
		return nil
	}
	e.details = details
	return e
}

// Error includes the cause so CLI output and build rows keep the full story.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// As returns the outermost coded error in err's chain.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var typed *Error
	if stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}

// Is reports whether err carries a coded error with the given code.
func Is(err error, code Code) bool {
	typed := As(err)
	return typed != nil && typed.code == code
}

// Retryable reports whether running the same operation again may succeed.
// Uncoded errors are treated as internal.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	return MetadataFor(As(err).Code()).Retryable
}
