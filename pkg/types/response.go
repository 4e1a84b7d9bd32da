// Package types holds the JSON envelopes shared by the query API and its clients.
package types

// SuccessEnvelope wraps every successful answer.
type SuccessEnvelope struct {
	Data any `json:"data"`
}

// APIError is the public part of a coded error. Retryable tells clients a
// later attempt may succeed, e.g. while a build holds the period lock.
type APIError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
	Details   any    `json:"details,omitempty"`
}

// ErrorEnvelope wraps every failed answer.
type ErrorEnvelope struct {
	Error     APIError `json:"error"`
	RequestID string   `json:"request_id,omitempty"`
}
