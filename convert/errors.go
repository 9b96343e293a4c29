package convert

import (
	"context"
	"errors"
)

// Machine-readable error kinds carried on every failure response.
const (
	KindBadRequest       = "bad_request"
	KindNotFound         = "not_found"
	KindConversionFailed = "conversion_failed"
	KindUpstreamStore    = "upstream_store_error"
	KindTimeout          = "timeout"
)

// Error is the structured failure returned by the orchestrator. Kind is stable
// and machine readable; Message is for humans.
type Error struct {
	Kind    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// failed wraps an underlying error with a kind. Running out of the execution
// budget always surfaces as a timeout, whatever stage it happened in.
func failed(kind, message string, err error) *Error {
	if err != nil && (errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)) {
		kind = KindTimeout
	}
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the error kind, or "" for untyped errors.
func KindOf(err error) string {
	var convErr *Error
	if errors.As(err, &convErr) {
		return convErr.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return ""
}
