// Package nexuserr defines the error taxonomy of the translation core.
// Callers classify errors with Is/KindOf rather than string matching.
package nexuserr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for propagation and retry policy.
type Kind string

const (
	// Validation errors: surfaced as 4xx, never retried.
	KindInvalidRequest          Kind = "invalid_request"
	KindUnknownLanguage         Kind = "unknown_language"
	KindUnsupportedLanguagePair Kind = "unsupported_language_pair"
	KindTextTooLong             Kind = "text_too_long"

	// Resource errors.
	KindModelNotLoaded   Kind = "model_not_loaded"
	KindModelLoadFailed  Kind = "model_load_failed"
	KindDeadlineExceeded Kind = "deadline_exceeded"
	KindRateLimited      Kind = "rate_limited"

	// Backend errors.
	KindBackendTransient Kind = "backend_transient"
	KindBackendFatal     Kind = "backend_fatal"
	KindInputTooLong     Kind = "input_too_long"

	KindDetectionFailed Kind = "language_detection_failed"
	KindChunkFailed     Kind = "chunk_failed"
	KindUnauthorized    Kind = "unauthorized"
	KindInternal        Kind = "internal"
)

// Error carries a kind alongside the wrapped cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	case e.Msg != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// New returns an error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to an existing error.
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

// Wrapf attaches a kind and message to an existing error.
func Wrapf(kind Kind, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the kind of err, walking the wrap chain. Unclassified
// errors report KindInternal; context deadline errors report
// KindDeadlineExceeded.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindDeadlineExceeded
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Retryable reports whether the client may retry the failed request.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindRateLimited, KindBackendTransient:
		return true
	}
	return false
}

// HTTPStatus maps an error to its transport status code.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindInvalidRequest, KindUnknownLanguage, KindUnsupportedLanguagePair, KindDetectionFailed:
		return http.StatusUnprocessableEntity
	case KindTextTooLong:
		return http.StatusRequestEntityTooLarge
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindModelNotLoaded:
		return http.StatusConflict
	case KindDeadlineExceeded:
		return http.StatusGatewayTimeout
	case KindBackendTransient, KindModelLoadFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Response is the wire shape of a request-level error.
type Response struct {
	Error     string `json:"error"`
	Kind      Kind   `json:"kind"`
	Retryable bool   `json:"retryable"`
}

// ToResponse converts an error into its wire representation.
func ToResponse(err error) Response {
	return Response{
		Error:     err.Error(),
		Kind:      KindOf(err),
		Retryable: Retryable(err),
	}
}
