package models

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies gateway failures for status mapping and logging.
type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindAuthentication
	KindValidation
	KindModelNotFound
	KindConfiguration
	KindUpstreamSubmission
	KindUpstreamProtocol
	KindGenerationFailed
	KindGenerationTimeout
	KindRateLimited
)

func (k ErrorKind) String() string {
	switch k {
	case KindAuthentication:
		return "authentication_error"
	case KindValidation:
		return "invalid_request_error"
	case KindModelNotFound:
		return "model_not_found"
	case KindConfiguration:
		return "configuration_error"
	case KindUpstreamSubmission, KindUpstreamProtocol:
		return "fal_api_error"
	case KindGenerationFailed:
		return "generation_failed"
	case KindGenerationTimeout:
		return "generation_timeout"
	case KindRateLimited:
		return "rate_limit_error"
	default:
		return "internal_error"
	}
}

// HTTPStatus returns the status code surfaced to callers for the kind.
func (k ErrorKind) HTTPStatus() int {
	switch k {
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindValidation, KindConfiguration:
		return http.StatusBadRequest
	case KindModelNotFound:
		return http.StatusNotFound
	case KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// Error is the typed failure returned by every gateway component.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds a typed error with a formatted message.
func NewError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError attaches a kind and message to an underlying cause.
func WrapError(kind ErrorKind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf reports the kind of err, defaulting to KindInternal for untyped errors.
func KindOf(err error) ErrorKind {
	var gwErr *Error
	if errors.As(err, &gwErr) {
		return gwErr.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var gwErr *Error
	return errors.As(err, &gwErr) && gwErr.Kind == kind
}
