package insight

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure for HTTP mapping and logging.
type Kind int

const (
	KindValidation Kind = iota
	KindConfiguration
	KindThrottled
	KindUpstreamTransient
	KindUpstreamAuth
	KindSchemaValidation
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation_error"
	case KindConfiguration:
		return "configuration_error"
	case KindThrottled:
		return "throttled"
	case KindUpstreamTransient:
		return "upstream_transient"
	case KindUpstreamAuth:
		return "upstream_auth"
	case KindSchemaValidation:
		return "schema_validation"
	case KindTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// HTTPStatus maps a classification to the status code returned to callers.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation, KindConfiguration:
		return http.StatusBadRequest
	case KindThrottled:
		return http.StatusTooManyRequests
	case KindUpstreamTransient, KindUpstreamAuth, KindSchemaValidation:
		return http.StatusBadGateway
	case KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Error is a classified failure. Every error that crosses the handler
// boundary is one of these; raw upstream detail stays in the wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

func NewError(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

func WrapError(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, cause: cause}
}

func Validationf(format string, args ...interface{}) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// ClassOf extracts the classification from err, defaulting to
// UpstreamTransient for unclassified failures so callers never see a
// raw error pass through unmapped.
func ClassOf(err error) Kind {
	var ie *Error
	if errors.As(err, &ie) {
		return ie.Kind
	}
	return KindUpstreamTransient
}

// MessageOf returns the human-readable message for the HTTP body.
func MessageOf(err error) string {
	var ie *Error
	if errors.As(err, &ie) {
		return ie.Message
	}
	return "internal error"
}
