package common

import (
	"errors"
	"net/http"
)

// Kind classifies an AppError into the response taxonomy exposed by the API.
type Kind int

const (
	// KindInternal covers anything that was not classified explicitly.
	KindInternal Kind = iota
	// KindValidation marks missing or malformed input, including tamper signals.
	KindValidation
	// KindOriginDenied marks a request whose Origin is not allowed for the tenant.
	KindOriginDenied
	// KindRateLimited marks a request rejected by the per-IP limiter.
	KindRateLimited
	// KindNotFound marks an unknown or expired quote or attempt.
	KindNotFound
	// KindCrossTenant marks a request referencing another tenant's attempt.
	KindCrossTenant
	// KindUpstream marks a rejection from a gateway or the config service.
	KindUpstream
	// KindUpstreamTimeout marks a timed out call to a gateway or the config service.
	KindUpstreamTimeout
	// KindConfigMissing marks a tenant without credentials for the requested gateway.
	KindConfigMissing
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindOriginDenied:
		return "origin_denied"
	case KindRateLimited:
		return "rate_limited"
	case KindNotFound:
		return "not_found"
	case KindCrossTenant:
		return "cross_tenant"
	case KindUpstream:
		return "upstream"
	case KindUpstreamTimeout:
		return "upstream_timeout"
	case KindConfigMissing:
		return "config_missing"
	default:
		return "internal"
	}
}

// HTTPStatus returns the status code used when an error of this kind reaches the client.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindOriginDenied, KindCrossTenant:
		return http.StatusForbidden
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindNotFound:
		return http.StatusNotFound
	case KindUpstream:
		return http.StatusBadGateway
	case KindUpstreamTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// AppError represents an error with an attached kind and a client-safe message.
// Err is never rendered to the client.
type AppError struct {
	Kind    Kind
	Public  string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Public + ": " + e.Err.Error()
	}
	return e.Public
}

// Unwrap allows errors.Is/As to inspect the underlying error.
func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewAppError constructs an AppError.
func NewAppError(kind Kind, public, message string, err error) *AppError {
	return &AppError{Kind: kind, Public: public, Message: message, Err: err}
}

// Validation is shorthand for a 400 error whose message is surfaced verbatim.
func Validation(public, message string) *AppError {
	return NewAppError(KindValidation, public, message, nil)
}

// NotFound is shorthand for a 404 error.
func NotFound(public string) *AppError {
	return NewAppError(KindNotFound, public, "", nil)
}

// AsAppError extracts an AppError from err. Unclassified errors become KindInternal.
func AsAppError(err error) *AppError {
	var target *AppError
	if errors.As(err, &target) {
		return target
	}
	return NewAppError(KindInternal, "Internal server error", "", err)
}

// IsKind reports whether err carries an AppError of the given kind.
func IsKind(err error, kind Kind) bool {
	var target *AppError
	return errors.As(err, &target) && target.Kind == kind
}
