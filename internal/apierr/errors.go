// Package apierr defines the typed error kinds that cross the boundary
// between domain code and the HTTP surface (spec §7).
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind identifies the class of failure. Domain code returns errors wrapping
// a Kind; the HTTP boundary maps Kind to a status code and a stable string.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindConflict
	KindForbidden
	KindUnauthenticated
	KindRateLimited
	KindTenantContextMissing
	KindFinancialInvariantViolation
	KindTransient
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "VALIDATION"
	case KindNotFound:
		return "NOT_FOUND"
	case KindConflict:
		return "CONFLICT"
	case KindForbidden:
		return "FORBIDDEN"
	case KindUnauthenticated:
		return "UNAUTHENTICATED"
	case KindRateLimited:
		return "RATE_LIMITED"
	case KindTenantContextMissing:
		return "TENANT_CONTEXT_MISSING"
	case KindFinancialInvariantViolation:
		return "FINANCIAL_INVARIANT_VIOLATION"
	case KindTransient:
		return "TRANSIENT"
	default:
		return "INTERNAL"
	}
}

// HTTPStatus returns the status code this kind maps to at the boundary.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindForbidden:
		return http.StatusForbidden
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindTenantContextMissing:
		return http.StatusBadRequest
	case KindFinancialInvariantViolation:
		return http.StatusConflict
	case KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Error is the typed error value carried through domain code.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs a typed error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap attaches a kind to an underlying error.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// As extracts an *Error from err, if present.
func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// Convenience constructors matching spec §7 kinds exactly.

func Validation(format string, args ...any) *Error {
	return New(KindValidation, fmt.Sprintf(format, args...))
}

func NotFound(format string, args ...any) *Error {
	return New(KindNotFound, fmt.Sprintf(format, args...))
}

func Conflict(format string, args ...any) *Error {
	return New(KindConflict, fmt.Sprintf(format, args...))
}

func Forbidden(format string, args ...any) *Error {
	return New(KindForbidden, fmt.Sprintf(format, args...))
}

func Unauthenticated(format string, args ...any) *Error {
	return New(KindUnauthenticated, fmt.Sprintf(format, args...))
}

func RateLimited(format string, args ...any) *Error {
	return New(KindRateLimited, fmt.Sprintf(format, args...))
}

// ErrTenantContextMissing is returned by tenant.Require when no tenant is
// installed in the current context. Logged as a defect at the boundary.
var ErrTenantContextMissing = New(KindTenantContextMissing, "tenant context missing")

func FinancialInvariantViolation(format string, args ...any) *Error {
	return New(KindFinancialInvariantViolation, fmt.Sprintf(format, args...))
}

func Transient(err error) *Error {
	return Wrap(KindTransient, "transient failure", err)
}

func Internal(err error) *Error {
	return Wrap(KindInternal, "internal error", err)
}
