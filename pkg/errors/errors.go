package errors

import (
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/grpc/codes"
)

// Standard error codes shared across packages.
const (
	CodeInternal        = "INTERNAL"
	CodeNotFound        = "NOT_FOUND"
	CodeInvalidArgument  = "INVALID_ARGUMENT"
	CodeAlreadyExists   = "ALREADY_EXISTS"
	CodeConflict        = "CONFLICT"
	CodeForbidden       = "FORBIDDEN"
	CodeUnauthenticated = "UNAUTHENTICATED"
	CodeUnavailable     = "UNAVAILABLE"
	CodeFailedPrecondition = "FAILED_PRECONDITION"
)

// AppError is the structured error type used across the system.
// It carries a stable Code, a human-readable Message, and an optional
// wrapped cause for chaining.
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap allows errors.Is/errors.As to traverse the wrapped cause.
func (e *AppError) Unwrap() error {
	return e.Cause
}

// New creates an AppError with the given code, message, and optional cause.
func New(code, message string, cause error) *AppError {
	return &AppError{Code: code, Message: message, Cause: cause}
}

// Wrap attaches context to an existing error without discarding its code
// (if it was already an *AppError), defaulting to CodeInternal otherwise.
func Wrap(err error, message string) *AppError {
	if err == nil {
		return nil
	}
	var ae *AppError
	if errors.As(err, &ae) {
		return &AppError{Code: ae.Code, Message: message, Cause: err}
	}
	return &AppError{Code: CodeInternal, Message: message, Cause: err}
}

// NotFound creates an AppError for a missing resource.
func NotFound(message string, cause error) *AppError {
	return New(CodeNotFound, message, cause)
}

// AlreadyExists creates an AppError for a duplicate resource.
func AlreadyExists(message string, cause error) *AppError {
	return New(CodeAlreadyExists, message, cause)
}

// InvalidArgument creates an AppError for a malformed caller input.
func InvalidArgument(message string, cause error) *AppError {
	return New(CodeInvalidArgument, message, cause)
}

// Conflict creates an AppError for a state conflict (e.g. concurrent mutation).
func Conflict(message string, cause error) *AppError {
	return New(CodeConflict, message, cause)
}

// Forbidden creates an AppError for an authorization failure.
func Forbidden(message string, cause error) *AppError {
	return New(CodeForbidden, message, cause)
}

// Unauthenticated creates an AppError for a missing/invalid caller identity.
func Unauthenticated(message string, cause error) *AppError {
	return New(CodeUnauthenticated, message, cause)
}

// Unavailable creates an AppError for a transient downstream failure.
func Unavailable(message string, cause error) *AppError {
	return New(CodeUnavailable, message, cause)
}

// FailedPrecondition creates an AppError for an operation rejected due to
// the current state of the target resource (e.g. a disposed engine).
func FailedPrecondition(message string, cause error) *AppError {
	return New(CodeFailedPrecondition, message, cause)
}

// Internal creates an AppError for an unexpected internal failure.
func Internal(message string, cause error) *AppError {
	return New(CodeInternal, message, cause)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// CodeOf extracts the stable code from err, or CodeInternal if err is not
// (or does not wrap) an *AppError.
func CodeOf(err error) string {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return CodeInternal
}

// HTTPStatus maps an AppError's code to an HTTP status code.
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case CodeNotFound:
		return http.StatusNotFound
	case CodeInvalidArgument:
		return http.StatusBadRequest
	case CodeAlreadyExists, CodeConflict:
		return http.StatusConflict
	case CodeForbidden:
		return http.StatusForbidden
	case CodeUnauthenticated:
		return http.StatusUnauthorized
	case CodeUnavailable:
		return http.StatusServiceUnavailable
	case CodeFailedPrecondition:
		return http.StatusPreconditionFailed
	default:
		return http.StatusInternalServerError
	}
}

// GRPCCode maps an AppError's code to a gRPC status code.
func GRPCCode(err error) codes.Code {
	switch CodeOf(err) {
	case CodeNotFound:
		return codes.NotFound
	case CodeInvalidArgument:
		return codes.InvalidArgument
	case CodeAlreadyExists:
		return codes.AlreadyExists
	case CodeConflict:
		return codes.Aborted
	case CodeForbidden:
		return codes.PermissionDenied
	case CodeUnauthenticated:
		return codes.Unauthenticated
	case CodeUnavailable:
		return codes.Unavailable
	case CodeFailedPrecondition:
		return codes.FailedPrecondition
	default:
		return codes.Internal
	}
}
