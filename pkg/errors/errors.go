package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError provides a structured error that can be rendered to API consumers.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"`
	Internal   error  `json:"-"`
}

func (e *AppError) Error() string {
	if e == nil {
		return "<nil>"
	}

	if e.Internal != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Internal)
	}

	return e.Message
}

// Unwrap exposes the internal error for errors.Is / errors.As compatibility.
func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Internal
}

// WithInternal returns a copy of the AppError with an attached internal error.
func (e *AppError) WithInternal(err error) *AppError {
	if e == nil {
		return nil
	}

	cpy := *e
	cpy.Internal = err
	return &cpy
}

// Common errors exposed to the rest of the application.
var (
	ErrNotFound = &AppError{
		Code:       "NOT_FOUND",
		Message:    "Resource not found",
		StatusCode: http.StatusNotFound,
	}

	ErrBadRequest = &AppError{
		Code:       "BAD_REQUEST",
		Message:    "Invalid request",
		StatusCode: http.StatusBadRequest,
	}

	ErrInternalServer = &AppError{
		Code:       "INTERNAL_SERVER_ERROR",
		Message:    "Internal server error",
		StatusCode: http.StatusInternalServerError,
	}

	// ErrUnknownManager is returned when a count is requested for an
	// entity/manager pair that is not registered.
	ErrUnknownManager = &AppError{
		Code:       "counts.unknown_manager",
		Message:    "No counting manager registered for this entity",
		StatusCode: http.StatusNotFound,
	}

	// ErrUnknownQuery is returned when a named designated query does not exist.
	ErrUnknownQuery = &AppError{
		Code:       "counts.unknown_query",
		Message:    "No designated query with this name",
		StatusCode: http.StatusNotFound,
	}

	// ErrCountFailed wraps a live computation failure, the one cache-path
	// error that must surface to callers.
	ErrCountFailed = &AppError{
		Code:       "counts.computation_failed",
		Message:    "Count computation failed",
		StatusCode: http.StatusBadGateway,
	}
)

// New builds an AppError with the supplied code, message, and HTTP status.
func New(code, message string, status int) *AppError {
	return &AppError{Code: code, Message: message, StatusCode: status}
}

// NewBadRequest returns a BAD_REQUEST error with a custom message.
func NewBadRequest(message string) *AppError {
	return &AppError{
		Code:       ErrBadRequest.Code,
		Message:    message,
		StatusCode: ErrBadRequest.StatusCode,
	}
}

// Wrap attaches an internal cause to a generic internal server error.
func Wrap(err error, message string) *AppError {
	return &AppError{
		Code:       ErrInternalServer.Code,
		Message:    message,
		StatusCode: ErrInternalServer.StatusCode,
		Internal:   err,
	}
}

// FromError coerces an arbitrary error into an AppError.
func FromError(err error) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	return ErrInternalServer.WithInternal(err)
}
