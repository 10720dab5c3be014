/*
Package errs provides custom error types and application-level error code constants.

This file defines the CustomError struct: a business code, a user-friendly message and an
HTTP status, optionally wrapping the domain error it was translated from.
*/
package errs

import (
	"fmt"
	"net/http"

	"trainchat/internal/pkg/logx"
)

// CustomError is the custom error structure used throughout the application.
// It wraps the Go error interface, adding a business code and HTTP status code.
type CustomError struct {
	// Code is the business error code (see constants definition).
	Code int

	// Message is the user-friendly error description.
	Message string

	// Status is the standard HTTP status code corresponding to this error.
	Status int

	cause error
}

// Error implements the standard Go error interface.
func (e CustomError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("error code %d (HTTP %d): %s: %v", e.Code, e.Status, e.Message, e.cause)
	}
	return fmt.Sprintf("error code %d (HTTP %d): %s", e.Code, e.Status, e.Message)
}

// Unwrap returns the error the CustomError was built from, if any.
func (e CustomError) Unwrap() error {
	return e.cause
}

// Is matches any CustomError with the same code, so errors.Is(err, NewError(ErrRoomNotFound))
// holds regardless of message or cause.
func (e CustomError) Is(target error) bool {
	t, ok := target.(*CustomError)
	return ok && t.Code == e.Code
}

// Known reports whether code has an entry in the error table.
func Known(code int) bool {
	_, ok := errorMap[code]
	return ok
}

// NewError constructs a *CustomError from a predefined error code. When the first detail is
// an error it becomes the cause; for ErrUnknown the cause is also logged, since the client
// only ever sees "try again". An unknown code yields ErrUnknown.
func NewError(code int, details ...any) *CustomError {
	templateErr, ok := errorMap[code]

	if !ok {
		logx.Error(
			fmt.Errorf("attempted to create an error with an unknown code in errorMap"),
			"Unknown error code requested",
			"requested_code", code,
		)
		templateErr = errorMap[ErrUnknown]
	}

	customErr := templateErr

	if customErr.Status == 0 {
		customErr.Status = http.StatusOK
	}

	if len(details) > 0 {
		if cause, ok := details[0].(error); ok {
			customErr.cause = cause
			if customErr.Code == ErrUnknown {
				logx.Error(cause, "Handling ErrUnknown with underlying error")
			}
		}
	}

	return &customErr
}
