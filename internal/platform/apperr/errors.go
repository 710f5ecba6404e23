// Package apperr defines the error taxonomy shared by every clinical ledger
// component and its mapping onto HTTP responses.
package apperr

import (
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/labstack/echo/v4"
)

// Base errors. Callers test for them with errors.Is; the concrete error
// carries the human readable detail.
var (
	// ErrAccessDenied is rendered with the http status code 403 and a generic message.
	ErrAccessDenied = errors.New("access denied")

	// ErrNotFound is rendered with the http status code 404.
	ErrNotFound = errors.New("not found")

	// ErrValidation is rendered with the http status code 400.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidState is rendered with the http status code 409.
	ErrInvalidState = errors.New("invalid state")

	// ErrPersistence is rendered with the http status code 503. The operation
	// was rolled back and may be retried as a whole.
	ErrPersistence = errors.New("persistence failure")
)

// AccessDenied returns an error marked as ErrAccessDenied. The reason stays
// internal: it is written to the audit trail and logs, never to the client.
func AccessDenied(reason string) error {
	return errors.Mark(errors.Newf("access denied: %s", reason), ErrAccessDenied)
}

// NotFound returns an error marked as ErrNotFound for the named record.
func NotFound(what string) error {
	return errors.Mark(errors.Newf("%s not found", what), ErrNotFound)
}

// Validation returns an error marked as ErrValidation with msg as its text.
func Validation(msg string) error {
	return errors.Mark(errors.New(msg), ErrValidation)
}

// Validationf is Validation with formatting.
func Validationf(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrValidation)
}

// InvalidState returns an error marked as ErrInvalidState.
func InvalidState(msg string) error {
	return errors.Mark(errors.New(msg), ErrInvalidState)
}

// Persistence wraps a storage failure. A nil err yields nil.
func Persistence(err error, op string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrPersistence) {
		return errors.Wrap(err, op)
	}
	return errors.Mark(errors.Wrap(err, op), ErrPersistence)
}

// HTTPStatus maps an error to the status code returned at the request boundary.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrAccessDenied):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, ErrPersistence):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ToHTTPError converts a domain error into an echo HTTP error. Denials and
// storage failures get fixed messages so no internal detail leaks.
func ToHTTPError(err error) *echo.HTTPError {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he
	}

	status := HTTPStatus(err)
	switch status {
	case http.StatusForbidden:
		return echo.NewHTTPError(status, "access denied")
	case http.StatusServiceUnavailable:
		return echo.NewHTTPError(status, "storage unavailable, retry the operation")
	case http.StatusInternalServerError:
		return echo.NewHTTPError(status, "internal server error")
	default:
		return echo.NewHTTPError(status, err.Error())
	}
}

var taxonomy = []error{ErrAccessDenied, ErrNotFound, ErrValidation, ErrInvalidState, ErrPersistence}

// Known reports whether err already belongs to the taxonomy.
func Known(err error) bool {
	for _, t := range taxonomy {
		if errors.Is(err, t) {
			return true
		}
	}
	return false
}

// OrPersistence returns taxonomy errors unchanged and marks anything else as a
// PersistenceError. Transaction scopes use it on their way out.
func OrPersistence(err error, op string) error {
	if err == nil || Known(err) {
		return err
	}
	return Persistence(err, op)
}
