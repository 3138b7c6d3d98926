package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// APIError is a backend failure normalised from a provider SDK error.
type APIError struct {
	Provider   string
	Status     int
	Message    string
	RetryAfter string
	Err        error
}

func (e *APIError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s API error (status %d): %s", e.Provider, e.Status, e.Message)
	}
	return fmt.Sprintf("%s API error: %s", e.Provider, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// StatusCode returns the HTTP status of the failure, or 0.
func (e *APIError) StatusCode() int {
	return e.Status
}

// UnauthorizedError is fatal for a turn and must be handled by the caller,
// typically by asking for new credentials.
type UnauthorizedError struct {
	Message string
	Err     error
}

func (e *UnauthorizedError) Error() string { return e.Message }
func (e *UnauthorizedError) Unwrap() error { return e.Err }

// ForbiddenError reports a 403 from the backend.
type ForbiddenError struct {
	Message string
	Err     error
}

func (e *ForbiddenError) Error() string { return e.Message }
func (e *ForbiddenError) Unwrap() error { return e.Err }

// BadRequestError reports a 400 from the backend.
type BadRequestError struct {
	Message string
	Err     error
}

func (e *BadRequestError) Error() string { return e.Message }
func (e *BadRequestError) Unwrap() error { return e.Err }

// ErrUnsupported is returned for operations a backend does not offer.
var ErrUnsupported = errors.New("operation not supported by this backend")

// ToFriendlyError maps a status-carrying error onto the typed errors above.
// Errors without a recognised status are returned unchanged.
func ToFriendlyError(err error) error {
	if err == nil {
		return nil
	}
	status, ok := ErrorStatus(err)
	if !ok {
		return err
	}
	msg := ErrorMessage(err)
	switch status {
	case http.StatusBadRequest:
		return &BadRequestError{Message: msg, Err: err}
	case http.StatusUnauthorized:
		return &UnauthorizedError{Message: msg, Err: err}
	case http.StatusForbidden:
		return &ForbiddenError{Message: msg, Err: err}
	}
	return err
}

// IsUnauthorized reports whether err is or wraps an UnauthorizedError.
func IsUnauthorized(err error) bool {
	var unauthorized *UnauthorizedError
	return errors.As(err, &unauthorized)
}

type statusCoder interface {
	StatusCode() int
}

// ErrorStatus extracts a numeric status from err when one is present.
func ErrorStatus(err error) (int, bool) {
	var sc statusCoder
	if errors.As(err, &sc) {
		if code := sc.StatusCode(); code > 0 {
			return code, true
		}
	}
	return 0, false
}

// ErrorMessage returns the most specific human readable message for err.
func ErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return err.Error()
}

// IsRetryable reports whether a failure is worth retrying.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if status, ok := ErrorStatus(err); ok {
		return status == http.StatusTooManyRequests || status >= http.StatusInternalServerError
	}
	return isRetryableMessage(err.Error())
}
