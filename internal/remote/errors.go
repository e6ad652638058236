package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrUnavailable marks transport-level failures: connection refused,
	// timeouts, connectivity drops mid-request. Always transient.
	ErrUnavailable = errors.New("server unavailable")

	// ErrNotFound marks a 404: the entity no longer exists server-side.
	// The engine reconciles by tombstoning, never by retrying.
	ErrNotFound = errors.New("not found")
)

// StatusError carries an HTTP status the server answered with.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("server returned %d", e.Code)
	}
	return fmt.Sprintf("server returned %d: %s", e.Code, e.Body)
}

// statusToError classifies an HTTP response status.
func statusToError(code int, body string) error {
	switch {
	case code == http.StatusNotFound:
		return ErrNotFound
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests, code >= 500:
		return fmt.Errorf("%w: %s", ErrUnavailable, (&StatusError{Code: code, Body: body}).Error())
	default:
		return &StatusError{Code: code, Body: body}
	}
}

// IsTransient reports whether the failure is worth retrying: network
// errors, timeouts, 408/429 and 5xx responses.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUnavailable) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code == http.StatusRequestTimeout ||
			se.Code == http.StatusTooManyRequests ||
			se.Code >= 500
	}
	return false
}

// IsNotFound reports whether the server says the entity is gone.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsPermanent reports whether the server rejected the request for
// semantic reasons (validation, conflict): retrying cannot succeed.
func IsPermanent(err error) bool {
	return err != nil && !IsTransient(err) && !IsNotFound(err)
}
