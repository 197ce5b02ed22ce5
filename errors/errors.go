// Package errors defines the error values shared by the powertrack packages.
// Callers match them with the standard library's errors.Is and errors.As.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Standard error variables
var (
	// Configuration errors
	ErrConfiguration           = errors.New("configuration error")
	ErrIncompleteConfiguration = fmt.Errorf("%w: incomplete configuration", ErrConfiguration)
	ErrConfigFileNotFound      = fmt.Errorf("%w: config file not found", ErrConfiguration)
	ErrBadArgument             = errors.New("bad argument")

	// Stream errors
	ErrConnection    = errors.New("connection failed")
	ErrHTTPStatus    = errors.New("unexpected http status")
	ErrCallbackPanic = errors.New("line handler panicked")

	// Lifecycle errors
	ErrAlreadyConnected = errors.New("cannot connect: client is not re-entrant")
	ErrNotConnected     = errors.New("client is not connected")
	ErrAlreadyStarted   = errors.New("worker already started")

	// Rule errors
	ErrBadPowerTrackURL = errors.New("powertrack url does not look like a stream url")
	ErrRulesListFormat  = errors.New("rules list is not in the correct format")
	ErrRuleAddFailed    = errors.New("rule add failed")
	ErrRulesGetFailed   = errors.New("rules get failed")
	ErrRuleDeleteFailed = errors.New("rule delete failed")

	// Historical job errors
	ErrHistoricalJobStatus = errors.New("historical job is not in the required status")
)

// StatusError reports a non-success HTTP response.
type StatusError struct {
	StatusCode int
	Status     string
	URL        string
	Body       string
}

// Error implements the error interface
func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("%s: %s (%s): %s", ErrHTTPStatus, e.Status, e.URL, e.Body)
	}
	return fmt.Sprintf("%s: %s (%s)", ErrHTTPStatus, e.Status, e.URL)
}

// Unwrap lets errors.Is match ErrHTTPStatus.
func (e *StatusError) Unwrap() error {
	return ErrHTTPStatus
}

// Wrap creates a standardized error with context following the pattern:
// "component.method: action failed: %w"
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool {
	return errors.As(err, target)
}

// New is errors.New, re-exported so importers of this package don't need both.
func New(text string) error {
	return errors.New(text)
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}

// IsTransient reports whether retrying the operation that produced err could succeed.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrConnection) {
		return true
	}

	switch StatusCode(err) {
	case http.StatusRequestTimeout, http.StatusTooManyRequests,
		http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}

	return false
}

// IsFatal reports whether err is a programmer or configuration error that
// will fail the same way on every attempt.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	return errors.Is(err, ErrConfiguration) ||
		errors.Is(err, ErrBadArgument) ||
		errors.Is(err, ErrAlreadyConnected) ||
		errors.Is(err, ErrNotConnected) ||
		errors.Is(err, ErrBadPowerTrackURL) ||
		errors.Is(err, ErrRulesListFormat) ||
		StatusCode(err) == http.StatusUnauthorized ||
		StatusCode(err) == http.StatusForbidden
}
