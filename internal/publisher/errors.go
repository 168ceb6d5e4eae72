package publisher

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/contentpilot/postpilot/internal/platform"
)

type ErrorKind string

const (
	KindNotFound           ErrorKind = "not_found"
	KindConnectionInactive ErrorKind = "connection_inactive"
	KindAdapterError       ErrorKind = "adapter_error"
	KindAdapterAuthError   ErrorKind = "adapter_auth_error"
	KindAdapterTimeout     ErrorKind = "adapter_timeout"
	KindValidationError    ErrorKind = "validation_error"
	KindRetryExhausted     ErrorKind = "retry_exhausted"
)

// Error is a classified publish-pipeline failure. Retryable decides
// whether the worker re-enqueues with backoff or fails the post.
type Error struct {
	Kind      ErrorKind
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func notFoundErr(entity, id string) *Error {
	return &Error{Kind: KindNotFound, Retryable: false, Err: fmt.Errorf("%s %s not found", entity, id)}
}

// Connection lookups are the one retryable not_found: a user may
// reconnect before the retry window elapses.
func connectionUnavailableErr(err error) *Error {
	return &Error{Kind: KindConnectionInactive, Retryable: true, Err: err}
}

func validationErr(err error) *Error {
	return &Error{Kind: KindValidationError, Retryable: false, Err: err}
}

// classifyAdapterErr wraps whatever the platform adapter returned.
// Auth failures get their own kind for observability but stay
// retryable, since the token refresh loop may fix them.
func classifyAdapterErr(err error) *Error {
	var publishErr *Error
	if errors.As(err, &publishErr) {
		return publishErr
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindAdapterTimeout, Retryable: true, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Error{Kind: KindAdapterTimeout, Retryable: true, Err: err}
	}

	var apiErr *platform.APIError
	if errors.As(err, &apiErr) && apiErr.Auth() {
		return &Error{Kind: KindAdapterAuthError, Retryable: true, Err: err}
	}

	return &Error{Kind: KindAdapterError, Retryable: true, Err: err}
}
