package textgen

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Failure classes surfaced to callers. Every one of them means "this call
// produced no text"; callers fall back, they do not abort the run.
var (
	ErrTimeout          = errors.New("textgen: timeout")
	ErrCircuitOpen      = errors.New("textgen: circuit open")
	ErrRetriesExhausted = errors.New("textgen: retries exhausted")
	ErrNonRetryable     = errors.New("textgen: non-retryable")
)

// errInvalidInput marks malformed requests detected before any network call.
var errInvalidInput = errors.New("textgen: invalid input")

// Unavailable reports whether err belongs to the taxonomy above, i.e. the
// text service produced no usable output for this item.
func Unavailable(err error) bool {
	return errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrCircuitOpen) ||
		errors.Is(err, ErrRetriesExhausted) ||
		errors.Is(err, ErrNonRetryable)
}

// apiError is a non-2xx response from the text service.
type apiError struct {
	StatusCode int
	Body       string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("textgen: unexpected status %d: %s", e.StatusCode, e.Body)
}

// isTransient reports whether an attempt-level error is worth retrying:
// timeouts, rate limits, server errors, and network failures. Auth and
// malformed-request failures are not.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, errInvalidInput) || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var apiErr *apiError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusRequestTimeout:
			return true
		case apiErr.StatusCode == http.StatusTooManyRequests:
			return true
		case apiErr.StatusCode >= 500:
			return true
		default:
			return false
		}
	}
	// Anything else is a transport-level failure.
	return true
}
