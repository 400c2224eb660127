package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Sentinel errors for chat-completion failures. Adapters wrap these so
// callers can branch with errors.Is regardless of backend.
var (
	// ErrRateLimited indicates the backend rejected the request for rate
	// limiting (HTTP 429). Retryable.
	ErrRateLimited = errors.New("llm: rate limited")

	// ErrQuotaExceeded indicates the account is out of budget. Retrying
	// will not help.
	ErrQuotaExceeded = errors.New("llm: quota exceeded")

	// ErrTimeout indicates the request timed out. Retryable.
	ErrTimeout = errors.New("llm: request timed out")

	// ErrConnection indicates the backend could not be reached. Retryable.
	ErrConnection = errors.New("llm: connection failed")

	// ErrLLMUnavailable indicates a backend server error (HTTP 5xx).
	// Retryable.
	ErrLLMUnavailable = errors.New("llm: service unavailable")

	// ErrInvalidRequest indicates the backend rejected the request as
	// malformed (HTTP 4xx other than 429). Not retryable.
	ErrInvalidRequest = errors.New("llm: invalid request")

	// ErrEmptyResponse indicates the backend returned no usable content.
	ErrEmptyResponse = errors.New("llm: empty response")
)

// IsRetryable reports whether the error is transient and worth retrying.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrConnection) ||
		errors.Is(err, ErrLLMUnavailable)
}

// Classify maps a raw adapter failure onto a sentinel error. status is the
// HTTP status code when known, or 0 for transport-level failures.
func Classify(status int, err error) error {
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		var netErr net.Error
		if errors.As(err, &netErr) {
			if netErr.Timeout() {
				return fmt.Errorf("%w: %v", ErrTimeout, err)
			}
			return fmt.Errorf("%w: %v", ErrConnection, err)
		}
	}

	switch {
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w (status %d)", ErrRateLimited, status)
	case status == http.StatusPaymentRequired || status == http.StatusForbidden:
		return fmt.Errorf("%w (status %d)", ErrQuotaExceeded, status)
	case status >= 500:
		return fmt.Errorf("%w (status %d)", ErrLLMUnavailable, status)
	case status >= 400:
		return fmt.Errorf("%w (status %d)", ErrInvalidRequest, status)
	}

	if err != nil {
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}
	return fmt.Errorf("%w (status %d)", ErrInvalidRequest, status)
}
