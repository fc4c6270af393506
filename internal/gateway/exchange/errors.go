package exchange

import (
	"errors"
	"fmt"
	"net"
)

// Error is a structured failure from a venue's order or account API.
// Retryable errors (rate limits, transient server trouble) may be retried
// with backoff; terminal errors (bad parameters, insufficient balance)
// must surface immediately so the strategy can be paused for review.
type Error struct {
	Venue     string
	Code      int
	Message   string
	Retryable bool
}

func (e *Error) Error() string {
	kind := "terminal"
	if e.Retryable {
		kind = "retryable"
	}
	return fmt.Sprintf("%s api error code=%d (%s): %s", e.Venue, e.Code, kind, e.Message)
}

// IsRetryable reports whether err may be retried: a retryable venue
// Error, a timeout, or a plain network failure.
func IsRetryable(err error) bool {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Retryable
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return false
}
