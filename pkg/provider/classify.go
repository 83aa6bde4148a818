package provider

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/killallgit/strand/pkg/events"
)

// Classify maps a raw provider error onto the stream failure taxonomy,
// returning the error type and a human-readable message suitable for
// surfacing to the user.
func Classify(err error) (errorType, message string) {
	if err == nil {
		return events.ErrorTypeRequestError, "unknown provider error"
	}

	lower := strings.ToLower(err.Error())

	if strings.Contains(lower, "429") ||
		strings.Contains(lower, "rate limit") ||
		strings.Contains(lower, "too many requests") {
		return events.ErrorTypeRateLimited, "The model service is busy, please retry shortly."
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return events.ErrorTypeRequestError, "The model request timed out."
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return events.ErrorTypeRequestError, "The model request timed out."
	}

	if strings.Contains(lower, "connection refused") ||
		strings.Contains(lower, "no such host") ||
		strings.Contains(lower, "connection reset") {
		return events.ErrorTypeRequestError, "Could not reach the model service."
	}

	return events.ErrorTypeRequestError, "The model request failed: " + err.Error()
}
