package extract

import (
	"errors"
	"fmt"
	"strings"

	"github.com/akovalyov/receipt-tracker/internal/retry"
)

// ErrMissingAPIKey is returned when the client is constructed without a
// credential. This is fatal and never retried.
var ErrMissingAPIKey = errors.New("extract: Gemini API key is not configured")

// Reason classifies a provider-side extraction failure for diagnostics.
type Reason string

const (
	ReasonUnauthorized Reason = "unauthorized"
	ReasonForbidden    Reason = "forbidden"
	ReasonRateLimited  Reason = "rate-limited"
	ReasonNetwork      Reason = "network-unreachable"
	ReasonUnknown      Reason = "unknown"
)

// ExtractionError wraps a failed model call with a classified sub-reason.
type ExtractionError struct {
	Reason Reason
	Err    error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract: model call failed (%s): %v", e.Reason, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// ParseError indicates the model returned text that is not valid JSON even
// after code fences were stripped. Retried, since a repeated call may yield
// valid output.
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("extract: model output is not valid JSON: %v", e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// classify maps a provider error message onto a Reason.
func classify(err error) Reason {
	if err == nil {
		return ReasonUnknown
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "401") || strings.Contains(msg, "unauthorized") || strings.Contains(msg, "api key not valid"):
		return ReasonUnauthorized
	case strings.Contains(msg, "403") || strings.Contains(msg, "forbidden") || strings.Contains(msg, "permission"):
		return ReasonForbidden
	case retry.IsRateLimited(err):
		return ReasonRateLimited
	case strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "network is unreachable") ||
		strings.Contains(msg, "deadline exceeded") ||
		strings.Contains(msg, "dial tcp"):
		return ReasonNetwork
	default:
		return ReasonUnknown
	}
}
