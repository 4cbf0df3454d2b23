package answer

import (
	"context"
	"errors"
	"strings"
)

// failureKind buckets a generation error by how the pipeline reacts to it.
type failureKind int

const (
	// kindRateLimit is the only retryable kind. Exhausting retries degrades.
	kindRateLimit failureKind = iota
	// kindTimeout degrades immediately; retrying a saturated upstream only
	// adds load.
	kindTimeout
	// kindUpstream is a non-transient provider failure and is fatal.
	kindUpstream
	// kindCancelled means the caller gave up; not a failure at all.
	kindCancelled
)

func (k failureKind) String() string {
	switch k {
	case kindRateLimit:
		return "rate_limited"
	case kindTimeout:
		return "upstream_timeout"
	case kindUpstream:
		return "upstream_error"
	case kindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Error substrings matched case-insensitively against err.Error().
//
// NOTE: string matching is used because Genkit and the provider SDKs do
// not expose typed errors for transient failures. Re-evaluate if Genkit
// adds structured error types in a future version.
var (
	rateLimitPatterns = []string{"rate limit", "quota exceeded", "429", "resource exhausted"}
	timeoutPatterns   = []string{"timeout", "deadline exceeded", "connection reset", "unavailable", "503", "504"}
)

// classify maps err to a failureKind. ctx is consulted first: a cancelled
// request context wins over whatever error text the provider produced.
func classify(ctx context.Context, err error) failureKind {
	if ctx.Err() != nil && errors.Is(ctx.Err(), context.Canceled) {
		return kindCancelled
	}
	if errors.Is(err, context.Canceled) {
		return kindCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return kindTimeout
	}

	errStr := strings.ToLower(err.Error())
	if containsAny(errStr, rateLimitPatterns) {
		return kindRateLimit
	}
	if containsAny(errStr, timeoutPatterns) {
		return kindTimeout
	}
	return kindUpstream
}

func containsAny(s string, substrs []string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
