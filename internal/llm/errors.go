package llm

import (
	"context"
	"errors"
	"net"
	"strings"
)

var (
	// ErrUnauthorized means the API key was rejected. Not retried.
	ErrUnauthorized = errors.New("llm: unauthorized")
	// ErrRateLimited means the quota is exhausted. Not retried.
	ErrRateLimited = errors.New("llm: rate limit exceeded")
	// ErrEmptyResponse means the model returned no text
	ErrEmptyResponse = errors.New("llm: empty response")
	// ErrMalformed means the response did not match the requested schema
	ErrMalformed = errors.New("llm: malformed response")
)

// Category distinguishes failure outcomes for callers and the error ledger
type Category string

const (
	CategoryNone        Category = ""
	CategoryAuth        Category = "auth_error"
	CategoryRateLimit   Category = "rate_limit"
	CategoryUnreachable Category = "unreachable"
	CategoryAPIFailure  Category = "api_failure"
)

// Systemic reports whether the category points at a problem that affects
// every message rather than the one being processed
func (c Category) Systemic() bool {
	return c == CategoryAuth || c == CategoryRateLimit || c == CategoryUnreachable
}

// Retryable reports whether another attempt may succeed
func Retryable(err error) bool {
	return !errors.Is(err, ErrUnauthorized) && !errors.Is(err, ErrRateLimited)
}

// Classify maps a final error to its category
func Classify(err error) Category {
	switch {
	case err == nil:
		return CategoryNone
	case errors.Is(err, ErrUnauthorized):
		return CategoryAuth
	case errors.Is(err, ErrRateLimited):
		return CategoryRateLimit
	case isConnectionError(err):
		return CategoryUnreachable
	default:
		return CategoryAPIFailure
	}
}

func isConnectionError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "connection reset")
}

// classifyAPIError wraps an error from the generation API with the matching
// sentinel based on the status it reports
func classifyAPIError(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "error 401") || strings.Contains(msg, "error 403") ||
		strings.Contains(msg, "api key not valid") || strings.Contains(msg, "permission_denied") ||
		strings.Contains(msg, "unauthenticated"):
		return errors.Join(ErrUnauthorized, err)
	case strings.Contains(msg, "error 429") || strings.Contains(msg, "resource_exhausted") ||
		strings.Contains(msg, "quota") || strings.Contains(msg, "rate limit"):
		return errors.Join(ErrRateLimited, err)
	default:
		return err
	}
}
