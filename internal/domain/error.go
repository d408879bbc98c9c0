package domain

import (
	"context"
	"errors"
)

var (
	// Common domain errors
	ErrNotFound           = errors.New("entity not found")
	ErrAlreadyExists      = errors.New("entity already exists")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrInvalidExecContext = errors.New("invalid execution context")
	ErrPersistence        = errors.New("persistence unavailable")
	ErrReadDatabaseRow    = errors.New("could not read database row")

	// AI provider errors
	ErrUnsupportedProvider = errors.New("unsupported ai provider")
	ErrProviderTimeout     = errors.New("ai provider timeout")
	ErrProviderAuth        = errors.New("ai provider rejected the credential")
	ErrProviderRateLimit   = errors.New("ai provider rate limit exceeded")
	ErrProviderUnavailable = errors.New("ai provider unavailable")
	ErrMalformedResponse   = errors.New("ai provider returned a malformed response")

	// Queue errors
	ErrQueueEmpty = errors.New("queue empty")
)

// IsRetryable reports whether a failed attempt may be retried under the
// standard backoff policy.
func IsRetryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrProviderAuth),
		errors.Is(err, ErrUnsupportedProvider),
		errors.Is(err, ErrInvalidArgument):
		return false
	case errors.Is(err, ErrProviderTimeout),
		errors.Is(err, ErrProviderRateLimit),
		errors.Is(err, ErrProviderUnavailable),
		errors.Is(err, ErrPersistence),
		errors.Is(err, context.DeadlineExceeded):
		return true
	}
	// Unknown failures get the benefit of the doubt.
	return true
}

// UserMessage turns a failure into text that is safe to show on a job status page.
func UserMessage(err error) string {
	switch {
	case errors.Is(err, ErrProviderAuth):
		return "The AI provider rejected your API key. Please check your credential and try again."
	case errors.Is(err, ErrUnsupportedProvider):
		return "The selected AI provider is not supported."
	case errors.Is(err, ErrProviderRateLimit):
		return "The AI provider rate limit was exceeded."
	case errors.Is(err, ErrProviderTimeout), errors.Is(err, context.DeadlineExceeded):
		return "The AI provider did not respond in time."
	case errors.Is(err, ErrPersistence):
		return "A temporary storage problem occurred. Please try again."
	case err == nil:
		return ""
	default:
		return err.Error()
	}
}
