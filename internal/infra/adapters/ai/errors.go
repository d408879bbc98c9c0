package ai

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"conversation-analysis/internal/domain"
)

// classifyStatus maps an HTTP status from a provider to a domain error.
func classifyStatus(provider string, status int, detail string) error {
	var kind error
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		kind = domain.ErrProviderAuth
	case status == http.StatusTooManyRequests:
		kind = domain.ErrProviderRateLimit
	case status == http.StatusRequestTimeout, status == http.StatusGatewayTimeout:
		kind = domain.ErrProviderTimeout
	case status >= 500:
		kind = domain.ErrProviderUnavailable
	case status == http.StatusNotFound, status == http.StatusBadRequest, status == http.StatusUnprocessableEntity:
		kind = domain.ErrInvalidArgument
	default:
		kind = domain.ErrProviderUnavailable
	}
	if detail == "" {
		return fmt.Errorf("%s: http %d: %w", provider, status, kind)
	}
	return fmt.Errorf("%s: http %d: %s: %w", provider, status, detail, kind)
}

// classifyTransport maps errors raised before any HTTP status was seen.
func classifyTransport(provider string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %v: %w", provider, err, domain.ErrProviderTimeout)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("%s: %v: %w", provider, err, domain.ErrProviderTimeout)
	}
	return fmt.Errorf("%s: %v: %w", provider, err, domain.ErrProviderUnavailable)
}

func truncateDetail(s string) string {
	const max = 300
	if len(s) > max {
		return s[:max]
	}
	return s
}
