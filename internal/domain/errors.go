package domain

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for the gateway error taxonomy. Handlers map these to
// HTTP statuses; everything else is a generic server error.
var (
	// ErrInvalidRequest marks a malformed client request. Never retried.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrUnknownModel marks a model that resolves neither exactly nor to
	// the configured default.
	ErrUnknownModel = errors.New("unknown model")

	// ErrUpstreamAuth marks a rejected upstream session credential.
	// Fatal for the current session; never retried.
	ErrUpstreamAuth = errors.New("upstream session rejected")

	// ErrUpstreamUnavailable marks an upstream transport failure or timeout.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrUpstreamProtocol marks an upstream response that could not be
	// parsed as the expected event shape.
	ErrUpstreamProtocol = errors.New("upstream protocol error")
)

// RateLimitError signals that a client exceeded its request quota.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %s", e.RetryAfter.Round(time.Second))
}

// TranslationError signals that the upstream event sequence reported a
// failure while being reshaped into a completion.
type TranslationError struct {
	Detail string
}

func (e *TranslationError) Error() string {
	return fmt.Sprintf("upstream turn failed: %s", e.Detail)
}
