package providers

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strings"
	"time"
)

// Transient error substrings that warrant a retry even without an HTTP
// status to classify.
var retryableErrorPatterns = []string{
	"connection refused",
	"connection reset",
	"timeout",
	"temporary failure",
	"unexpected eof",
	"overloaded",
}

// RetryPolicy bounds retries for transient provider failures.
type RetryPolicy struct {
	MaxRetries int
	Backoff    time.Duration
}

// DefaultRetryPolicy matches the config defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, Backoff: time.Second}
}

// IsRetryable reports whether an error is worth retrying: rate limits,
// 5xx responses, and transient network failures. Auth failures never are.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrAuth) {
		return false
	}
	if errors.Is(err, ErrRateLimited) {
		return true
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range retryableErrorPatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// withRetry runs fn with exponential backoff on retryable errors.
// Non-retryable errors and context cancellation return immediately.
func withRetry(ctx context.Context, policy RetryPolicy, logger *slog.Logger, fn func() error) error {
	backoff := policy.Backoff
	if backoff <= 0 {
		backoff = time.Second
	}

	var err error
	for attempt := 0; ; attempt++ {
		err = fn()
		if err == nil || !IsRetryable(err) {
			return err
		}
		if attempt >= policy.MaxRetries {
			return err
		}

		logger.Warn("retrying provider call",
			"attempt", attempt+1,
			"max_retries", policy.MaxRetries,
			"backoff", backoff,
			"error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}
