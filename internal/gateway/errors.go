package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ProviderError is the generic failure class for provider calls: transport
// failures, non-2xx statuses and malformed payloads.
type ProviderError struct {
	Provider   string
	StatusCode int
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("provider %s: status %d: %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("provider %s: %s", e.Provider, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// RateLimitError reports that the provider throttled us. RetryAfter is zero
// when the provider gave no hint.
type RateLimitError struct {
	Provider   string
	RetryAfter time.Duration
	Message    string
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("provider %s rate limited (retry after %s): %s", e.Provider, e.RetryAfter, e.Message)
	}
	return fmt.Sprintf("provider %s rate limited: %s", e.Provider, e.Message)
}

// TimeoutError reports that a provider call exceeded its deadline.
type TimeoutError struct {
	Provider string
	Err      error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("provider %s timed out: %v", e.Provider, e.Err)
}

func (e *TimeoutError) Unwrap() error {
	return e.Err
}

// IsRateLimit reports whether err (anywhere in its chain) is a rate-limit
// failure.
func IsRateLimit(err error) bool {
	var rl *RateLimitError
	return errors.As(err, &rl)
}

// RetryAfter extracts the provider's retry hint from a rate-limit error.
// It returns zero when err is not a rate limit or carries no hint.
func RetryAfter(err error) time.Duration {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl.RetryAfter
	}
	return 0
}

// IsTimeout reports whether err is a timeout failure.
func IsTimeout(err error) bool {
	var te *TimeoutError
	if errors.As(err, &te) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// classifyHTTPError maps a non-2xx provider response onto the error
// taxonomy. 429 responses and quota-flavored bodies become rate limits.
func classifyHTTPError(provider string, status int, header http.Header, body string) error {
	message := strings.TrimSpace(body)
	if len(message) > 280 {
		message = message[:280]
	}

	if status == http.StatusTooManyRequests || looksRateLimited(message) {
		return &RateLimitError{
			Provider:   provider,
			RetryAfter: parseRetryAfter(header, message),
			Message:    message,
		}
	}

	return &ProviderError{
		Provider:   provider,
		StatusCode: status,
		Message:    message,
	}
}

func classifyTransportError(provider string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Provider: provider, Err: err}
	}
	msg := err.Error()
	if strings.Contains(msg, "Client.Timeout") || strings.Contains(msg, "deadline exceeded") {
		return &TimeoutError{Provider: provider, Err: err}
	}
	return &ProviderError{Provider: provider, Message: msg, Err: err}
}

func looksRateLimited(message string) bool {
	lower := strings.ToLower(message)
	return strings.Contains(lower, "too many requests") ||
		strings.Contains(lower, "rate limit") ||
		strings.Contains(lower, "quota")
}

// parseRetryAfter reads the standard Retry-After header (delta-seconds form)
// and falls back to "retry after Ns" hints embedded in error bodies.
func parseRetryAfter(header http.Header, message string) time.Duration {
	if header != nil {
		raw := strings.TrimSpace(header.Get("Retry-After"))
		if raw != "" {
			if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
				return time.Duration(secs) * time.Second
			}
			if at, err := http.ParseTime(raw); err == nil {
				if wait := time.Until(at); wait > 0 {
					return wait
				}
			}
		}
	}

	lower := strings.ToLower(message)
	marker := "retry after "
	idx := strings.Index(lower, marker)
	if idx < 0 {
		return 0
	}
	rest := lower[idx+len(marker):]
	var digits strings.Builder
	for _, r := range rest {
		if r < '0' || r > '9' {
			break
		}
		digits.WriteRune(r)
	}
	if digits.Len() == 0 {
		return 0
	}
	secs, err := strconv.Atoi(digits.String())
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
