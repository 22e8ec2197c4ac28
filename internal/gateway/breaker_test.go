package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestBreakerProvider_OpensAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()

	inner := NewMockProvider()
	inner.Fail = &ProviderError{Provider: "mock", Message: "boom"}

	breaker := NewBreakerProvider(inner, BreakerSettings{
		ConsecutiveFailures: 2,
		OpenTimeout:         time.Minute,
	}, zerolog.Nop())

	req := &Request{Texts: []string{"hi"}, TargetLanguage: "it"}
	for i := 0; i < 2; i++ {
		if _, err := breaker.Translate(context.Background(), req); err == nil {
			t.Fatalf("call %d: expected failure", i)
		}
	}

	// Third call must fail fast without reaching the provider.
	inner.Fail = nil
	_, err := breaker.Translate(context.Background(), req)
	var provErr *ProviderError
	if !errors.As(err, &provErr) {
		t.Fatalf("expected ProviderError from open breaker, got %v", err)
	}
	if provErr.Message != "circuit breaker open" {
		t.Fatalf("unexpected message: %q", provErr.Message)
	}
}

func TestBreakerProvider_RateLimitsDoNotTrip(t *testing.T) {
	t.Parallel()

	inner := NewMockProvider()
	inner.Fail = &RateLimitError{Provider: "mock", Message: "slow down"}

	breaker := NewBreakerProvider(inner, BreakerSettings{
		ConsecutiveFailures: 2,
		OpenTimeout:         time.Minute,
	}, zerolog.Nop())

	req := &Request{Texts: []string{"hi"}, TargetLanguage: "it"}
	for i := 0; i < 5; i++ {
		if _, err := breaker.Translate(context.Background(), req); !IsRateLimit(err) {
			t.Fatalf("call %d: expected rate-limit error, got %v", i, err)
		}
	}

	// Breaker stayed closed: a healthy call goes through.
	inner.Fail = nil
	if _, err := breaker.Translate(context.Background(), req); err != nil {
		t.Fatalf("expected success after rate limits, got %v", err)
	}
}
