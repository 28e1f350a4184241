package llm

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"rate limited", &APIError{Provider: "gemini", StatusCode: 429}, true},
		{"server error", fmt.Errorf("wrap: %w", &APIError{Provider: "openai", StatusCode: 503}), true},
		{"bad request", &APIError{Provider: "openai", StatusCode: 400}, false},
		{"unauthorized", &APIError{Provider: "gemini", StatusCode: 401}, false},
		{"deadline", context.DeadlineExceeded, true},
		{"canceled", context.Canceled, false},
		{"net timeout", timeoutErr{}, true},
		{"connection reset", errors.New("read tcp: connection reset by peer"), true},
		{"empty response", ErrEmptyResponse, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Fatalf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func fastRetry() RetryOptions {
	return RetryOptions{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}
}

func TestWithRetryRecoversFromTransientFailure(t *testing.T) {
	var calls atomic.Int32
	base := GeneratorFunc(func(ctx context.Context, req Request) (string, error) {
		if calls.Add(1) < 3 {
			return "", &APIError{Provider: "gemini", StatusCode: 429}
		}
		return "ok", nil
	})

	out, err := WithRetry(base, fastRetry()).Generate(context.Background(), Request{Model: "m"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if out != "ok" || calls.Load() != 3 {
		t.Fatalf("out=%q calls=%d", out, calls.Load())
	}
}

func TestWithRetrySurfacesLastErrorWhenExhausted(t *testing.T) {
	var calls atomic.Int32
	base := GeneratorFunc(func(ctx context.Context, req Request) (string, error) {
		n := calls.Add(1)
		return "", &APIError{Provider: "gemini", StatusCode: 500, Message: fmt.Sprintf("attempt %d", n)}
	})

	_, err := WithRetry(base, fastRetry()).Generate(context.Background(), Request{Model: "m"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if calls.Load() != 3 || apiErr.Message != "attempt 3" {
		t.Fatalf("calls=%d message=%q", calls.Load(), apiErr.Message)
	}
}

func TestWithRetryDoesNotRetryPermanentErrors(t *testing.T) {
	var calls atomic.Int32
	base := GeneratorFunc(func(ctx context.Context, req Request) (string, error) {
		calls.Add(1)
		return "", &APIError{Provider: "openai", StatusCode: 400}
	})

	if _, err := WithRetry(base, fastRetry()).Generate(context.Background(), Request{}); err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1", calls.Load())
	}
}

func TestDisabledGenerator(t *testing.T) {
	if _, err := (Disabled{}).Generate(context.Background(), Request{}); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}
