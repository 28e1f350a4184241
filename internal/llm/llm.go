// Package llm defines the provider-neutral request shape used to ask a vision model to
// read a document, and the error classification shared by every provider.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Document is an inline file sent alongside the prompt.
type Document struct {
	Data     []byte
	MimeType string
	FileName string
}

// Request is one generation call.
type Request struct {
	Model  string
	System string
	Prompt string
	// Document is optional; text-only prompts leave it nil.
	Document *Document
	// JSON asks the provider for a JSON response body when it supports it.
	JSON bool
}

// Generator produces text for a request.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, req Request) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

var (
	// ErrEmptyResponse is returned when the provider answered without any text.
	ErrEmptyResponse = errors.New("llm returned an empty response")
	// ErrNotConfigured is returned by Disabled.
	ErrNotConfigured = errors.New("llm provider not configured")
)

// APIError is a non-2xx answer from a provider.
type APIError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s api error: http status %d", e.Provider, e.StatusCode)
	}
	return fmt.Sprintf("%s api error: http status %d: %s", e.Provider, e.StatusCode, e.Message)
}

// Retryable reports whether the status is a rate limit or a server fault.
func (e *APIError) Retryable() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}

// Disabled is the generator used when no provider key is configured.
type Disabled struct{}

func (Disabled) Generate(context.Context, Request) (string, error) {
	return "", ErrNotConfigured
}

// IsTransient reports whether err is worth retrying: rate limits, 5xx answers,
// timeouts and dropped connections.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "client.timeout") || strings.Contains(msg, "timeout") {
		return true
	}
	return strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection closed") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "unexpected eof")
}
