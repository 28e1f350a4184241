package llm

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"mail-ingest/internal/shared/metrics"
	"mail-ingest/internal/shared/telemetry"
)

const (
	DefaultMaxAttempts     = 3
	defaultInitialInterval = 500 * time.Millisecond
	defaultMaxInterval     = 8 * time.Second
)

// RetryOptions bounds the retry loop around a Generator.
type RetryOptions struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

type retrying struct {
	base Generator
	opts RetryOptions
}

// WithRetry retries transient failures of base with exponential backoff. Once the
// attempts are spent the last error is returned.
func WithRetry(base Generator, opts RetryOptions) Generator {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.InitialInterval <= 0 {
		opts.InitialInterval = defaultInitialInterval
	}
	if opts.MaxInterval <= 0 {
		opts.MaxInterval = defaultMaxInterval
	}
	return retrying{base: base, opts: opts}
}

func (r retrying) Generate(ctx context.Context, req Request) (string, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = r.opts.InitialInterval
	policy.MaxInterval = r.opts.MaxInterval
	policy.MaxElapsedTime = 0

	var out string
	attempt := 0
	op := func() error {
		attempt++
		metrics.IncExtractionCall()
		text, err := r.base.Generate(ctx, req)
		if err == nil {
			out = text
			return nil
		}
		if !IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		metrics.IncExtractionRetry()
		telemetry.Warn("llm.retry", map[string]any{
			"model":   req.Model,
			"attempt": attempt,
			"waitMs":  wait.Milliseconds(),
			"error":   err.Error(),
		})
	}

	b := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(r.opts.MaxAttempts-1)), ctx)
	if err := backoff.RetryNotify(op, b, notify); err != nil {
		return "", err
	}
	return out, nil
}
