package health

import (
	"context"
	"time"
)

// Check probes one dependency; a nil error means healthy.
type Check func(ctx context.Context) error

// Service aggregates dependency probes for the health endpoint.
type Service struct {
	checks  map[string]Check
	timeout time.Duration
}

// NewService constructs a health service with the given named probes.
func NewService(checks map[string]Check) *Service {
	if checks == nil {
		checks = map[string]Check{}
	}
	return &Service{checks: checks, timeout: 2 * time.Second}
}

// Status runs every probe and reports per-dependency state. ok is false when any probe fails.
func (s *Service) Status(ctx context.Context) (bool, map[string]string) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	ok := true
	out := make(map[string]string, len(s.checks))
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			ok = false
			out[name] = err.Error()
			continue
		}
		out[name] = "ok"
	}
	return ok, out
}
