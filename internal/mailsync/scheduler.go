package mailsync

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"mail-ingest/internal/connections"
	"mail-ingest/internal/shared/telemetry"
)

// SchedulableLister lists the connections periodic scans should visit.
type SchedulableLister interface {
	ListSchedulable(ctx context.Context) ([]connections.Connection, error)
}

// ScanTrigger runs one scan for a connection.
type ScanTrigger interface {
	TriggerScan(ctx context.Context, connectionID string) (TriggerResult, error)
}

// Scheduler periodically scans every active connection, several connections at a time.
type Scheduler struct {
	conns       SchedulableLister
	trigger     ScanTrigger
	interval    time.Duration
	concurrency int
}

func NewScheduler(conns SchedulableLister, trigger ScanTrigger, interval time.Duration, concurrency int) *Scheduler {
	if interval <= 0 {
		interval = 6 * time.Hour
	}
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Scheduler{conns: conns, trigger: trigger, interval: interval, concurrency: concurrency}
}

// RunOnce scans every schedulable connection and returns how many scans ran.
func (s *Scheduler) RunOnce(ctx context.Context) (int, error) {
	conns, err := s.conns.ListSchedulable(ctx)
	if err != nil {
		return 0, err
	}

	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for _, conn := range conns {
		conn := conn
		g.Go(func() error {
			res, err := s.trigger.TriggerScan(ctx, conn.ID)
			if err != nil {
				telemetry.Warn("scheduler.scan_failed", map[string]any{
					"connectionId": conn.ID,
					"error":        err.Error(),
				})
				return nil
			}
			telemetry.Info("scheduler.scan_done", map[string]any{
				"connectionId": conn.ID,
				"success":      res.Success,
				"inProgress":   res.InProgress,
				"scanned":      res.ScannedCount,
				"found":        res.FoundCount,
			})
			return nil
		})
	}
	_ = g.Wait()
	return len(conns), nil
}

// Run ticks until ctx ends, starting with an immediate pass.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		if n, err := s.RunOnce(ctx); err != nil {
			telemetry.Error("scheduler.list_failed", map[string]any{"error": err.Error()})
		} else {
			telemetry.Info("scheduler.pass_done", map[string]any{"connections": n})
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
