package mailsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mail-ingest/internal/connections"
	"mail-ingest/internal/documents"
	"mail-ingest/internal/queue"
	"mail-ingest/internal/shared/telemetry"
)

// PendingCounter counts documents awaiting review.
type PendingCounter interface {
	CountByStatus(ctx context.Context, workspaceID string, source documents.Source, status documents.Status) (int, error)
}

// Revoker revokes a connection's grant at the provider.
type Revoker interface {
	Revoke(ctx context.Context, conn connections.Connection) error
}

// TriggerResult is the caller-facing summary of a scan request.
type TriggerResult struct {
	Success      bool   `json:"success"`
	InProgress   bool   `json:"inProgress,omitempty"`
	ScannedCount int    `json:"scannedCount"`
	FoundCount   int    `json:"foundCount"`
	SkippedCount int    `json:"skippedCount"`
	Message      string `json:"message"`
}

// SyncStats reports lifetime counters for a connection.
type SyncStats struct {
	TotalScanned  int64              `json:"totalScanned"`
	TotalFound    int64              `json:"totalFound"`
	PendingReview int                `json:"pendingReview"`
	LastSyncAt    *time.Time         `json:"lastSyncAt,omitempty"`
	Status        connections.Status `json:"status"`
	LastError     string             `json:"lastError,omitempty"`
}

// Service exposes the mailbox operations used by the API, the worker and the scheduler.
type Service struct {
	conns   connections.Repo
	docs    PendingCounter
	scanner *Scanner
	revoker Revoker
	tasks   queue.Client
}

// NewService wires a Service. revoker and tasks may be nil.
func NewService(conns connections.Repo, docs PendingCounter, scanner *Scanner, revoker Revoker, tasks queue.Client) *Service {
	return &Service{conns: conns, docs: docs, scanner: scanner, revoker: revoker, tasks: tasks}
}

// Owned loads a connection and hides it from other workspaces.
func (s *Service) Owned(ctx context.Context, workspaceID, connectionID string) (connections.Connection, error) {
	conn, err := s.conns.Get(ctx, connectionID)
	if err != nil {
		return connections.Connection{}, err
	}
	if conn.WorkspaceID != workspaceID {
		return connections.Connection{}, connections.ErrNotFound
	}
	return conn, nil
}

// TriggerScan scans the connection now. A connection that never synced gets an initial
// scan over its whole window. Scan failures are reported in the result, not as errors.
func (s *Service) TriggerScan(ctx context.Context, connectionID string) (TriggerResult, error) {
	conn, err := s.conns.Get(ctx, connectionID)
	if err != nil {
		return TriggerResult{}, err
	}
	res, err := s.scanner.Scan(ctx, connectionID, ScanOptions{Initial: conn.LastSyncAt == nil})
	if errors.Is(err, ErrConnectionInactive) || errors.Is(err, connections.ErrNotFound) {
		return TriggerResult{}, err
	}

	out := TriggerResult{
		ScannedCount: res.ScannedCount,
		FoundCount:   res.FoundCount,
		SkippedCount: res.SkippedCount,
	}
	switch {
	case res.InProgress:
		out.InProgress = true
		out.Message = "A scan is already in progress for this mailbox."
	case err != nil:
		out.Message = TranslateError(err)
	default:
		out.Success = true
		out.Message = summary(res)
	}
	return out, nil
}

// EnqueueScan hands the scan to the worker queue.
func (s *Service) EnqueueScan(ctx context.Context, conn connections.Connection) error {
	if s.tasks == nil {
		return errors.New("task queue not configured")
	}
	if conn.Status == connections.StatusDisconnected {
		return ErrConnectionInactive
	}
	t := queue.NewScanTask(conn.WorkspaceID, conn.ID, conn.LastSyncAt == nil)
	t.RequestID = telemetry.RequestIDFrom(ctx)
	return s.tasks.Send(ctx, t)
}

// GetSyncStats reports lifetime counters and the workspace's Gmail documents awaiting review.
func (s *Service) GetSyncStats(ctx context.Context, connectionID string) (SyncStats, error) {
	conn, err := s.conns.Get(ctx, connectionID)
	if err != nil {
		return SyncStats{}, err
	}
	pending, err := s.docs.CountByStatus(ctx, conn.WorkspaceID, documents.SourceGmail, documents.StatusPendingReview)
	if err != nil {
		return SyncStats{}, fmt.Errorf("count pending documents: %w", err)
	}
	return SyncStats{
		TotalScanned:  conn.TotalScanned,
		TotalFound:    conn.TotalFound,
		PendingReview: pending,
		LastSyncAt:    conn.LastSyncAt,
		Status:        conn.Status,
		LastError:     conn.LastError,
	}, nil
}

// Disconnect clears the connection's tokens and marks it disconnected. Revocation at the
// provider is attempted first and its failure only logged.
func (s *Service) Disconnect(ctx context.Context, connectionID string) error {
	conn, err := s.conns.Get(ctx, connectionID)
	if err != nil {
		return err
	}
	if s.revoker != nil {
		if err := s.revoker.Revoke(ctx, conn); err != nil {
			telemetry.Warn("connection.revoke_failed", map[string]any{
				"connectionId": connectionID,
				"error":        err.Error(),
			})
		}
	}
	if err := s.conns.Disconnect(ctx, connectionID); err != nil {
		return err
	}
	telemetry.Info("connection.disconnected", map[string]any{
		"connectionId": connectionID,
		"workspaceId":  conn.WorkspaceID,
	})
	return nil
}

// UpdateScanWindow stores the lookback window clamped to 1..12 months and returns it.
func (s *Service) UpdateScanWindow(ctx context.Context, connectionID string, months int) (int, error) {
	clamped := connections.ClampMonths(months)
	if err := s.conns.UpdateScanWindow(ctx, connectionID, clamped); err != nil {
		return 0, err
	}
	return clamped, nil
}

func summary(res ScanResult) string {
	if res.ScannedCount == 0 {
		return "No new emails to process."
	}
	return fmt.Sprintf("%d document(s) found in %d new email(s).", res.FoundCount, res.ScannedCount)
}
