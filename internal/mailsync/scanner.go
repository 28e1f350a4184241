// Package mailsync scans linked mailboxes for billing attachments and turns them into
// documents awaiting review.
package mailsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"mail-ingest/internal/connections"
	"mail-ingest/internal/documents"
	"mail-ingest/internal/gmail"
	"mail-ingest/internal/harvest"
	"mail-ingest/internal/processed"
	"mail-ingest/internal/shared/metrics"
	"mail-ingest/internal/shared/telemetry"
)

const (
	DefaultMaxMessages = 500
	DefaultBatchSize   = 10
	DefaultBatchPause  = 2 * time.Second
)

// Mailbox is the provider surface a scan needs.
type Mailbox interface {
	ListMessages(ctx context.Context, token, query, pageToken string, maxResults int) (gmail.ListResult, error)
	GetMessage(ctx context.Context, token, id string) (gmail.Message, error)
	harvest.Fetcher
}

// TokenProvider yields a usable access token for a connection.
type TokenProvider interface {
	EnsureValidToken(ctx context.Context, conn connections.Connection) (string, error)
}

// ConnectionStore is the connection state a scan reads and moves.
type ConnectionStore interface {
	Get(ctx context.Context, id string) (connections.Connection, error)
	MarkSyncing(ctx context.Context, id string) (bool, error)
	CompleteSync(ctx context.Context, id string, outcome connections.SyncOutcome) error
}

// Options tunes the scan loop.
type Options struct {
	MaxMessages int
	BatchSize   int
	BatchPause  time.Duration
	Overlap     time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxMessages <= 0 {
		o.MaxMessages = DefaultMaxMessages
	}
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.BatchPause < 0 {
		o.BatchPause = 0
	}
	if o.Overlap <= 0 {
		o.Overlap = DefaultOverlap
	}
	return o
}

// ScanOptions selects between a full-window and an incremental scan.
type ScanOptions struct {
	Initial bool
}

// ScanResult carries the counts of one scan. InProgress means another scan held the
// connection and nothing was done.
type ScanResult struct {
	ScannedCount int
	FoundCount   int
	SkippedCount int
	InProgress   bool
}

// Scanner runs the per-connection scan state machine.
type Scanner struct {
	conns     ConnectionStore
	processed processed.Repo
	mail      Mailbox
	tokens    TokenProvider
	pipeline  *Pipeline
	opts      Options

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
	newID func() string
}

// NewScanner wires a Scanner.
func NewScanner(conns ConnectionStore, processedRepo processed.Repo, mail Mailbox, tokens TokenProvider, pipeline *Pipeline, opts Options) *Scanner {
	return &Scanner{
		conns:     conns,
		processed: processedRepo,
		mail:      mail,
		tokens:    tokens,
		pipeline:  pipeline,
		opts:      opts.withDefaults(),
		now:       func() time.Time { return time.Now().UTC() },
		sleep:     sleepCtx,
		newID:     uuid.NewString,
	}
}

// Scan examines the connection's new billing mail. A connection already syncing yields
// InProgress and no error. Counts gathered before a failure are returned with the error.
func (s *Scanner) Scan(ctx context.Context, connectionID string, opts ScanOptions) (ScanResult, error) {
	conn, err := s.conns.Get(ctx, connectionID)
	if err != nil {
		return ScanResult{}, err
	}
	if conn.Status == connections.StatusDisconnected || !conn.IsActive {
		return ScanResult{}, ErrConnectionInactive
	}

	acquired, err := s.conns.MarkSyncing(ctx, connectionID)
	if err != nil {
		return ScanResult{}, fmt.Errorf("mark syncing: %w", err)
	}
	if !acquired {
		metrics.IncScanSkipped()
		telemetry.Info("scan.in_progress", map[string]any{"connectionId": connectionID})
		return ScanResult{InProgress: true}, nil
	}

	started := s.now()
	initial := opts.Initial || conn.LastSyncAt == nil
	metrics.IncScanStarted()
	telemetry.Info("scan.started", map[string]any{
		"connectionId": conn.ID,
		"workspaceId":  conn.WorkspaceID,
		"initial":      initial,
	})

	res, runErr := s.run(ctx, conn, initial, started)
	s.complete(ctx, conn, started, res, runErr)
	return res, runErr
}

func (s *Scanner) run(ctx context.Context, conn connections.Connection, initial bool, started time.Time) (ScanResult, error) {
	var res ScanResult

	token, err := s.tokens.EnsureValidToken(ctx, conn)
	if err != nil {
		return res, err
	}

	query := BuildQuery(LowerBound(conn, initial, started, s.opts.Overlap))
	ids, err := s.listCandidates(ctx, token, query)
	if err != nil {
		return res, err
	}

	fresh, err := s.processed.FilterUnprocessed(ctx, conn.WorkspaceID, ids)
	if err != nil {
		return res, fmt.Errorf("filter processed messages: %w", err)
	}
	res.SkippedCount = len(ids) - len(fresh)
	metrics.AddMessagesSkipped(res.SkippedCount)

	for start := 0; start < len(fresh); start += s.opts.BatchSize {
		if start > 0 {
			if err := s.sleep(ctx, s.opts.BatchPause); err != nil {
				return res, err
			}
			// Long scans outlive an access token.
			if token, err = s.tokens.EnsureValidToken(ctx, conn); err != nil {
				return res, err
			}
		}
		end := min(start+s.opts.BatchSize, len(fresh))
		for _, id := range fresh[start:end] {
			found, err := s.processMessage(ctx, conn, token, id)
			res.ScannedCount++
			res.FoundCount += found
			if err != nil && IsAuthError(err) {
				return res, err
			}
		}
	}
	return res, nil
}

// listCandidates pages through matching message IDs up to the per-scan cap.
func (s *Scanner) listCandidates(ctx context.Context, token, query string) ([]string, error) {
	seen := make(map[string]struct{})
	var ids []string
	pageToken := ""
	for len(ids) < s.opts.MaxMessages {
		n := min(gmail.MaxPageSize, s.opts.MaxMessages-len(ids))
		page, err := s.mail.ListMessages(ctx, token, query, pageToken, n)
		if err != nil {
			return nil, fmt.Errorf("list messages: %w", err)
		}
		for _, ref := range page.Messages {
			if _, dup := seen[ref.ID]; dup || ref.ID == "" {
				continue
			}
			seen[ref.ID] = struct{}{}
			ids = append(ids, ref.ID)
			if len(ids) == s.opts.MaxMessages {
				break
			}
		}
		if page.NextPageToken == "" || len(page.Messages) == 0 {
			break
		}
		pageToken = page.NextPageToken
	}
	return ids, nil
}

// processMessage handles one message end to end and leaves a processed record.
// The returned error has already been recorded unless it is an auth failure.
func (s *Scanner) processMessage(ctx context.Context, conn connections.Connection, token, messageID string) (int, error) {
	rec := processed.Record{
		ID:           s.newID(),
		WorkspaceID:  conn.WorkspaceID,
		ConnectionID: conn.ID,
		MessageID:    messageID,
		Status:       processed.StatusSkipped,
	}

	msg, err := s.mail.GetMessage(ctx, token, messageID)
	if err != nil {
		return 0, s.fail(ctx, rec, fmt.Errorf("get message: %w", err))
	}
	rec.ThreadID = msg.ThreadID
	rec.Subject = msg.Header("Subject")
	rec.Sender = msg.Header("From")
	rec.ReceivedAt = msg.ReceivedAt()

	atts, err := harvest.Harvest(ctx, s.mail, token, msg)
	if err != nil {
		return 0, s.fail(ctx, rec, err)
	}
	rec.AttachmentCount = len(atts)
	if len(atts) == 0 {
		s.record(ctx, rec)
		return 0, nil
	}

	out := s.pipeline.Ingest(ctx, Origin{
		WorkspaceID: conn.WorkspaceID,
		OwnerID:     conn.UserID,
		Source:      documents.SourceGmail,
		MessageID:   messageID,
	}, atts)
	rec.Attachments = out.Refs
	rec.HasInvoice = out.Created > 0
	if out.Err != nil {
		return out.Created, s.fail(ctx, rec, out.Err)
	}
	rec.Status = processed.StatusProcessed
	metrics.IncMessageProcessed()
	s.record(ctx, rec)
	return out.Created, nil
}

func (s *Scanner) fail(ctx context.Context, rec processed.Record, err error) error {
	// Left unrecorded so the message is retried once the mailbox is relinked.
	if IsAuthError(err) {
		return err
	}
	rec.Status = processed.StatusError
	rec.ErrorDetail = truncate(err.Error())
	metrics.IncMessageFailed()
	telemetry.Warn("scan.message_failed", map[string]any{
		"connectionId": rec.ConnectionID,
		"messageId":    rec.MessageID,
		"error":        err.Error(),
	})
	s.record(ctx, rec)
	return err
}

func (s *Scanner) record(ctx context.Context, rec processed.Record) {
	err := s.processed.Insert(context.WithoutCancel(ctx), rec)
	switch {
	case err == nil:
	case errors.Is(err, processed.ErrAlreadyProcessed):
		telemetry.Info("scan.message_already_recorded", map[string]any{"messageId": rec.MessageID})
	default:
		telemetry.Error("scan.record_failed", map[string]any{
			"messageId": rec.MessageID,
			"error":     err.Error(),
		})
	}
}

// complete leaves the syncing state; it runs detached so a cancelled caller cannot strand
// the connection in syncing.
func (s *Scanner) complete(ctx context.Context, conn connections.Connection, started time.Time, res ScanResult, runErr error) {
	outcome := connections.SyncOutcome{
		Scanned: int64(res.ScannedCount),
		Found:   int64(res.FoundCount),
	}
	fields := map[string]any{
		"connectionId": conn.ID,
		"workspaceId":  conn.WorkspaceID,
		"scanned":      res.ScannedCount,
		"found":        res.FoundCount,
		"skipped":      res.SkippedCount,
		"durationMs":   metrics.SinceMs(started),
	}

	switch {
	case runErr == nil:
		outcome.Status = connections.StatusActive
		t := started
		outcome.SyncedAt = &t
		metrics.IncScanCompleted()
		telemetry.Info("scan.completed", fields)
	case IsAuthError(runErr):
		outcome.Status = connections.StatusExpired
		outcome.LastError = TranslateError(runErr)
		metrics.IncScanFailed()
		fields["error"] = runErr.Error()
		telemetry.Warn("scan.expired", fields)
	default:
		outcome.Status = connections.StatusError
		outcome.LastError = TranslateError(runErr)
		metrics.IncScanFailed()
		fields["error"] = runErr.Error()
		telemetry.Error("scan.failed", fields)
	}
	metrics.ObserveScanDurationMs(metrics.SinceMs(started))

	if err := s.conns.CompleteSync(context.WithoutCancel(ctx), conn.ID, outcome); err != nil {
		telemetry.Error("scan.complete_failed", map[string]any{
			"connectionId": conn.ID,
			"error":        err.Error(),
		})
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
