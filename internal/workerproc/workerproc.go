// Package workerproc decodes queued tasks and dispatches them to the mailbox services.
package workerproc

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"mail-ingest/internal/connections"
	"mail-ingest/internal/documents"
	"mail-ingest/internal/mailsync"
	"mail-ingest/internal/queue"
	"mail-ingest/internal/shared/telemetry"
)

// MessageMeta captures details useful for logging and diagnostics.
type MessageMeta struct {
	BodyLen int
	BodySHA string
}

// ComputeMeta returns the body length and SHA-256 hash.
func ComputeMeta(body string) MessageMeta {
	if body == "" {
		return MessageMeta{}
	}
	sum := sha256.Sum256([]byte(body))
	return MessageMeta{BodyLen: len(body), BodySHA: hex.EncodeToString(sum[:])}
}

// ErrEmptyBody indicates an empty queue payload.
type ErrEmptyBody struct {
	Meta MessageMeta
}

func (e ErrEmptyBody) Error() string { return "empty message body" }

// ErrDecode indicates a JSON decode failure.
type ErrDecode struct {
	Meta MessageMeta
	Err  error
}

func (e ErrDecode) Error() string {
	if e.Err == nil {
		return "decode task"
	}
	return "decode task: " + e.Err.Error()
}

func (e ErrDecode) Unwrap() error { return e.Err }

// ErrInvalidTask indicates a decoded task that cannot be dispatched.
type ErrInvalidTask struct {
	Meta      MessageMeta
	Kind      queue.Kind
	RequestID string
	Reason    string
}

func (e ErrInvalidTask) Error() string { return "invalid task: " + e.Reason }

// ErrProcess indicates processing failed after successful parsing. Permanent failures
// will not succeed on redelivery.
type ErrProcess struct {
	Task      queue.Task
	Permanent bool
	Err       error
}

func (e ErrProcess) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("process %s task", e.Task.Kind)
	}
	return fmt.Sprintf("process %s task: %v", e.Task.Kind, e.Err)
}

func (e ErrProcess) Unwrap() error { return e.Err }

// IsUnrecoverable reports whether the message carrying err should be removed from the
// queue rather than redelivered.
func IsUnrecoverable(err error) bool {
	var empty ErrEmptyBody
	var decode ErrDecode
	var invalid ErrInvalidTask
	var proc ErrProcess
	switch {
	case errors.As(err, &empty), errors.As(err, &decode), errors.As(err, &invalid):
		return true
	case errors.As(err, &proc):
		return proc.Permanent
	}
	return false
}

// ParseTask validates and decodes the queue payload.
func ParseTask(body string) (queue.Task, MessageMeta, error) {
	meta := ComputeMeta(body)
	if strings.TrimSpace(body) == "" {
		return queue.Task{}, meta, ErrEmptyBody{Meta: meta}
	}

	t, err := queue.DecodeTask([]byte(body))
	if err != nil {
		return queue.Task{}, meta, ErrDecode{Meta: meta, Err: err}
	}
	if err := Validate(t); err != nil {
		var invalid ErrInvalidTask
		if errors.As(err, &invalid) {
			invalid.Meta = meta
			return t, meta, invalid
		}
		return t, meta, err
	}
	return t, meta, nil
}

// Validate checks that a task carries the identifiers its kind needs.
func Validate(t queue.Task) error {
	invalid := func(reason string) error {
		return ErrInvalidTask{Kind: t.Kind, RequestID: t.RequestID, Reason: reason}
	}
	if t.Version > queue.TaskVersion {
		return invalid(fmt.Sprintf("unsupported version %d", t.Version))
	}
	switch t.Kind {
	case queue.KindScan:
		if strings.TrimSpace(t.ConnectionID) == "" {
			return invalid("missing connection id")
		}
	case queue.KindDocumentIngested:
		if strings.TrimSpace(t.DocumentID) == "" || strings.TrimSpace(t.WorkspaceID) == "" {
			return invalid("missing document or workspace id")
		}
	default:
		return invalid(fmt.Sprintf("unknown kind %q", t.Kind))
	}
	return nil
}

// ScanTrigger runs a mailbox scan.
type ScanTrigger interface {
	TriggerScan(ctx context.Context, connectionID string) (mailsync.TriggerResult, error)
}

// DocumentReader loads a created document.
type DocumentReader interface {
	Get(ctx context.Context, workspaceID, id string) (documents.Document, error)
}

// Processor dispatches tasks by kind.
type Processor struct {
	Scans     ScanTrigger
	Documents DocumentReader
}

// HandleBody parses body and dispatches the task.
func (p *Processor) HandleBody(ctx context.Context, body []byte) error {
	t, _, err := ParseTask(string(body))
	if err != nil {
		return err
	}
	return p.Handle(ctx, t)
}

// Handle dispatches one decoded task. A scan that found the mailbox already syncing
// returns mailsync.ErrScanInProgress wrapped as a permanent failure.
func (p *Processor) Handle(ctx context.Context, t queue.Task) error {
	if err := Validate(t); err != nil {
		return err
	}
	switch t.Kind {
	case queue.KindScan:
		return p.handleScan(ctx, t)
	case queue.KindDocumentIngested:
		return p.handleIngested(ctx, t)
	}
	return ErrInvalidTask{Kind: t.Kind, RequestID: t.RequestID, Reason: "unhandled kind"}
}

func (p *Processor) handleScan(ctx context.Context, t queue.Task) error {
	if p.Scans == nil {
		return ErrProcess{Task: t, Err: errors.New("scan service not configured")}
	}
	res, err := p.Scans.TriggerScan(ctx, t.ConnectionID)
	if err != nil {
		permanent := errors.Is(err, mailsync.ErrConnectionInactive) || errors.Is(err, connections.ErrNotFound)
		return ErrProcess{Task: t, Permanent: permanent, Err: err}
	}
	if res.InProgress {
		return ErrProcess{Task: t, Permanent: true, Err: mailsync.ErrScanInProgress}
	}
	// Failed scans are already recorded on the connection; redelivery would only repeat them.
	telemetry.Info("worker.scan.done", map[string]any{
		"connectionId": t.ConnectionID,
		"workspaceId":  t.WorkspaceID,
		"success":      res.Success,
		"scanned":      res.ScannedCount,
		"found":        res.FoundCount,
		"skipped":      res.SkippedCount,
		"message":      res.Message,
	})
	return nil
}

func (p *Processor) handleIngested(ctx context.Context, t queue.Task) error {
	if p.Documents == nil {
		return ErrProcess{Task: t, Err: errors.New("document store not configured")}
	}
	doc, err := p.Documents.Get(ctx, t.WorkspaceID, t.DocumentID)
	if err != nil {
		return ErrProcess{Task: t, Permanent: errors.Is(err, documents.ErrNotFound), Err: err}
	}
	telemetry.Info("document.ingested", map[string]any{
		"workspaceId":  doc.WorkspaceID,
		"documentId":   doc.ID,
		"messageId":    t.MessageID,
		"source":       string(doc.Source),
		"type":         string(doc.Type),
		"counterparty": doc.Counterparty.Name,
		"total":        doc.Total,
		"currency":     doc.Currency,
		"duplicate":    doc.IsDuplicate,
		"duplicateOf":  doc.DuplicateOf,
	})
	return nil
}
