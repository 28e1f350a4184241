package mailsync

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/google/uuid"

	"mail-ingest/internal/documents"
	"mail-ingest/internal/harvest"
	"mail-ingest/internal/processed"
	"mail-ingest/internal/shared/telemetry"
	"mail-ingest/internal/shared/util"
)

// ImportResult summarizes one .eml import.
type ImportResult struct {
	MessageID       string `json:"messageId"`
	AttachmentCount int    `json:"attachmentCount"`
	FoundCount      int    `json:"foundCount"`
	AlreadyImported bool   `json:"alreadyImported"`
	Error           string `json:"error,omitempty"`
}

// Importer ingests raw RFC 822 messages uploaded by users.
type Importer struct {
	processed processed.Repo
	pipeline  *Pipeline
}

func NewImporter(processedRepo processed.Repo, pipeline *Pipeline) *Importer {
	return &Importer{processed: processedRepo, pipeline: pipeline}
}

// ImportEML runs the attachments of raw through the pipeline once per message. Messages
// without a Message-ID are keyed by their content hash.
func (im *Importer) ImportEML(ctx context.Context, workspaceID, userID string, raw []byte) (ImportResult, error) {
	env, atts, err := harvest.HarvestMIME(raw)
	if err != nil {
		return ImportResult{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	messageID := strings.Trim(strings.TrimSpace(env.MessageID), "<>")
	if messageID == "" {
		messageID = "eml-" + util.ContentHash(raw)
	}
	res := ImportResult{MessageID: messageID, AttachmentCount: len(atts)}

	fresh, err := im.processed.FilterUnprocessed(ctx, workspaceID, []string{messageID})
	if err != nil {
		return ImportResult{}, fmt.Errorf("filter processed messages: %w", err)
	}
	if len(fresh) == 0 {
		res.AlreadyImported = true
		return res, nil
	}

	rec := processed.Record{
		ID:              uuid.NewString(),
		WorkspaceID:     workspaceID,
		MessageID:       messageID,
		Subject:         env.Subject,
		Sender:          env.From,
		AttachmentCount: len(atts),
		Status:          processed.StatusSkipped,
	}
	if t, err := mail.ParseDate(env.Date); err == nil {
		utc := t.UTC()
		rec.ReceivedAt = &utc
	}

	if len(atts) > 0 {
		out := im.pipeline.Ingest(ctx, Origin{
			WorkspaceID: workspaceID,
			OwnerID:     userID,
			Source:      documents.SourceEmailImport,
			MessageID:   messageID,
		}, atts)
		rec.Attachments = out.Refs
		rec.HasInvoice = out.Created > 0
		res.FoundCount = out.Created
		rec.Status = processed.StatusProcessed
		if out.Err != nil {
			rec.Status = processed.StatusError
			rec.ErrorDetail = truncate(out.Err.Error())
			res.Error = TranslateImportError(out.Err)
			telemetry.Warn("mail.import.partial_failure", map[string]any{
				"workspace_id": workspaceID,
				"message_id":   messageID,
				"created":      out.Created,
				"error":        out.Err.Error(),
			})
		}
	}

	if err := im.processed.Insert(ctx, rec); err != nil {
		if errors.Is(err, processed.ErrAlreadyProcessed) {
			res.AlreadyImported = true
			return res, nil
		}
		return res, fmt.Errorf("record import: %w", err)
	}
	return res, nil
}
