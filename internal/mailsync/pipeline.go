package mailsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"mail-ingest/internal/documents"
	"mail-ingest/internal/extraction"
	"mail-ingest/internal/harvest"
	"mail-ingest/internal/normalize"
	"mail-ingest/internal/processed"
	"mail-ingest/internal/queue"
	"mail-ingest/internal/shared/metrics"
	"mail-ingest/internal/shared/storage/object"
	"mail-ingest/internal/shared/telemetry"
)

const (
	uploadCategory = "invoices"
	notifyTimeout  = 5 * time.Second
)

// Extractor reads structured fields from document bytes.
type Extractor interface {
	Extract(ctx context.Context, in extraction.Input) (extraction.Result, error)
	ExtractBatch(ctx context.Context, inputs []extraction.Input) []extraction.BatchItem
}

// DuplicateFinder looks up existing documents that match new fields.
type DuplicateFinder interface {
	FindDuplicates(ctx context.Context, workspaceID, documentNumber, counterparty string, total float64, excludeID string) ([]documents.Document, error)
}

// DocumentWriter persists canonical documents.
type DocumentWriter interface {
	Create(ctx context.Context, doc documents.Document) error
}

// Pipeline turns harvested attachments into canonical documents: upload, extract,
// normalize, flag duplicates, persist, announce.
type Pipeline struct {
	Store     object.Store
	Extractor Extractor
	Dedupe    DuplicateFinder
	Documents DocumentWriter
	Tasks     queue.Client
	// BatchOCR extracts a message's attachments concurrently and lets small documents
	// use the fast model.
	BatchOCR bool

	newID func() string
}

// Origin identifies where a set of attachments came from.
type Origin struct {
	WorkspaceID string
	OwnerID     string
	Source      documents.Source
	MessageID   string
}

// Outcome summarizes one Ingest call. Refs is aligned with the input attachments.
type Outcome struct {
	Refs    []processed.AttachmentRef
	Created int
	Err     error
}

// Ingest processes every attachment; a failing attachment does not stop the others and
// its error is joined into Outcome.Err.
func (p *Pipeline) Ingest(ctx context.Context, origin Origin, atts []harvest.Attachment) Outcome {
	refs := make([]processed.AttachmentRef, len(atts))
	stored := make([]*object.Stored, len(atts))
	var errs []error

	for i, att := range atts {
		refs[i] = processed.AttachmentRef{Filename: att.Filename, MimeType: att.MimeType, Size: att.Size}
		s, err := p.Store.Upload(ctx, object.UploadInput{
			Data:        att.Data,
			FileName:    att.Filename,
			OwnerID:     origin.OwnerID,
			Category:    uploadCategory,
			ScopeID:     origin.WorkspaceID,
			ContentType: att.MimeType,
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("upload %q: %w", att.Filename, err))
			continue
		}
		stored[i] = &s
	}

	results := p.extract(ctx, atts, stored)

	created := 0
	for i, att := range atts {
		if stored[i] == nil {
			continue
		}
		if results[i].Err != nil {
			errs = append(errs, fmt.Errorf("extract %q: %w", att.Filename, results[i].Err))
			continue
		}
		doc, err := p.persist(ctx, origin, att, *stored[i], results[i].Result)
		if err != nil {
			errs = append(errs, fmt.Errorf("persist %q: %w", att.Filename, err))
			continue
		}
		refs[i].LinkedDocumentID = doc.ID
		created++
	}
	return Outcome{Refs: refs, Created: created, Err: errors.Join(errs...)}
}

// extract returns one item per attachment; entries without an upload stay zero.
func (p *Pipeline) extract(ctx context.Context, atts []harvest.Attachment, stored []*object.Stored) []extraction.BatchItem {
	out := make([]extraction.BatchItem, len(atts))
	var idx []int
	var inputs []extraction.Input
	for i, att := range atts {
		if stored[i] == nil {
			continue
		}
		idx = append(idx, i)
		inputs = append(inputs, extraction.Input{Data: att.Data, MimeType: att.MimeType, FileName: att.Filename})
	}

	if p.BatchOCR && len(inputs) > 1 {
		for j, item := range p.Extractor.ExtractBatch(ctx, inputs) {
			out[idx[j]] = item
		}
		return out
	}
	for j, in := range inputs {
		res, err := p.Extractor.Extract(ctx, in)
		out[idx[j]] = extraction.BatchItem{Result: res, Err: err}
	}
	return out
}

func (p *Pipeline) persist(ctx context.Context, origin Origin, att harvest.Attachment, stored object.Stored, res extraction.Result) (documents.Document, error) {
	fields := normalize.Normalize(res.Data)

	var raw json.RawMessage
	if res.Data != nil {
		if b, err := json.Marshal(res.Data); err == nil {
			raw = b
		}
	}
	mimeType := stored.MimeType
	if mimeType == "" {
		mimeType = att.MimeType
	}
	size := stored.Size
	if size == 0 {
		size = att.Size
	}

	doc := documents.Document{
		ID:             p.id(),
		WorkspaceID:    origin.WorkspaceID,
		OwnerID:        origin.OwnerID,
		Source:         origin.Source,
		Status:         documents.StatusPendingReview,
		Type:           fields.Type,
		Counterparty:   fields.Counterparty,
		DocumentNumber: fields.DocumentNumber,
		IssueDate:      fields.IssueDate,
		DueDate:        fields.DueDate,
		LineItems:      fields.LineItems,
		TotalPreTax:    fields.TotalPreTax,
		TotalTax:       fields.TotalTax,
		Total:          fields.Total,
		Currency:       fields.Currency,
		PaymentMethod:  string(fields.PaymentMethod),
		Category:       string(fields.Category),
		Confidence:     res.Confidence,
		File: documents.FileRef{
			URL:          stored.URL,
			StorageKey:   stored.Key,
			OriginalName: att.Filename,
			MimeType:     mimeType,
			SizeBytes:    size,
		},
		RawOCR:          raw,
		SourceMessageID: origin.MessageID,
	}

	dups, err := p.Dedupe.FindDuplicates(ctx, doc.WorkspaceID, doc.DocumentNumber, doc.Counterparty.Name, doc.Total, doc.ID)
	if err != nil {
		telemetry.Warn("dedupe.failed", map[string]any{
			"workspaceId": doc.WorkspaceID,
			"messageId":   origin.MessageID,
			"error":       err.Error(),
		})
	} else if len(dups) > 0 {
		doc.IsDuplicate = true
		doc.DuplicateOf = dups[0].ID
		metrics.IncDuplicateFlagged()
	}

	if err := p.Documents.Create(ctx, doc); err != nil {
		return documents.Document{}, fmt.Errorf("create document: %w", err)
	}
	metrics.IncDocumentCreated()
	telemetry.Info("document.created", map[string]any{
		"workspaceId": doc.WorkspaceID,
		"documentId":  doc.ID,
		"source":      string(doc.Source),
		"model":       res.Model,
		"fromCache":   res.FromCache,
		"partial":     res.Partial,
		"duplicate":   doc.IsDuplicate,
	})

	p.notify(ctx, queue.NewDocumentIngestedTask(doc.WorkspaceID, doc.ID, origin.MessageID))
	return doc, nil
}

// notify hands the task to the queue without letting a queue failure reach the caller.
func (p *Pipeline) notify(ctx context.Context, t queue.Task) {
	if p.Tasks == nil {
		return
	}
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()
	if err := p.Tasks.Send(sendCtx, t); err != nil {
		metrics.IncTaskFailed()
		telemetry.Warn("queue.send_failed", map[string]any{
			"kind":       string(t.Kind),
			"documentId": t.DocumentID,
			"error":      err.Error(),
		})
		return
	}
	metrics.IncTaskEnqueued()
}

func (p *Pipeline) id() string {
	if p.newID != nil {
		return p.newID()
	}
	return uuid.NewString()
}
