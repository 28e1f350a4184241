package documents

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// PGRepo implements Repo using Postgres.
type PGRepo struct {
	DB *sql.DB
}

const documentColumns = `id, workspace_id, owner_id, source, status, document_type,
    counterparty_name, counterparty_address, counterparty_city, counterparty_postal_code,
    counterparty_country, counterparty_tax_id, counterparty_vat_number,
    document_number, issue_date, due_date, line_items, total_pre_tax, total_tax, total,
    currency, payment_method, category, confidence,
    file_url, storage_key, original_name, mime_type, size_bytes,
    is_duplicate, duplicate_of, raw_ocr, source_message_id, created_at, updated_at`

// Create inserts a new document.
func (r *PGRepo) Create(ctx context.Context, doc Document) error {
	if err := validate(doc); err != nil {
		return err
	}
	const query = `
INSERT INTO extracted_documents (` + documentColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18,
        $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30, $31, $32, $33, $34, $35)`

	lineItems := doc.LineItems
	if lineItems == nil {
		lineItems = []LineItem{}
	}
	itemsJSON, err := json.Marshal(lineItems)
	if err != nil {
		return fmt.Errorf("encode line items: %w", err)
	}
	var rawOCR any
	if len(doc.RawOCR) > 0 {
		rawOCR = []byte(doc.RawOCR)
	}
	now := time.Now().UTC()
	createdAt := doc.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	updatedAt := doc.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = createdAt
	}

	_, err = r.DB.ExecContext(
		ctx,
		query,
		doc.ID,
		doc.WorkspaceID,
		doc.OwnerID,
		string(doc.Source),
		string(doc.Status),
		string(doc.Type),
		doc.Counterparty.Name,
		doc.Counterparty.Address,
		doc.Counterparty.City,
		doc.Counterparty.PostalCode,
		doc.Counterparty.Country,
		doc.Counterparty.TaxID,
		doc.Counterparty.VATNumber,
		doc.DocumentNumber,
		nullTime(doc.IssueDate),
		nullTime(doc.DueDate),
		itemsJSON,
		doc.TotalPreTax,
		doc.TotalTax,
		doc.Total,
		doc.Currency,
		doc.PaymentMethod,
		doc.Category,
		doc.Confidence,
		doc.File.URL,
		doc.File.StorageKey,
		doc.File.OriginalName,
		doc.File.MimeType,
		doc.File.SizeBytes,
		doc.IsDuplicate,
		nullString(doc.DuplicateOf),
		rawOCR,
		nullString(doc.SourceMessageID),
		createdAt,
		updatedAt,
	)
	return err
}

// Get fetches a document by ID within a workspace.
func (r *PGRepo) Get(ctx context.Context, workspaceID, id string) (Document, error) {
	const query = `
SELECT ` + documentColumns + `
FROM extracted_documents
WHERE workspace_id = $1 AND id::text = $2
LIMIT 1`
	doc, err := scanDocument(r.DB.QueryRowContext(ctx, query, workspaceID, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Document{}, ErrNotFound
		}
		return Document{}, err
	}
	return doc, nil
}

// List lists workspace documents ordered newest-first.
func (r *PGRepo) List(ctx context.Context, workspaceID string, filter ListFilter) ([]Document, error) {
	limit, offset := clampPage(filter.Limit, filter.Offset)
	const query = `
SELECT ` + documentColumns + `
FROM extracted_documents
WHERE workspace_id = $1
  AND ($2 = '' OR status = $2)
  AND ($3 = '' OR source = $3)
ORDER BY created_at DESC
LIMIT $4 OFFSET $5`

	rows, err := r.DB.QueryContext(ctx, query, workspaceID, string(filter.Status), string(filter.Source), limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collect(rows)
}

// CountByStatus counts documents of one source in one review status.
func (r *PGRepo) CountByStatus(ctx context.Context, workspaceID string, source Source, status Status) (int, error) {
	const query = `
SELECT COUNT(*)
FROM extracted_documents
WHERE workspace_id = $1 AND source = $2 AND status = $3`
	var n int
	if err := r.DB.QueryRowContext(ctx, query, workspaceID, string(source), string(status)).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// FindDuplicateCandidates returns documents whose number or total matches. Number
// matches sort ahead of total-only matches so the cap never drops them.
func (r *PGRepo) FindDuplicateCandidates(ctx context.Context, workspaceID, documentNumber string, total float64, excludeID string) ([]Document, error) {
	const query = `
SELECT ` + documentColumns + `
FROM extracted_documents
WHERE workspace_id = $1
  AND ($2 = '' OR id::text <> $2)
  AND (
        ($3 <> '' AND lower(replace(document_number, ' ', '')) = $3)
        OR abs(total - $4) < 0.005
      )
ORDER BY ($3 <> '' AND lower(replace(document_number, ' ', '')) = $3) DESC, created_at DESC
LIMIT $5`

	rows, err := r.DB.QueryContext(ctx, query, workspaceID, excludeID, NormalizeNumber(documentNumber), total, maxCandidates)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collect(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func collect(rows *sql.Rows) ([]Document, error) {
	var out []Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

func scanDocument(row rowScanner) (Document, error) {
	var doc Document
	var source, status, docType string
	var issueDate, dueDate sql.NullTime
	var itemsJSON []byte
	var duplicateOf sql.NullString
	var rawOCR []byte
	var sourceMessageID sql.NullString
	err := row.Scan(
		&doc.ID,
		&doc.WorkspaceID,
		&doc.OwnerID,
		&source,
		&status,
		&docType,
		&doc.Counterparty.Name,
		&doc.Counterparty.Address,
		&doc.Counterparty.City,
		&doc.Counterparty.PostalCode,
		&doc.Counterparty.Country,
		&doc.Counterparty.TaxID,
		&doc.Counterparty.VATNumber,
		&doc.DocumentNumber,
		&issueDate,
		&dueDate,
		&itemsJSON,
		&doc.TotalPreTax,
		&doc.TotalTax,
		&doc.Total,
		&doc.Currency,
		&doc.PaymentMethod,
		&doc.Category,
		&doc.Confidence,
		&doc.File.URL,
		&doc.File.StorageKey,
		&doc.File.OriginalName,
		&doc.File.MimeType,
		&doc.File.SizeBytes,
		&doc.IsDuplicate,
		&duplicateOf,
		&rawOCR,
		&sourceMessageID,
		&doc.CreatedAt,
		&doc.UpdatedAt,
	)
	if err != nil {
		return Document{}, err
	}
	doc.Source = Source(source)
	doc.Status = Status(status)
	doc.Type = DocumentType(docType)
	if issueDate.Valid {
		t := issueDate.Time
		doc.IssueDate = &t
	}
	if dueDate.Valid {
		t := dueDate.Time
		doc.DueDate = &t
	}
	if len(itemsJSON) > 0 {
		if err := json.Unmarshal(itemsJSON, &doc.LineItems); err != nil {
			return Document{}, fmt.Errorf("decode line items: %w", err)
		}
	}
	if duplicateOf.Valid {
		doc.DuplicateOf = duplicateOf.String
	}
	if len(rawOCR) > 0 {
		doc.RawOCR = json.RawMessage(rawOCR)
	}
	if sourceMessageID.Valid {
		doc.SourceMessageID = sourceMessageID.String
	}
	return doc, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullString(s string) sql.NullString {
	if strings.TrimSpace(s) == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

var _ Repo = (*PGRepo)(nil)
