package documents

import (
	"encoding/json"
	"time"
)

// DocumentResponse is the outward-facing representation of an extracted document.
type DocumentResponse struct {
	DocumentID      string          `json:"documentId"`
	Source          Source          `json:"source"`
	Status          Status          `json:"status"`
	Type            DocumentType    `json:"documentType"`
	Counterparty    Counterparty    `json:"counterparty"`
	DocumentNumber  string          `json:"documentNumber,omitempty"`
	IssueDate       *time.Time      `json:"issueDate,omitempty"`
	DueDate         *time.Time      `json:"dueDate,omitempty"`
	LineItems       []LineItem      `json:"lineItems"`
	TotalPreTax     float64         `json:"totalPreTax"`
	TotalTax        float64         `json:"totalTax"`
	Total           float64         `json:"total"`
	Currency        string          `json:"currency"`
	PaymentMethod   string          `json:"paymentMethod"`
	Category        string          `json:"category"`
	Confidence      float64         `json:"confidence"`
	File            FileResponse    `json:"file"`
	IsDuplicate     bool            `json:"isDuplicate"`
	DuplicateOf     string          `json:"duplicateOf,omitempty"`
	SourceMessageID string          `json:"sourceMessageId,omitempty"`
	RawOCR          json.RawMessage `json:"rawOcr,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
}

type FileResponse struct {
	URL          string `json:"url"`
	OriginalName string `json:"originalName"`
	MimeType     string `json:"mimeType"`
	SizeBytes    int64  `json:"sizeBytes"`
}

func toResponse(doc Document, withRaw bool) DocumentResponse {
	items := doc.LineItems
	if items == nil {
		items = []LineItem{}
	}
	resp := DocumentResponse{
		DocumentID:     doc.ID,
		Source:         doc.Source,
		Status:         doc.Status,
		Type:           doc.Type,
		Counterparty:   doc.Counterparty,
		DocumentNumber: doc.DocumentNumber,
		IssueDate:      doc.IssueDate,
		DueDate:        doc.DueDate,
		LineItems:      items,
		TotalPreTax:    doc.TotalPreTax,
		TotalTax:       doc.TotalTax,
		Total:          doc.Total,
		Currency:       doc.Currency,
		PaymentMethod:  doc.PaymentMethod,
		Category:       doc.Category,
		Confidence:     doc.Confidence,
		File: FileResponse{
			URL:          doc.File.URL,
			OriginalName: doc.File.OriginalName,
			MimeType:     doc.File.MimeType,
			SizeBytes:    doc.File.SizeBytes,
		},
		IsDuplicate:     doc.IsDuplicate,
		DuplicateOf:     doc.DuplicateOf,
		SourceMessageID: doc.SourceMessageID,
		CreatedAt:       doc.CreatedAt,
	}
	if withRaw {
		resp.RawOCR = doc.RawOCR
	}
	return resp
}
