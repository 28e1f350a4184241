package documents

import (
	"encoding/json"
	"time"
)

// Source records how a document entered the system.
type Source string

const (
	SourceGmail        Source = "GMAIL"
	SourceDirectUpload Source = "DIRECT_UPLOAD"
	SourceEmailImport  Source = "EMAIL_IMPORT"
)

// Status is the review lifecycle of an extracted document.
type Status string

const (
	StatusPendingReview Status = "PENDING_REVIEW"
	StatusValidated     Status = "VALIDATED"
	StatusRejected      Status = "REJECTED"
	StatusArchived      Status = "ARCHIVED"
)

// ValidStatus reports whether s is a known lifecycle status.
func ValidStatus(s Status) bool {
	switch s {
	case StatusPendingReview, StatusValidated, StatusRejected, StatusArchived:
		return true
	}
	return false
}

type DocumentType string

const (
	TypeInvoice DocumentType = "INVOICE"
	TypeQuote   DocumentType = "QUOTE"
)

// Counterparty is the vendor (or client) named on the document.
type Counterparty struct {
	Name       string `json:"name"`
	Address    string `json:"address,omitempty"`
	City       string `json:"city,omitempty"`
	PostalCode string `json:"postalCode,omitempty"`
	Country    string `json:"country,omitempty"`
	TaxID      string `json:"taxId,omitempty"`
	VATNumber  string `json:"vatNumber,omitempty"`
}

type LineItem struct {
	Description string  `json:"description"`
	Quantity    float64 `json:"quantity"`
	UnitPrice   float64 `json:"unitPrice"`
	TaxRate     float64 `json:"taxRate"`
	Total       float64 `json:"total"`
}

// FileRef points at the stored original file.
type FileRef struct {
	URL          string
	StorageKey   string
	OriginalName string
	MimeType     string
	SizeBytes    int64
}

// Document is the canonical invoice or quote produced by the ingestion pipeline.
type Document struct {
	ID              string
	WorkspaceID     string
	OwnerID         string
	Source          Source
	Status          Status
	Type            DocumentType
	Counterparty    Counterparty
	DocumentNumber  string
	IssueDate       *time.Time
	DueDate         *time.Time
	LineItems       []LineItem
	TotalPreTax     float64
	TotalTax        float64
	Total           float64
	Currency        string
	PaymentMethod   string
	Category        string
	Confidence      float64
	File            FileRef
	IsDuplicate     bool
	DuplicateOf     string
	RawOCR          json.RawMessage
	SourceMessageID string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ListFilter narrows List results. A zero Status returns every status.
type ListFilter struct {
	Status Status
	Source Source
	Limit  int
	Offset int
}
