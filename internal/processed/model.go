package processed

import "time"

// Status is the outcome recorded for an examined message.
type Status string

const (
	StatusProcessed Status = "processed"
	StatusSkipped   Status = "skipped"
	StatusError     Status = "error"
)

// AttachmentRef summarizes one attachment of a processed message.
type AttachmentRef struct {
	Filename         string `json:"filename"`
	MimeType         string `json:"mimeType"`
	Size             int64  `json:"size"`
	LinkedDocumentID string `json:"linkedDocumentId,omitempty"`
}

// Record marks a provider message as evaluated for a workspace. It is written once and
// never updated; the (workspace, message) pair is unique.
type Record struct {
	ID              string
	WorkspaceID     string
	ConnectionID    string
	MessageID       string
	ThreadID        string
	Subject         string
	Sender          string
	ReceivedAt      *time.Time
	HasInvoice      bool
	AttachmentCount int
	Attachments     []AttachmentRef
	Status          Status
	ErrorDetail     string
	CreatedAt       time.Time
}
