package gmail

import (
	"strings"
	"time"
)

// MessageRef is one entry of a search result page.
type MessageRef struct {
	ID       string `json:"id"`
	ThreadID string `json:"threadId"`
}

// ListResult is one page of a message search.
type ListResult struct {
	Messages           []MessageRef `json:"messages"`
	NextPageToken      string       `json:"nextPageToken"`
	ResultSizeEstimate int          `json:"resultSizeEstimate"`
}

// Header is a single RFC 822 header.
type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Body carries inline data or a reference to an attachment.
type Body struct {
	AttachmentID string `json:"attachmentId"`
	Size         int64  `json:"size"`
	Data         string `json:"data"`
}

// Part is a node of the MIME tree returned with format=full.
type Part struct {
	PartID   string   `json:"partId"`
	MimeType string   `json:"mimeType"`
	Filename string   `json:"filename"`
	Headers  []Header `json:"headers"`
	Body     Body     `json:"body"`
	Parts    []*Part  `json:"parts"`
}

// Message is a full message.
type Message struct {
	ID           string `json:"id"`
	ThreadID     string `json:"threadId"`
	Snippet      string `json:"snippet"`
	InternalDate string `json:"internalDate"`
	Payload      *Part  `json:"payload"`
}

// Header returns the first header with the given name, case-insensitively.
func (m Message) Header(name string) string {
	if m.Payload == nil {
		return ""
	}
	for _, h := range m.Payload.Headers {
		if strings.EqualFold(h.Name, name) {
			return strings.TrimSpace(h.Value)
		}
	}
	return ""
}

// ReceivedAt is the Date header, falling back to the provider's internal date.
func (m Message) ReceivedAt() *time.Time {
	if raw := m.Header("Date"); raw != "" {
		if t, err := parseMailDate(raw); err == nil {
			t = t.UTC()
			return &t
		}
	}
	if ms, err := parseInt(m.InternalDate); err == nil && ms > 0 {
		t := time.UnixMilli(ms).UTC()
		return &t
	}
	return nil
}

// Profile describes the authenticated mailbox.
type Profile struct {
	EmailAddress  string `json:"emailAddress"`
	MessagesTotal int64  `json:"messagesTotal"`
	ThreadsTotal  int64  `json:"threadsTotal"`
	HistoryID     string `json:"historyId"`
}

type attachmentBody struct {
	Size int64  `json:"size"`
	Data string `json:"data"`
}
