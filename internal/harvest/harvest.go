// Package harvest pulls PDF attachments out of messages: Gmail part trees fetched over
// the API, and raw RFC 822 messages parsed with enmime.
package harvest

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/jhillyerd/enmime"

	"mail-ingest/internal/gmail"
)

const (
	mimePDF         = "application/pdf"
	mimeOctetStream = "application/octet-stream"
)

// Attachment is a qualifying attachment with its decoded bytes. MimeType is always
// application/pdf, since octet-stream parts only qualify by a .pdf name.
type Attachment struct {
	Filename string
	MimeType string
	Size     int64
	Data     []byte
}

// Fetcher downloads one attachment's decoded bytes.
type Fetcher interface {
	GetAttachment(ctx context.Context, token, messageID, attachmentID string) ([]byte, error)
}

// Qualifies reports whether a part is a PDF invoice candidate: a PDF, or a generic binary
// whose file name ends in .pdf.
func Qualifies(filename, mimeType string) bool {
	if strings.TrimSpace(filename) == "" {
		return false
	}
	mt := strings.ToLower(strings.TrimSpace(strings.Split(mimeType, ";")[0]))
	switch mt {
	case mimePDF:
		return true
	case mimeOctetStream:
		return strings.HasSuffix(strings.ToLower(strings.TrimSpace(filename)), ".pdf")
	}
	return false
}

// FindAttachmentParts walks the part tree depth-first and returns the parts that
// qualify and carry an attachment ID.
func FindAttachmentParts(root *gmail.Part) []*gmail.Part {
	var out []*gmail.Part
	var walk func(p *gmail.Part)
	walk = func(p *gmail.Part) {
		if p == nil {
			return
		}
		if p.Body.AttachmentID != "" && Qualifies(p.Filename, p.MimeType) {
			out = append(out, p)
		}
		for _, child := range p.Parts {
			walk(child)
		}
	}
	walk(root)
	return out
}

// Harvest downloads every qualifying attachment of msg. It does not store anything.
func Harvest(ctx context.Context, fetcher Fetcher, token string, msg gmail.Message) ([]Attachment, error) {
	parts := FindAttachmentParts(msg.Payload)
	out := make([]Attachment, 0, len(parts))
	for _, p := range parts {
		data, err := fetcher.GetAttachment(ctx, token, msg.ID, p.Body.AttachmentID)
		if err != nil {
			return nil, fmt.Errorf("download %q: %w", p.Filename, err)
		}
		out = append(out, Attachment{
			Filename: p.Filename,
			MimeType: mimePDF,
			Size:     int64(len(data)),
			Data:     data,
		})
	}
	return out, nil
}

// Envelope is the header summary of a raw message.
type Envelope struct {
	MessageID string
	Subject   string
	From      string
	Date      string
}

// HarvestMIME parses a raw RFC 822 message and returns its qualifying attachments,
// inline parts included.
func HarvestMIME(raw []byte) (Envelope, []Attachment, error) {
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return Envelope{}, nil, fmt.Errorf("parse message: %w", err)
	}
	meta := Envelope{
		MessageID: strings.Trim(strings.TrimSpace(env.GetHeader("Message-Id")), "<>"),
		Subject:   env.GetHeader("Subject"),
		From:      env.GetHeader("From"),
		Date:      env.GetHeader("Date"),
	}

	var out []Attachment
	for _, group := range [][]*enmime.Part{env.Attachments, env.Inlines, env.OtherParts} {
		for _, p := range group {
			if !Qualifies(p.FileName, p.ContentType) || len(p.Content) == 0 {
				continue
			}
			out = append(out, Attachment{
				Filename: p.FileName,
				MimeType: mimePDF,
				Size:     int64(len(p.Content)),
				Data:     p.Content,
			})
		}
	}
	return meta, out, nil
}
