package harvest

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mail-ingest/internal/gmail"
)

type fakeFetcher struct {
	data  map[string]string
	calls []string
	err   error
}

func (f *fakeFetcher) GetAttachment(ctx context.Context, token, messageID, attachmentID string) ([]byte, error) {
	f.calls = append(f.calls, attachmentID)
	if f.err != nil {
		return nil, f.err
	}
	return gmail.DecodeBase64URL(f.data[attachmentID])
}

func sampleTree() *gmail.Part {
	return &gmail.Part{
		MimeType: "multipart/mixed",
		Parts: []*gmail.Part{
			{MimeType: "multipart/alternative", Parts: []*gmail.Part{
				{MimeType: "text/plain", Body: gmail.Body{Data: "aGVsbG8"}},
				{MimeType: "text/html", Body: gmail.Body{Data: "PGI-aGk8L2I-"}},
			}},
			{MimeType: "application/pdf", Filename: "Facture_Acme.pdf", Body: gmail.Body{AttachmentID: "att-1"}},
			{MimeType: "application/octet-stream", Filename: "RECU.PDF", Body: gmail.Body{AttachmentID: "att-2"}},
			{MimeType: "application/octet-stream", Filename: "archive.zip", Body: gmail.Body{AttachmentID: "att-3"}},
			{MimeType: "image/png", Filename: "logo.png", Body: gmail.Body{AttachmentID: "att-4"}},
			{MimeType: "application/pdf", Filename: "inline.pdf", Body: gmail.Body{Data: "JVBERg"}},
			{MimeType: "application/pdf", Body: gmail.Body{AttachmentID: "att-5"}},
		},
	}
}

func TestFindAttachmentParts(t *testing.T) {
	parts := FindAttachmentParts(sampleTree())
	names := make([]string, 0, len(parts))
	for _, p := range parts {
		names = append(names, p.Filename)
	}
	assert.Equal(t, []string{"Facture_Acme.pdf", "RECU.PDF"}, names)
	assert.Empty(t, FindAttachmentParts(nil))
}

func TestHarvestDownloadsQualifyingParts(t *testing.T) {
	fetcher := &fakeFetcher{data: map[string]string{
		"att-1": base64.RawURLEncoding.EncodeToString([]byte("%PDF-1.4 acme")),
		"att-2": base64.URLEncoding.EncodeToString([]byte("%PDF-1.7 recu")),
	}}
	msg := gmail.Message{ID: "m1", Payload: sampleTree()}

	atts, err := Harvest(context.Background(), fetcher, "tok", msg)
	require.NoError(t, err)
	require.Len(t, atts, 2)
	assert.Equal(t, []string{"att-1", "att-2"}, fetcher.calls)
	assert.Equal(t, "%PDF-1.4 acme", string(atts[0].Data))
	assert.Equal(t, int64(len("%PDF-1.4 acme")), atts[0].Size)
	assert.Equal(t, "application/pdf", atts[1].MimeType)
}

func TestHarvestPropagatesDownloadError(t *testing.T) {
	fetcher := &fakeFetcher{err: errors.New("boom")}
	_, err := Harvest(context.Background(), fetcher, "tok", gmail.Message{ID: "m1", Payload: sampleTree()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Facture_Acme.pdf")
}

func TestQualifies(t *testing.T) {
	tests := []struct {
		name, mime string
		want       bool
	}{
		{"a.pdf", "application/pdf", true},
		{"scan", "Application/PDF; name=scan", true},
		{"b.PdF", "application/octet-stream", true},
		{"b.pdf.zip", "application/octet-stream", false},
		{"", "application/pdf", false},
		{"c.pdf", "image/jpeg", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Qualifies(tt.name, tt.mime), "%s %s", tt.name, tt.mime)
	}
}

const rawEML = "From: Acme Billing <billing@acme.test>\r\n" +
	"To: compta@client.test\r\n" +
	"Subject: Votre facture INV-42\r\n" +
	"Message-ID: <abc123@acme.test>\r\n" +
	"Date: Wed, 15 Jan 2025 10:00:00 +0100\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/mixed; boundary=\"XYZ\"\r\n" +
	"\r\n" +
	"--XYZ\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"Bonjour, veuillez trouver votre facture.\r\n" +
	"--XYZ\r\n" +
	"Content-Type: application/pdf; name=\"Facture_Acme.pdf\"\r\n" +
	"Content-Disposition: attachment; filename=\"Facture_Acme.pdf\"\r\n" +
	"Content-Transfer-Encoding: base64\r\n" +
	"\r\n" +
	"JVBERi0xLjQgYWNtZQ==\r\n" +
	"--XYZ\r\n" +
	"Content-Type: image/png; name=\"logo.png\"\r\n" +
	"Content-Disposition: attachment; filename=\"logo.png\"\r\n" +
	"Content-Transfer-Encoding: base64\r\n" +
	"\r\n" +
	"iVBORw0KGgo=\r\n" +
	"--XYZ--\r\n"

func TestHarvestMIME(t *testing.T) {
	env, atts, err := HarvestMIME([]byte(rawEML))
	require.NoError(t, err)
	assert.Equal(t, "abc123@acme.test", env.MessageID)
	assert.Equal(t, "Votre facture INV-42", env.Subject)
	assert.True(t, strings.Contains(env.From, "billing@acme.test"))

	require.Len(t, atts, 1)
	assert.Equal(t, "Facture_Acme.pdf", atts[0].Filename)
	assert.Equal(t, "%PDF-1.4 acme", string(atts[0].Data))
}

func TestHarvestMIMEWithoutAttachments(t *testing.T) {
	_, atts, err := HarvestMIME([]byte("From: a@b.test\r\nSubject: hi\r\n\r\nbody\r\n"))
	require.NoError(t, err)
	assert.Empty(t, atts)
}
