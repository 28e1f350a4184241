package extract

import (
	"bytes"
	"errors"
	"fmt"
	"testing"
)

// buildPDF writes a minimal PDF with the given number of blank pages and a valid xref.
func buildPDF(pages int) []byte {
	var buf bytes.Buffer
	offsets := []int{}
	obj := func(body string) {
		offsets = append(offsets, buf.Len())
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", len(offsets), body)
	}

	buf.WriteString("%PDF-1.4\n")
	obj("<< /Type /Catalog /Pages 2 0 R >>")
	kids := ""
	for i := 0; i < pages; i++ {
		kids += fmt.Sprintf("%d 0 R ", i+3)
	}
	obj(fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", kids, pages))
	for i := 0; i < pages; i++ {
		obj("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] >>")
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(offsets)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(offsets)+1, xref)
	return buf.Bytes()
}

func TestPageCount(t *testing.T) {
	for _, pages := range []int{1, 3} {
		n, err := PageCount(buildPDF(pages))
		if err != nil {
			t.Fatalf("PageCount(%d pages): %v", pages, err)
		}
		if n != pages {
			t.Fatalf("PageCount = %d, want %d", n, pages)
		}
	}
}

func TestPageCountRejectsNonPDF(t *testing.T) {
	if _, err := PageCount([]byte("hello")); !errors.Is(err, ErrNotPDF) {
		t.Fatalf("expected ErrNotPDF, got %v", err)
	}
}

func TestPageCountMalformedPDF(t *testing.T) {
	if _, err := PageCount([]byte("%PDF-1.4\ngarbage without xref")); err == nil {
		t.Fatal("expected error for malformed pdf")
	}
}

func TestNormalizeMimeType(t *testing.T) {
	pdf := buildPDF(1)
	tests := []struct {
		name     string
		mime     string
		fileName string
		data     []byte
		want     string
	}{
		{"declared pdf with params", "Application/PDF; name=x.pdf", "x.pdf", nil, MimePDF},
		{"octet stream pdf extension", "application/octet-stream", "Facture.PDF", nil, MimePDF},
		{"octet stream pdf magic", "application/octet-stream", "scan", pdf, MimePDF},
		{"empty mime sniffed png", "", "img", []byte("\x89PNG\r\n\x1a\n0000"), "image/png"},
		{"empty mime no data", "", "", nil, "application/octet-stream"},
		{"declared image", "image/jpeg", "a.jpg", nil, "image/jpeg"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeMimeType(tt.mime, tt.fileName, tt.data); got != tt.want {
				t.Fatalf("NormalizeMimeType = %q, want %q", got, tt.want)
			}
		})
	}
}
