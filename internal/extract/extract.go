// Package extract inspects raw document bytes: MIME detection and PDF page counts and
// text, read with github.com/ledongthuc/pdf.
package extract

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

const (
	MimePDF         = "application/pdf"
	mimeOctetStream = "application/octet-stream"
)

// ErrNotPDF is returned when the payload does not start with a PDF header.
var ErrNotPDF = errors.New("payload is not a pdf")

// NormalizeMimeType cleans a declared MIME type. Generic binary types are resolved from
// the file extension or the payload's magic bytes.
func NormalizeMimeType(mimeType, fileName string, data []byte) string {
	clean := strings.ToLower(strings.TrimSpace(strings.Split(mimeType, ";")[0]))
	if clean != "" && clean != mimeOctetStream && clean != "application/x-download" && clean != "binary/octet-stream" {
		return clean
	}
	if IsPDF(data) || strings.EqualFold(filepath.Ext(fileName), ".pdf") {
		return MimePDF
	}
	if len(data) > 0 {
		if sniffed := strings.Split(http.DetectContentType(data), ";")[0]; sniffed != "" {
			return sniffed
		}
	}
	if clean == "" {
		return mimeOctetStream
	}
	return clean
}

// IsPDF reports whether data starts with the %PDF- header.
func IsPDF(data []byte) bool {
	return bytes.HasPrefix(bytes.TrimLeft(data, "\x00\t\r\n "), []byte("%PDF-"))
}

// PageCount returns the number of pages in a PDF.
func PageCount(data []byte) (n int, err error) {
	reader, err := open(data)
	if err != nil {
		return 0, err
	}
	defer recoverInto(&err)
	return reader.NumPage(), nil
}

// Text returns the plain text layer of a PDF, empty for scanned documents.
func Text(data []byte) (text string, err error) {
	reader, err := open(data)
	if err != nil {
		return "", err
	}
	defer recoverInto(&err)
	plain, err := reader.GetPlainText()
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, plain); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}

func open(data []byte) (reader *pdf.Reader, err error) {
	if !IsPDF(data) {
		return nil, ErrNotPDF
	}
	defer recoverInto(&err)
	return pdf.NewReader(bytes.NewReader(data), int64(len(data)))
}

// The pdf reader panics on some malformed files.
func recoverInto(err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("read pdf: %v", r)
	}
}
