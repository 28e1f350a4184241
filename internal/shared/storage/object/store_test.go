package object

import (
	"strings"
	"testing"
)

func TestBuildKeyLayout(t *testing.T) {
	key, err := BuildKey(UploadInput{
		FileName: "Facture Acme.pdf",
		OwnerID:  "user-1",
		Category: "invoices",
		ScopeID:  "ws-1",
	})
	if err != nil {
		t.Fatalf("BuildKey: %v", err)
	}
	parts := strings.Split(key, "/")
	if len(parts) != 4 {
		t.Fatalf("expected 4 key segments, got %q", key)
	}
	if parts[0] != "ws-1" || parts[1] != "invoices" {
		t.Fatalf("unexpected key prefix %q", key)
	}
	if !strings.HasSuffix(parts[3], "_Facture Acme.pdf") {
		t.Fatalf("expected sanitized file name suffix, got %q", parts[3])
	}
}

func TestBuildKeyFallbackSegments(t *testing.T) {
	key, err := BuildKey(UploadInput{FileName: "a.pdf", ScopeID: "../etc"})
	if err != nil {
		t.Fatalf("BuildKey: %v", err)
	}
	if !strings.HasPrefix(key, "shared/documents/") {
		t.Fatalf("expected fallback segments, got %q", key)
	}
}

func TestContentTypeSniffsWhenMissing(t *testing.T) {
	got := ContentType(UploadInput{Data: []byte("%PDF-1.7\n")})
	if got != "application/pdf" {
		t.Fatalf("expected application/pdf, got %q", got)
	}
	if got := ContentType(UploadInput{ContentType: "image/png"}); got != "image/png" {
		t.Fatalf("expected declared type, got %q", got)
	}
}

func TestPublicURL(t *testing.T) {
	if got := PublicURL("https://cdn.example.com/", "/ws/a.pdf"); got != "https://cdn.example.com/ws/a.pdf" {
		t.Fatalf("unexpected url %q", got)
	}
	if got := PublicURL("", "ws/a.pdf"); got != "" {
		t.Fatalf("expected empty url, got %q", got)
	}
}
