package object

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"mail-ingest/internal/shared/util"
)

// Store saves ingested files and reads them back.
type Store interface {
	Upload(ctx context.Context, in UploadInput) (Stored, error)
	Open(ctx context.Context, storageKey string) (io.ReadCloser, error)
}

// UploadInput describes one file to persist. ScopeID is the workspace, Category groups
// objects by purpose (for example "invoices").
type UploadInput struct {
	Data        []byte
	FileName    string
	OwnerID     string
	Category    string
	ScopeID     string
	ContentType string
}

// Stored is the durable reference returned by Upload.
type Stored struct {
	Key      string
	URL      string
	Size     int64
	MimeType string
}

// BuildKey returns <scope>/<category>/<owner hash>/<random>_<sanitized name>.
func BuildKey(in UploadInput) (string, error) {
	name, err := util.SanitizeFileName(in.FileName)
	if err != nil {
		return "", fmt.Errorf("sanitize file name: %w", err)
	}
	scope := segment(in.ScopeID, "shared")
	category := segment(in.Category, "documents")
	return path.Join(scope, category, util.HashUserKey(in.OwnerID), RandomID()+"_"+name), nil
}

// ContentType returns the declared type, falling back to sniffing the payload.
func ContentType(in UploadInput) string {
	if ct := strings.TrimSpace(in.ContentType); ct != "" {
		return ct
	}
	return http.DetectContentType(in.Data)
}

// PublicURL joins a public base URL and a storage key. It returns "" without a base.
func PublicURL(base, key string) string {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if base == "" {
		return ""
	}
	return base + "/" + strings.TrimLeft(key, "/")
}

func RandomID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b[:])
}

func segment(value, fallback string) string {
	value = strings.Trim(strings.TrimSpace(value), "/")
	if value == "" || strings.Contains(value, "..") {
		return fallback
	}
	return strings.ReplaceAll(value, "/", "_")
}
