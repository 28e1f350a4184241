package local

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"mail-ingest/internal/shared/storage/object"
)

// Store implements object.Store on the local filesystem.
type Store struct {
	baseDir       string
	publicBaseURL string
}

// New creates a local object store rooted at baseDir. Files are addressed through
// publicBaseURL when set, otherwise by file:// path.
func New(baseDir, publicBaseURL string) *Store {
	return &Store{baseDir: baseDir, publicBaseURL: publicBaseURL}
}

// Upload writes the payload under its generated storage key.
func (s *Store) Upload(ctx context.Context, in object.UploadInput) (object.Stored, error) {
	if err := ctx.Err(); err != nil {
		return object.Stored{}, err
	}
	key, err := object.BuildKey(in)
	if err != nil {
		return object.Stored{}, err
	}

	fullPath := filepath.Join(s.baseDir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return object.Stored{}, fmt.Errorf("mkdir: %w", err)
	}
	if err := os.WriteFile(fullPath, in.Data, 0o644); err != nil {
		return object.Stored{}, fmt.Errorf("write file: %w", err)
	}

	url := object.PublicURL(s.publicBaseURL, key)
	if url == "" {
		abs, err := filepath.Abs(fullPath)
		if err != nil {
			abs = fullPath
		}
		url = "file://" + filepath.ToSlash(abs)
	}
	return object.Stored{
		Key:      key,
		URL:      url,
		Size:     int64(len(in.Data)),
		MimeType: object.ContentType(in),
	}, nil
}

// Open opens a stored object for reading.
func (s *Store) Open(ctx context.Context, storageKey string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	clean := filepath.Clean(filepath.FromSlash(storageKey))
	if strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return nil, fmt.Errorf("invalid storage key")
	}
	return os.Open(filepath.Join(s.baseDir, clean))
}

var _ object.Store = (*Store)(nil)
