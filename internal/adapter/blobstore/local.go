package blobstore

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/siwakornc/invoice-ocr-service/internal/domain"
)

// Local stores blobs as flat files under a directory; the API serves them
// back at GET /images/{filename}.
type Local struct {
	dir     string
	baseURL string
}

var _ domain.BlobStore = (*Local)(nil)

// NewLocal creates the directory if needed.
func NewLocal(dir, baseURL string) (*Local, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("blobstore local mkdir: %w", err)
	}
	return &Local{dir: dir, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// Put writes the bytes under the flattened key filename. Overwriting the
// same key with the same bytes is a no-op, which keeps Put idempotent.
func (l *Local) Put(_ domain.Context, key string, data []byte, _ string) (domain.BlobRef, error) {
	name := filepath.Base(key)
	if err := os.WriteFile(filepath.Join(l.dir, name), data, 0o644); err != nil {
		return domain.BlobRef{}, fmt.Errorf("blobstore local put: %w", err)
	}
	return domain.BlobRef{
		Provider: "local",
		Key:      key,
		URL:      l.baseURL + "/" + name,
	}, nil
}

// Get reads the bytes back by key or bare filename.
func (l *Local) Get(_ domain.Context, key string) ([]byte, error) {
	name := filepath.Base(key)
	b, err := os.ReadFile(filepath.Join(l.dir, name))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("blobstore local get %s: %w", name, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("blobstore local get: %w", err)
	}
	return b, nil
}

// Dir exposes the backing directory for the image-serving handler.
func (l *Local) Dir() string { return l.dir }
