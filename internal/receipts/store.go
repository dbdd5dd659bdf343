// Package receipts stores payment receipt images and hands back opaque
// references for later display or download.
package receipts

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

var (
	// ErrPayloadTooLarge indicates the image exceeds the configured cap.
	ErrPayloadTooLarge = errors.New("receipts: payload too large")
	// ErrUnsupportedFormat indicates the payload is not an accepted image type.
	ErrUnsupportedFormat = errors.New("receipts: unsupported format")
	// ErrNotFound indicates an unknown receipt reference.
	ErrNotFound = errors.New("receipts: not found")
)

// Store persists already-compressed receipt images.
type Store interface {
	Save(ctx context.Context, data []byte) (string, error)
	Open(ctx context.Context, ref string) ([]byte, string, error)
}

// allowed maps accepted MIME types to file extensions.
var allowed = map[string]string{
	"image/jpeg": "jpg",
	"image/png":  "png",
	"image/webp": "webp",
}

// FileStore keeps receipts on the local filesystem under a single directory.
type FileStore struct {
	dir      string
	maxBytes int64
}

var _ Store = (*FileStore)(nil)

// NewFileStore constructs a FileStore, creating the directory if needed.
func NewFileStore(dir string, maxBytes int64) (*FileStore, error) {
	if maxBytes <= 0 {
		maxBytes = 2 << 20
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("receipts: create dir: %w", err)
	}
	return &FileStore{dir: dir, maxBytes: maxBytes}, nil
}

// Save validates the payload and writes it as <uuid>.<ext>, returning the
// file name as the opaque reference.
func (s *FileStore) Save(ctx context.Context, data []byte) (string, error) {
	if int64(len(data)) > s.maxBytes {
		return "", ErrPayloadTooLarge
	}
	mime := mimetype.Detect(data)
	ext, ok := allowed[mime.String()]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, mime.String())
	}
	ref := fmt.Sprintf("%s.%s", uuid.NewString(), ext)
	if err := os.WriteFile(filepath.Join(s.dir, ref), data, 0o644); err != nil {
		return "", fmt.Errorf("receipts: write: %w", err)
	}
	return ref, nil
}

// Open returns the receipt bytes and MIME type for a stored reference.
func (s *FileStore) Open(ctx context.Context, ref string) ([]byte, string, error) {
	if ref != filepath.Base(ref) || strings.HasPrefix(ref, ".") {
		return nil, "", ErrNotFound
	}
	data, err := os.ReadFile(filepath.Join(s.dir, ref))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", ErrNotFound
		}
		return nil, "", err
	}
	return data, mimetype.Detect(data).String(), nil
}
