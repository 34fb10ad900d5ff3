package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

var ErrUnsupportedType = errors.New("unsupported image type")

// a reference that does not point inside the store directory
var ErrOutsideStore = errors.New("reference outside the store directory")

// BlobStore persists uploaded binaries and deletes them by reference. The
// reference is opaque to callers; they only capture it on a place or user
// document and hand it back for cleanup.
type BlobStore interface {
	Save(ctx context.Context, r io.Reader, originalName string) (string, error)
	Remove(ctx context.Context, ref string) error
}

// DiskStore writes blobs to a local directory under random uuid names.
type DiskStore struct {
	dir string
}

func NewDiskStore(dir string) *DiskStore {
	if dir == "" {
		dir = "uploads"
	}

	return &DiskStore{dir: dir}
}

func (s *DiskStore) Save(ctx context.Context, r io.Reader, originalName string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	ext := strings.ToLower(filepath.Ext(originalName))

	switch ext {
	case ".jpg", ".jpeg", ".png", ".webp":
	default:
		return "", ErrUnsupportedType
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", err
	}

	path := filepath.Join(s.dir, uuid.NewString()+ext)

	f, err := os.Create(path)

	if err != nil {
		return "", err
	}

	_, err = io.Copy(f, r)

	if err != nil {
		f.Close()
		// never leave a half-written blob behind
		os.Remove(path)
		return "", err
	}

	err = f.Close()

	if err != nil {
		os.Remove(path)
		return "", err
	}

	return path, nil
}

func (s *DiskStore) Remove(ctx context.Context, ref string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	clean := filepath.Clean(ref)

	if !strings.HasPrefix(clean, filepath.Clean(s.dir)+string(os.PathSeparator)) {
		return ErrOutsideStore
	}

	return os.Remove(clean)
}
