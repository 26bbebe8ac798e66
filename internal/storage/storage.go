package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"greendrake/housemarket/internal/config"
)

// ErrObjectNotFound is returned by Get when the key does not exist.
var ErrObjectNotFound = errors.New("object not found")

// ObjectStore is the object storage contract used for listing images.
type ObjectStore interface {
	// Put stores the object and returns its public URL.
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error)
	Get(ctx context.Context, key string) ([]byte, error)
	// Exists reports whether key is currently stored.
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
}

// New returns the ObjectStore selected by cfg.StorageBackend.
func New(ctx context.Context, cfg *config.Config) (ObjectStore, error) {
	switch cfg.StorageBackend {
	case config.StorageBackendMinio:
		return NewMinioStorage(ctx, cfg)
	case config.StorageBackendS3:
		return NewS3Storage(ctx, cfg)
	}
	return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// ImageKey builds a unique object key for an image uploaded by owner:
// images/<owner>-<sanitized filename>-<uuid>.
func ImageKey(ownerID, filename string) string {
	base := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	base = unsafeChars.ReplaceAllString(base, "_")
	base = strings.Trim(base, "._")
	if base == "" {
		base = "image"
	}
	return fmt.Sprintf("images/%s-%s-%s", ownerID, base, uuid.NewString())
}

// publicURL joins a base URL and key.
func publicURL(base, key string) string {
	return strings.TrimRight(base, "/") + "/" + key
}
