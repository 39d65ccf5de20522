// Package blob stores attachment content outside the database.
package blob

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/vdavid/yesmail/internal/config"
)

// ErrObjectNotFound is returned by Get when the key does not exist.
var ErrObjectNotFound = errors.New("blob object not found")

// Store is implemented by the filesystem and S3 backends.
type Store interface {
	Put(ctx context.Context, key, contentType string, body []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// NewFromConfig builds the backend selected by YESMAIL_BLOB_BACKEND.
func NewFromConfig(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.BlobBackend {
	case config.BlobBackendFilesystem, "":
		return NewFilesystemStore(cfg.BlobDir)
	case config.BlobBackendS3:
		return NewS3Store(ctx, S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKey,
			SecretAccessKey: cfg.S3SecretKey,
			UsePathStyle:    cfg.S3UsePathStyle,
		})
	default:
		return nil, fmt.Errorf("unsupported blob backend: %s", cfg.BlobBackend)
	}
}

// AttachmentKey builds attachments/<account>/<yyyy>/<mm>/<dd>/<uuid>/<filename>.
// The uuid segment keeps keys unique when the same filename is stored twice.
func AttachmentKey(accountID, filename string, now time.Time) string {
	now = now.UTC()
	return path.Join(
		"attachments",
		accountID,
		now.Format("2006"),
		now.Format("01"),
		now.Format("02"),
		uuid.NewString(),
		SafeFilename(filename),
	)
}

// SafeFilename strips directory parts and separators so a filename cannot escape its key.
func SafeFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Base(strings.TrimSpace(name))
	if name == "." || name == "/" || name == ".." || name == "" {
		return "attachment"
	}
	return name
}

// Copy duplicates src to dst.
func Copy(ctx context.Context, store Store, src, dst, contentType string) error {
	data, err := store.Get(ctx, src)
	if err != nil {
		return fmt.Errorf("failed to read blob %s: %w", src, err)
	}
	if err := store.Put(ctx, dst, contentType, data); err != nil {
		return fmt.Errorf("failed to write blob %s: %w", dst, err)
	}
	return nil
}
