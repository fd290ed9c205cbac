package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	gcstorage "cloud.google.com/go/storage"
	"github.com/eztalk/eztalk-proxy/internal/storage"
	"github.com/google/uuid"
)

const maxStemLength = 50

// GCSStorage keeps large media in a Cloud Storage bucket so Gemini can read
// it by gs:// URI.
type GCSStorage struct {
	client *gcstorage.Client
	bucket string
}

func NewGCSStorage(client *gcstorage.Client, bucket string) (*GCSStorage, error) {
	if bucket == "" {
		return nil, errors.New("gcs bucket name is required")
	}
	return &GCSStorage{
		client: client,
		bucket: bucket,
	}, nil
}

// ObjectName builds uploads/{prefix}/{stem}_{8 hex}{ext}.
func ObjectName(prefix, originalName string) string {
	if prefix == "" {
		prefix = "unknown_req"
	}
	ext := filepath.Ext(originalName)
	stem := strings.TrimSuffix(originalName, ext)
	return fmt.Sprintf("uploads/%s/%s_%s%s",
		prefix,
		storage.SafeName(stem, maxStemLength),
		strings.ReplaceAll(uuid.NewString(), "-", "")[:8],
		ext,
	)
}

func (s *GCSStorage) URI(object string) string {
	return fmt.Sprintf("gs://%s/%s", s.bucket, object)
}

func (s *GCSStorage) Save(ctx context.Context, r io.Reader, opts storage.SaveOptions) (storage.FileInfo, error) {
	name := ObjectName(opts.Prefix, opts.OriginalName)

	w := s.client.Bucket(s.bucket).Object(name).NewWriter(ctx)
	w.ContentType = opts.ContentType

	size, err := io.Copy(w, r)
	if err != nil {
		w.Close()
		return storage.FileInfo{}, fmt.Errorf("failed to upload %s: %w", name, err)
	}
	if err := w.Close(); err != nil {
		return storage.FileInfo{}, fmt.Errorf("failed to finalize %s: %w", name, err)
	}

	return storage.FileInfo{
		ID:          name,
		Path:        name,
		ContentType: opts.ContentType,
		Size:        size,
		URL:         s.URI(name),
	}, nil
}

func (s *GCSStorage) Open(ctx context.Context, id string) (io.ReadCloser, storage.FileInfo, error) {
	rc, err := s.client.Bucket(s.bucket).Object(id).NewReader(ctx)
	if err != nil {
		if errors.Is(err, gcstorage.ErrObjectNotExist) {
			return nil, storage.FileInfo{}, storage.ErrNotFound
		}
		return nil, storage.FileInfo{}, fmt.Errorf("failed to open %s: %w", id, err)
	}

	return rc, storage.FileInfo{
		ID:          id,
		Path:        id,
		ContentType: rc.Attrs.ContentType,
		Size:        rc.Attrs.Size,
		URL:         s.URI(id),
	}, nil
}

func (s *GCSStorage) Delete(ctx context.Context, id string) error {
	if err := s.client.Bucket(s.bucket).Object(id).Delete(ctx); err != nil {
		if errors.Is(err, gcstorage.ErrObjectNotExist) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("failed to delete %s: %w", id, err)
	}
	return nil
}
