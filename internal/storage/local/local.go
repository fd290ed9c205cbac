package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"os"
	"path/filepath"

	"github.com/eztalk/eztalk-proxy/internal/storage"
	"github.com/google/uuid"
)

const dirMode fs.FileMode = 0o750

// LocalStorage stages uploads in a flat directory on local disk.
type LocalStorage struct {
	baseDir string
}

func NewLocalStorage(baseDir string) (*LocalStorage, error) {
	if err := os.MkdirAll(baseDir, dirMode); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	if err := os.Chmod(baseDir, dirMode); err != nil {
		return nil, fmt.Errorf("failed to set base directory mode: %w", err)
	}

	return &LocalStorage{
		baseDir: baseDir,
	}, nil
}

func (s *LocalStorage) Dir() string {
	return s.baseDir
}

func (s *LocalStorage) Save(ctx context.Context, r io.Reader, opts storage.SaveOptions) (storage.FileInfo, error) {
	id := fmt.Sprintf("%s-%s-%s", opts.Prefix, uuid.New().String(), storage.SafeName(opts.OriginalName, 0))

	filePath := filepath.Join(s.baseDir, id)
	file, err := os.OpenFile(filePath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return storage.FileInfo{}, fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	size, err := io.Copy(file, r)
	if err != nil {
		os.Remove(filePath)
		return storage.FileInfo{}, fmt.Errorf("failed to write file: %w", err)
	}

	return storage.FileInfo{
		ID:          id,
		Path:        filePath,
		ContentType: opts.ContentType,
		Size:        size,
	}, nil
}

func (s *LocalStorage) Open(ctx context.Context, id string) (io.ReadCloser, storage.FileInfo, error) {
	filePath, err := s.path(id)
	if err != nil {
		return nil, storage.FileInfo{}, err
	}

	file, err := os.Open(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, storage.FileInfo{}, storage.ErrNotFound
		}
		return nil, storage.FileInfo{}, fmt.Errorf("failed to open file: %w", err)
	}

	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, storage.FileInfo{}, fmt.Errorf("failed to stat file: %w", err)
	}

	contentType := mime.TypeByExtension(filepath.Ext(filePath))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	return file, storage.FileInfo{
		ID:          id,
		Path:        filePath,
		ContentType: contentType,
		Size:        stat.Size(),
	}, nil
}

func (s *LocalStorage) Delete(ctx context.Context, id string) error {
	filePath, err := s.path(id)
	if err != nil {
		return err
	}
	if err := os.Remove(filePath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

// path rejects ids that would escape the base directory.
func (s *LocalStorage) path(id string) (string, error) {
	if id == "" || id != filepath.Base(id) || id == "." || id == ".." {
		return "", storage.ErrNotFound
	}
	return filepath.Join(s.baseDir, id), nil
}
