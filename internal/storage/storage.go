package storage

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"unicode"
)

var ErrNotFound = errors.New("file not found")

type SaveOptions struct {
	// Prefix groups files of one request, usually the request id.
	Prefix       string
	ContentType  string
	OriginalName string
}

type FileInfo struct {
	ID          string
	Path        string
	ContentType string
	Size        int64
	URL         string
}

type Storage interface {
	Save(ctx context.Context, r io.Reader, opts SaveOptions) (FileInfo, error)
	Open(ctx context.Context, id string) (io.ReadCloser, FileInfo, error)
	Delete(ctx context.Context, id string) error
}

// SafeName keeps letters, digits, '.', '_' and '-' of name and replaces
// everything else with '_'. The result is at most maxLen runes; maxLen <= 0
// means no limit.
func SafeName(name string, maxLen int) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" {
		name = ""
	}

	var sb strings.Builder
	n := 0
	for _, r := range name {
		if maxLen > 0 && n >= maxLen {
			break
		}
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '.' || r == '_' || r == '-' {
			sb.WriteRune(r)
		} else {
			sb.WriteRune('_')
		}
		n++
	}
	if sb.Len() == 0 {
		return "file"
	}
	return sb.String()
}
