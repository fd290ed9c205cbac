package local

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/eztalk/eztalk-proxy/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLocalStorageCreatesDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "uploads")

	s, err := NewLocalStorage(dir)
	require.NoError(t, err)
	assert.Equal(t, dir, s.Dir())

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Equal(t, os.FileMode(0o750), info.Mode().Perm())
}

func TestLocalStorageRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	info, err := s.Save(ctx, strings.NewReader("hello"), storage.SaveOptions{
		Prefix:       "rid1",
		ContentType:  "text/plain",
		OriginalName: "my notes.txt",
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(info.ID, "rid1-"))
	assert.True(t, strings.HasSuffix(info.ID, "-my_notes.txt"))
	assert.Equal(t, int64(5), info.Size)
	assert.Equal(t, filepath.Join(s.Dir(), info.ID), info.Path)

	rc, opened, err := s.Open(ctx, info.ID)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "hello", string(data))
	assert.True(t, strings.HasPrefix(opened.ContentType, "text/plain"))

	require.NoError(t, s.Delete(ctx, info.ID))
	_, err = os.Stat(info.Path)
	assert.True(t, errors.Is(err, os.ErrNotExist))

	assert.ErrorIs(t, s.Delete(ctx, info.ID), storage.ErrNotFound)
	_, _, err = s.Open(ctx, info.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestLocalStorageRejectsTraversal(t *testing.T) {
	s, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	_, _, err = s.Open(context.Background(), "../secret")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.ErrorIs(t, s.Delete(context.Background(), ".."), storage.ErrNotFound)
}
